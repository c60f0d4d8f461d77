package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// tokenPayload is the signed portion of a session token.
type tokenPayload struct {
	CallID          string  `json:"call_id"`
	UserID          string  `json:"user_id"`
	SpokenLang      string  `json:"spoken_lang"`
	DubbingRequired bool    `json:"dubbing_required"`
	VoiceProfile    string  `json:"voice_profile,omitempty"`
	VoiceScore      float64 `json:"voice_score,omitempty"`
	ExpiresAt       int64   `json:"exp"`
}

// HMACAuthenticator validates tokens minted by the signaling service with a
// shared secret. A token is base64url(payload) + "." + base64url(hmac-sha256).
type HMACAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewHMACAuthenticator creates an authenticator over the shared secret.
func NewHMACAuthenticator(secret []byte) (*HMACAuthenticator, error) {
	if len(secret) == 0 {
		return nil, errors.New("gateway: token secret must not be empty")
	}
	return &HMACAuthenticator{secret: secret, now: time.Now}, nil
}

// MintToken signs claims into a token valid for ttl. Used by the signaling
// service and by tests.
func (a *HMACAuthenticator) MintToken(claims Claims, ttl time.Duration) (string, error) {
	payload, err := json.Marshal(tokenPayload{
		CallID:          claims.CallID,
		UserID:          claims.UserID,
		SpokenLang:      claims.SpokenLang,
		DubbingRequired: claims.DubbingRequired,
		VoiceProfile:    claims.VoiceProfile,
		VoiceScore:      claims.VoiceScore,
		ExpiresAt:       a.now().Add(ttl).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("gateway: mint token: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + a.sign(body), nil
}

// Authenticate implements [Authenticator].
func (a *HMACAuthenticator) Authenticate(_ context.Context, token string) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(a.sign(body)), []byte(sig)) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if payload.CallID == "" || payload.UserID == "" || payload.SpokenLang == "" {
		return Claims{}, ErrInvalidToken
	}
	if payload.ExpiresAt != 0 && a.now().Unix() > payload.ExpiresAt {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		CallID:          payload.CallID,
		UserID:          payload.UserID,
		SpokenLang:      payload.SpokenLang,
		DubbingRequired: payload.DubbingRequired,
		VoiceProfile:    payload.VoiceProfile,
		VoiceScore:      payload.VoiceScore,
	}, nil
}

func (a *HMACAuthenticator) sign(body string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
