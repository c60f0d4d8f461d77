package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/vocero-ai/vocero/pkg/types"
)

// Client-to-server message types. A participant's spoken language is fixed at
// join time; changing it means leaving and rejoining with a fresh token.
const (
	MsgHeartbeat = "heartbeat"
	MsgMute      = "mute"
	MsgLeave     = "leave"
)

// Server-to-client message types.
const (
	MsgConnected         = "connected"
	MsgHeartbeatAck      = "heartbeat_ack"
	MsgTranslation       = "translation"
	MsgInterim           = "interim_transcript"
	MsgParticipantJoined = "participant_joined"
	MsgParticipantLeft   = "participant_left"
	MsgMuteStatusChanged = "mute_status_changed"
	MsgCallEnded         = "call_ended"
	MsgError             = "error"
)

// ClientMessage is any JSON text frame sent by a client. Unused fields are
// ignored for the message types that do not carry them.
type ClientMessage struct {
	Type  string `json:"type"`
	Muted bool   `json:"muted,omitempty"`
}

// ParseClientMessage decodes and validates one inbound text frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("gateway: parse client message: %w", err)
	}
	switch msg.Type {
	case MsgHeartbeat, MsgMute, MsgLeave:
	default:
		return ClientMessage{}, fmt.Errorf("gateway: unknown client message type %q", msg.Type)
	}
	return msg, nil
}

// ConnectedMessage is the first frame sent after a successful join or
// reconnect.
type ConnectedMessage struct {
	Type                string `json:"type"`
	SessionID           string `json:"session_id"`
	CallID              string `json:"call_id"`
	UserID              string `json:"user_id"`
	CallLanguage        string `json:"call_language"`
	Reconnected         bool   `json:"reconnected,omitempty"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`
}

// CaptionMessage announces one rendition to one recipient. When AudioBytes is
// non-zero the very next binary frame on the connection carries that many
// bytes of 16 kHz mono int16 PCM for this caption.
type CaptionMessage struct {
	Type         string          `json:"type"`
	UtteranceID  string          `json:"utterance_id"`
	CallID       string          `json:"call_id"`
	SpeakerID    string          `json:"speaker_id"`
	SourceLang   string          `json:"source_lang"`
	TargetLang   string          `json:"target_lang"`
	OriginalText string          `json:"original_text"`
	Text         string          `json:"text"`
	TimestampMS  int64           `json:"timestamp_ms"`
	TTSMethod    types.TTSMethod `json:"tts_method"`
	AudioBytes   int             `json:"audio_bytes"`
}

// InterimMessage carries the speaker's recognized text in the source
// language, ahead of the translated caption. IsFinal is always false; the
// final text arrives as a translation message.
type InterimMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	SourceLang string  `json:"source_lang"`
	SpeakerID  string  `json:"speaker_id"`
	Confidence float64 `json:"confidence"`
}

// ParticipantMessage announces a membership change on the call.
type ParticipantMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Lang   string `json:"lang,omitempty"`
}

// MuteStatusMessage announces a participant's mute toggle.
type MuteStatusMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Muted  bool   `json:"muted"`
}

// CallEndedMessage tells the client the call reached a terminal state; the
// connection closes right after it.
type CallEndedMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// AckMessage answers a client heartbeat.
type AckMessage struct {
	Type string `json:"type"`
}

// ErrorMessage reports a recoverable protocol error to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newCaption builds the caption frame for one recipient's rendition of a
// translation result.
func newCaption(result types.TranslationResult, r types.Rendition) CaptionMessage {
	return CaptionMessage{
		Type:         MsgTranslation,
		UtteranceID:  result.UtteranceID,
		CallID:       result.CallID,
		SpeakerID:    result.SpeakerID,
		SourceLang:   result.SourceLang,
		TargetLang:   r.TargetLang,
		OriginalText: result.OriginalText,
		Text:         r.Text,
		TimestampMS:  result.TimestampMS,
		TTSMethod:    r.TTSMethod,
		AudioBytes:   len(r.Audio),
	}
}

// renditionFor selects the rendition of result addressed to userID, if any.
func renditionFor(result types.TranslationResult, userID string) (types.Rendition, bool) {
	for _, r := range result.Renditions {
		for _, id := range r.RecipientIDs {
			if id == userID {
				return r, true
			}
		}
	}
	return types.Rendition{}, false
}
