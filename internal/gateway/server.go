package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/pkg/lang"
	"github.com/vocero-ai/vocero/pkg/types"
)

// maxInboundFrame bounds inbound websocket frames. Audio frames are a few KiB;
// anything near this limit is a misbehaving client.
const maxInboundFrame = 1 << 20

// Claims is the authenticated identity carried by a session token.
type Claims struct {
	CallID          string
	UserID          string
	SpokenLang      string
	DubbingRequired bool
	VoiceProfile    string
	VoiceScore      float64
}

// Authenticator validates session tokens. Implementations must be safe for
// concurrent use.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Claims, error)
}

// ErrInvalidToken is returned by authenticators for unknown or expired tokens.
var ErrInvalidToken = errors.New("gateway: invalid token")

// StaticAuthenticator maps fixed tokens to claims. Intended for development
// and tests.
type StaticAuthenticator map[string]Claims

// Authenticate implements [Authenticator].
func (a StaticAuthenticator) Authenticate(_ context.Context, token string) (Claims, error) {
	claims, ok := a[token]
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// ResultBus is the delivery-bus surface the server needs.
type ResultBus interface {
	Subscribe(ctx context.Context, callID string) *deliver.Subscription
	PublishControl(ctx context.Context, event deliver.ControlEvent) error
}

// ServerConfig wires a Server.
type ServerConfig struct {
	// Auth validates the token query parameter on every connection.
	Auth Authenticator

	// Producer receives inbound PCM frames.
	Producer Producer

	// Store is the call-state backend.
	Store callstate.Store

	// Bus delivers results and control events.
	Bus ResultBus

	// Targets is the pipeline's recipient-map cache; attaches and leaves
	// invalidate it so fan-out sees membership changes immediately. May be
	// nil when the gateway and pipeline run in separate processes.
	Targets RecipientCache

	// Session protocol knobs.
	HeartbeatIntervalMS int
	HeartbeatTimeout    time.Duration
	ReconnectGrace      time.Duration
	MinFrameBytes       int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Server accepts websocket connections on /stream/{session_id} and runs one
// Session per connection.
type Server struct {
	cfg     ServerConfig
	manager *Manager
	metrics *observe.Metrics
	log     *slog.Logger
}

// NewServer creates a Server from cfg.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		manager: NewManager(cfg.ReconnectGrace, cfg.Producer, cfg.Store, cfg.Bus, cfg.Targets, cfg.Metrics, cfg.Logger),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/{session_id}", s.handleStream)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	claims, err := s.cfg.Auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	call, err := s.cfg.Store.GetCall(r.Context(), claims.CallID)
	if err != nil {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	if call.Status.Terminal() {
		http.Error(w, "call has ended", http.StatusGone)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	conn.SetReadLimit(maxInboundFrame)

	s.serve(r.Context(), sessionID, claims, call, conn)
}

// serve runs one session to completion. The connection is always closed by
// the time it returns.
func (s *Server) serve(ctx context.Context, sessionID string, claims Claims, call callstate.Call, conn *websocket.Conn) {
	spokenLang := lang.Canonical(claims.SpokenLang)

	err := s.cfg.Store.Join(ctx, types.Participant{
		CallID:          claims.CallID,
		UserID:          claims.UserID,
		SpokenLang:      spokenLang,
		DubbingRequired: claims.DubbingRequired,
		VoiceProfile:    claims.VoiceProfile,
		VoiceScore:      claims.VoiceScore,
		Connected:       true,
	})
	if err != nil {
		s.log.Warn("join rejected",
			"session_id", sessionID, "call_id", claims.CallID, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "join rejected")
		return
	}

	sub := s.cfg.Bus.Subscribe(ctx, claims.CallID)
	defer sub.Close()

	session := NewSession(sessionID, claims.CallID, claims.UserID, spokenLang, conn, sub.C(),
		SessionConfig{
			HeartbeatIntervalMS: s.cfg.HeartbeatIntervalMS,
			HeartbeatTimeout:    s.cfg.HeartbeatTimeout,
			MinFrameBytes:       s.cfg.MinFrameBytes,
		},
		SessionDeps{
			Producer: s.cfg.Producer,
			Store:    s.cfg.Store,
			Controls: s.cfg.Bus,
			Metrics:  s.metrics,
			Logger:   s.log,
		})

	reconnected := s.manager.Attach(ctx, session)
	session.writeJSON(ctx, ConnectedMessage{
		Type:                MsgConnected,
		SessionID:           sessionID,
		CallID:              claims.CallID,
		UserID:              claims.UserID,
		CallLanguage:        call.Language,
		Reconnected:         reconnected,
		HeartbeatIntervalMS: s.cfg.HeartbeatIntervalMS,
	})
	if !reconnected {
		err := s.cfg.Bus.PublishControl(ctx, deliver.ControlEvent{
			Event:  deliver.EventParticipantJoined,
			CallID: claims.CallID,
			UserID: claims.UserID,
			Lang:   spokenLang,
		})
		if err != nil {
			s.log.Error("join broadcast failed",
				"call_id", claims.CallID, "user_id", claims.UserID, "error", err)
		}
	}

	s.log.Info("session started",
		"session_id", sessionID, "call_id", claims.CallID,
		"user_id", claims.UserID, "lang", spokenLang, "reconnected", reconnected)

	if err := session.Run(ctx); err != nil {
		s.log.Warn("session ended abnormally", "session_id", sessionID, "error", err)
	}
	s.manager.Detach(context.WithoutCancel(ctx), session)
	s.log.Info("session finished", "session_id", sessionID, "left", session.Left())
}
