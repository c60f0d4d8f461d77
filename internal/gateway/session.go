// Package gateway terminates client websocket connections: it authenticates
// each session, pushes inbound PCM onto the ingest stream, and relays
// translation results and control events from the delivery bus back to the
// client. One connection carries exactly one participant of one call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/pkg/types"
)

// State is a session's lifecycle position.
type State int32

const (
	// StateJoined means the session is live: pumps running, audio flowing.
	StateJoined State = iota

	// StateClosing means teardown has begun; no further frames are accepted.
	StateClosing

	// StateClosed means both pumps have exited and the connection is gone.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Producer is the session's sink for inbound PCM frames.
type Producer interface {
	Publish(ctx context.Context, chunk types.PCMChunk) error
	EndSession(ctx context.Context, sessionID, callID, speakerID string) error
}

// ControlPublisher broadcasts membership changes to every session on a call.
type ControlPublisher interface {
	PublishControl(ctx context.Context, event deliver.ControlEvent) error
}

// SessionConfig tunes one session's protocol behavior.
type SessionConfig struct {
	// HeartbeatIntervalMS is advertised to the client in the connected frame.
	HeartbeatIntervalMS int

	// HeartbeatTimeout tears the session down when no heartbeat (or any other
	// frame) arrives for this long.
	HeartbeatTimeout time.Duration

	// MinFrameBytes drops shorter binary frames as presumed noise.
	MinFrameBytes int
}

// SessionDeps are the shared collaborators a session needs.
type SessionDeps struct {
	Producer Producer
	Store    callstate.Store
	Controls ControlPublisher
	Metrics  *observe.Metrics
	Logger   *slog.Logger
}

// Session is one participant's live connection. Create with NewSession and
// drive with Run; all other exported methods are safe to call concurrently
// with Run.
type Session struct {
	ID     string
	CallID string
	UserID string
	Lang   string

	conn      *websocket.Conn
	cfg       SessionConfig
	deps      SessionDeps
	envelopes <-chan deliver.Envelope

	state    atomic.Int32
	lastBeat atomic.Int64 // unix nanos of the last inbound frame
	muted    atomic.Bool
	seq      atomic.Uint64

	writeMu sync.Mutex
	dedupe  *dedupe

	closeOnce sync.Once
	done      chan struct{}
	leftCh    chan struct{} // closed when the client leaves explicitly
	leftOnce  sync.Once
}

// NewSession wires a session over an accepted websocket connection and a live
// bus subscription.
func NewSession(id, callID, userID, lang string, conn *websocket.Conn, envelopes <-chan deliver.Envelope, cfg SessionConfig, deps SessionDeps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		ID:        id,
		CallID:    callID,
		UserID:    userID,
		Lang:      lang,
		conn:      conn,
		cfg:       cfg,
		deps:      deps,
		envelopes: envelopes,
		dedupe:    newDedupe(),
		done:      make(chan struct{}),
		leftCh:    make(chan struct{}),
	}
	s.lastBeat.Store(time.Now().UnixNano())
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Left reports whether the client ended the session deliberately (an explicit
// leave, or the call ending). A session that is gone without leaving is a
// candidate for the reconnect grace window.
func (s *Session) Left() bool {
	select {
	case <-s.leftCh:
		return true
	default:
		return false
	}
}

// Run drives the session until the connection drops, the client leaves, the
// call ends, or ctx is cancelled. It returns nil for deliberate closes and
// the transport error otherwise.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.outboundPump(ctx)
	}()
	go func() {
		defer wg.Done()
		s.watchHeartbeat(ctx)
	}()

	err := s.inboundPump(ctx)

	s.state.Store(int32(StateClosing))
	cancel()
	s.closeConn(websocket.StatusNormalClosure, "session closed")
	wg.Wait()
	s.state.Store(int32(StateClosed))

	if s.Left() || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// inboundPump reads client frames: binary PCM goes to the ingest stream,
// text frames carry the control protocol.
func (s *Session) inboundPump(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("gateway: session %s read: %w", s.ID, err)
		}
		s.lastBeat.Store(time.Now().UnixNano())

		switch typ {
		case websocket.MessageBinary:
			s.handleAudio(ctx, data)
		case websocket.MessageText:
			left, err := s.handleControl(ctx, data)
			if err != nil {
				s.writeError(ctx, "bad_message", err.Error())
				continue
			}
			if left {
				s.markLeft()
				return nil
			}
		}
	}
}

func (s *Session) handleAudio(ctx context.Context, data []byte) {
	if len(data) < s.cfg.MinFrameBytes {
		s.deps.Metrics.RecordDroppedFrames(ctx, 1, "too_short", s.ID)
		return
	}
	if s.muted.Load() {
		s.deps.Metrics.RecordDroppedFrames(ctx, 1, "muted", s.ID)
		return
	}

	chunk := types.PCMChunk{
		SessionID:  s.ID,
		CallID:     s.CallID,
		SpeakerID:  s.UserID,
		SourceLang: s.Lang,
		Seq:        s.seq.Add(1),
		Data:       data,
		EnqueuedAt: time.Now(),
	}
	if err := s.deps.Producer.Publish(ctx, chunk); err != nil {
		s.deps.Logger.Error("frame publish failed",
			"session_id", s.ID, "seq", chunk.Seq, "error", err)
	}
}

func (s *Session) handleControl(ctx context.Context, data []byte) (left bool, err error) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		return false, err
	}

	switch msg.Type {
	case MsgHeartbeat:
		s.writeJSON(ctx, AckMessage{Type: MsgHeartbeatAck})
		return false, nil

	case MsgMute:
		if err := s.deps.Store.SetMuted(ctx, s.CallID, s.UserID, msg.Muted); err != nil {
			return false, fmt.Errorf("gateway: set muted: %w", err)
		}
		s.muted.Store(msg.Muted)
		event := deliver.EventParticipantMuted
		if !msg.Muted {
			event = deliver.EventParticipantUnmute
		}
		s.publishControl(ctx, event, "")
		return false, nil

	case MsgLeave:
		return true, nil
	}
	return false, nil
}

// outboundPump relays bus envelopes to the client: the caption frame first,
// then the synthesized audio as one binary frame.
func (s *Session) outboundPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.envelopes:
			if !ok {
				return
			}
			switch env.Kind {
			case deliver.KindTranslation:
				if env.Translation != nil {
					s.deliverTranslation(ctx, *env.Translation)
				}
			case deliver.KindInterim:
				if env.Interim != nil && env.Interim.SpeakerID != s.UserID {
					s.writeJSON(ctx, InterimMessage{
						Type:       MsgInterim,
						Text:       env.Interim.Text,
						SourceLang: env.Interim.SourceLang,
						SpeakerID:  env.Interim.SpeakerID,
						Confidence: env.Interim.Confidence,
					})
				}
			case deliver.KindControl:
				if env.Control != nil {
					if s.deliverControl(ctx, *env.Control) {
						s.markLeft()
						s.closeConn(websocket.StatusNormalClosure, "call ended")
						return
					}
				}
			}
		}
	}
}

func (s *Session) deliverTranslation(ctx context.Context, result types.TranslationResult) {
	rendition, ok := renditionFor(result, s.UserID)
	if !ok {
		return
	}
	if s.dedupe.Seen(result.UtteranceID) {
		return
	}

	caption := newCaption(result, rendition)

	// Caption and audio must land back to back; other writers wait.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, err := json.Marshal(caption)
	if err != nil {
		s.deps.Logger.Error("caption marshal failed", "session_id", s.ID, "error", err)
		return
	}
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return
	}
	if len(rendition.Audio) > 0 {
		_ = s.conn.Write(ctx, websocket.MessageBinary, rendition.Audio)
	}
}

// deliverControl relays a control event and reports whether the session must
// close because the call ended.
func (s *Session) deliverControl(ctx context.Context, event deliver.ControlEvent) (callEnded bool) {
	switch event.Event {
	case deliver.EventCallEnded:
		s.writeJSON(ctx, CallEndedMessage{Type: MsgCallEnded, Reason: event.Reason})
		return true
	case deliver.EventParticipantMuted, deliver.EventParticipantUnmute:
		if event.UserID == s.UserID {
			return false // no echo of one's own membership changes
		}
		s.writeJSON(ctx, MuteStatusMessage{
			Type:   MsgMuteStatusChanged,
			UserID: event.UserID,
			Muted:  event.Event == deliver.EventParticipantMuted,
		})
	case deliver.EventParticipantJoined, deliver.EventParticipantLeft:
		if event.UserID == s.UserID {
			return false
		}
		s.writeJSON(ctx, ParticipantMessage{Type: event.Event, UserID: event.UserID, Lang: event.Lang})
	}
	return false
}

// watchHeartbeat closes the connection when the client goes silent for longer
// than the heartbeat timeout.
func (s *Session) watchHeartbeat(ctx context.Context) {
	if s.cfg.HeartbeatTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.HeartbeatTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastBeat.Load())
			if time.Since(last) > s.cfg.HeartbeatTimeout {
				s.deps.Logger.Warn("session heartbeat timeout",
					"session_id", s.ID, "last_seen", last)
				s.closeConn(websocket.StatusPolicyViolation, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *Session) publishControl(ctx context.Context, event, lang string) {
	err := s.deps.Controls.PublishControl(ctx, deliver.ControlEvent{
		Event:  event,
		CallID: s.CallID,
		UserID: s.UserID,
		Lang:   lang,
	})
	if err != nil {
		s.deps.Logger.Error("control publish failed",
			"session_id", s.ID, "event", event, "error", err)
	}
}

func (s *Session) writeJSON(ctx context.Context, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.deps.Logger.Error("message marshal failed", "session_id", s.ID, "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.Write(ctx, websocket.MessageText, payload)
}

func (s *Session) writeError(ctx context.Context, code, message string) {
	s.writeJSON(ctx, ErrorMessage{Type: MsgError, Code: code, Message: message})
}

func (s *Session) markLeft() {
	s.leftOnce.Do(func() { close(s.leftCh) })
}

func (s *Session) closeConn(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close(code, reason)
		}
		close(s.done)
	})
}

func (s *Session) shutdown() {
	s.closeConn(websocket.StatusNormalClosure, "session closed")
}
