package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/observe"
)

// RecipientCache drops cached recipient maps when a call's membership
// changes, so in-flight utterances do not fan out to a stale participant
// list. Satisfied by [callstate.Resolver].
type RecipientCache interface {
	Invalidate(callID string)
}

// Manager owns the mapping from (call, user) to live session and implements
// the reconnect grace window: a participant whose connection drops without an
// explicit leave keeps their slot for a short period, and reconnecting within
// it resumes the call without a leave/join cycle. Safe for concurrent use.
type Manager struct {
	grace    time.Duration
	producer Producer
	store    callstate.Store
	controls ControlPublisher
	targets  RecipientCache
	metrics  *observe.Metrics
	log      *slog.Logger

	mu    sync.Mutex
	slots map[slotKey]*slot
}

type slotKey struct {
	callID string
	userID string
}

type slot struct {
	session *Session
	grace   *time.Timer // non-nil while the slot waits for a reconnect
}

// NewManager creates a Manager. grace <= 0 disables the reconnect window;
// disconnects then leave immediately. targets may be nil.
func NewManager(grace time.Duration, producer Producer, store callstate.Store, controls ControlPublisher, targets RecipientCache, metrics *observe.Metrics, log *slog.Logger) *Manager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		grace:    grace,
		producer: producer,
		store:    store,
		controls: controls,
		targets:  targets,
		metrics:  metrics,
		log:      log,
		slots:    make(map[slotKey]*slot),
	}
}

// Attach claims the (call, user) slot for s. It reports whether s resumed a
// slot held open by the grace window. An older live session on the same slot
// is displaced: its connection closes and the new one takes over.
func (m *Manager) Attach(ctx context.Context, s *Session) (reconnected bool) {
	key := slotKey{s.CallID, s.UserID}

	m.mu.Lock()
	old, ok := m.slots[key]
	if ok {
		if old.grace != nil {
			old.grace.Stop()
			reconnected = true
		} else if old.session != nil {
			// Same user connecting twice: the newer connection wins.
			old.session.markLeft()
			old.session.closeConn(4000, "superseded by a new connection")
			reconnected = true
		}
	}
	m.slots[key] = &slot{session: s}
	m.mu.Unlock()

	if err := m.store.SetConnected(ctx, s.CallID, s.UserID, true); err != nil {
		m.log.Error("mark connected failed",
			"call_id", s.CallID, "user_id", s.UserID, "error", err)
	}
	if m.targets != nil {
		m.targets.Invalidate(s.CallID)
	}
	m.metrics.ActiveSessions.Add(ctx, 1)
	return reconnected
}

// Detach releases s's slot. An explicit leave (s.Left()) finalizes
// immediately; an abrupt drop arms the grace timer instead, and the
// participant leaves the call only if no reconnect claims the slot in time.
func (m *Manager) Detach(ctx context.Context, s *Session) {
	key := slotKey{s.CallID, s.UserID}
	m.metrics.ActiveSessions.Add(ctx, -1)

	m.mu.Lock()
	sl, ok := m.slots[key]
	if !ok || sl.session != s {
		// The slot has already been taken over by a newer session.
		m.mu.Unlock()
		return
	}

	if s.Left() || m.grace <= 0 {
		delete(m.slots, key)
		m.mu.Unlock()
		m.finalize(ctx, s)
		return
	}

	sl.session = nil
	sl.grace = time.AfterFunc(m.grace, func() {
		m.expireSlot(key, s)
	})
	m.mu.Unlock()

	m.log.Info("session dropped, holding slot for reconnect",
		"session_id", s.ID, "call_id", s.CallID, "user_id", s.UserID, "grace", m.grace)
}

// Pending reports whether the (call, user) slot is waiting out a grace
// window. Intended for tests and introspection.
func (m *Manager) Pending(callID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[slotKey{callID, userID}]
	return ok && sl.grace != nil
}

func (m *Manager) expireSlot(key slotKey, s *Session) {
	m.mu.Lock()
	sl, ok := m.slots[key]
	if !ok || sl.grace == nil {
		// A reconnect won the race.
		m.mu.Unlock()
		return
	}
	delete(m.slots, key)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.log.Info("reconnect grace expired",
		"session_id", s.ID, "call_id", s.CallID, "user_id", s.UserID)
	m.finalize(ctx, s)
}

// finalize removes the participant from the call: the ingest stream gets the
// end-of-session marker so the worker flushes, call state records the leave,
// and the other participants are told.
func (m *Manager) finalize(ctx context.Context, s *Session) {
	if err := m.producer.EndSession(ctx, s.ID, s.CallID, s.UserID); err != nil {
		m.log.Error("end session failed", "session_id", s.ID, "error", err)
	}
	if err := m.store.Leave(ctx, s.CallID, s.UserID); err != nil {
		m.log.Error("leave failed",
			"call_id", s.CallID, "user_id", s.UserID, "error", err)
	}
	if m.targets != nil {
		m.targets.Invalidate(s.CallID)
	}
	err := m.controls.PublishControl(ctx, deliver.ControlEvent{
		Event:  deliver.EventParticipantLeft,
		CallID: s.CallID,
		UserID: s.UserID,
	})
	if err != nil {
		m.log.Error("leave broadcast failed",
			"call_id", s.CallID, "user_id", s.UserID, "error", err)
	}
}
