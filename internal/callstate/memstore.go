package callstate

import (
	"context"
	"sync"
	"time"

	"github.com/vocero-ai/vocero/pkg/lang"
	"github.com/vocero-ai/vocero/pkg/types"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for tests and single-node development runs.
// Safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	calls map[string]*memCall
}

type memCall struct {
	call  Call
	parts map[string]*types.Participant
	order []string // join order
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{calls: make(map[string]*memCall)}
}

// CreateCall implements [Store].
func (s *MemStore) CreateCall(_ context.Context, callID, callLanguage string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Call{
		ID:        callID,
		Status:    types.CallInitiating,
		Language:  lang.Canonical(callLanguage),
		CreatedAt: time.Now(),
	}
	s.calls[callID] = &memCall{call: c, parts: make(map[string]*types.Participant)}
	return c, nil
}

// GetCall implements [Store].
func (s *MemStore) GetCall(_ context.Context, callID string) (Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.calls[callID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	return mc.call, nil
}

// SetStatus implements [Store].
func (s *MemStore) SetStatus(_ context.Context, callID string, status types.CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	if mc.call.Status.Terminal() {
		return ErrCallEnded
	}
	mc.call.Status = status
	switch {
	case status == types.CallOngoing && mc.call.StartedAt.IsZero():
		mc.call.StartedAt = time.Now()
	case status.Terminal():
		mc.call.EndedAt = time.Now()
	}
	return nil
}

// Join implements [Store].
func (s *MemStore) Join(_ context.Context, p types.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.calls[p.CallID]
	if !ok {
		return ErrCallNotFound
	}
	if mc.call.Status.Terminal() {
		return ErrCallEnded
	}

	p.SpokenLang = lang.Canonical(p.SpokenLang)
	if p.VoiceProfile == "" {
		p.VoiceProfile = types.DefaultVoiceProfile
	}
	if existing, ok := mc.parts[p.UserID]; ok {
		p.JoinedAt = existing.JoinedAt
		p.LeftAt = time.Time{}
		*existing = p
		return nil
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	mc.parts[p.UserID] = &p
	mc.order = append(mc.order, p.UserID)
	return nil
}

// Leave implements [Store].
func (s *MemStore) Leave(_ context.Context, callID, userID string) error {
	return s.update(callID, userID, func(p *types.Participant) {
		p.LeftAt = time.Now()
		p.Connected = false
	})
}

// SetMuted implements [Store].
func (s *MemStore) SetMuted(_ context.Context, callID, userID string, muted bool) error {
	return s.update(callID, userID, func(p *types.Participant) { p.Muted = muted })
}

// SetConnected implements [Store].
func (s *MemStore) SetConnected(_ context.Context, callID, userID string, connected bool) error {
	return s.update(callID, userID, func(p *types.Participant) { p.Connected = connected })
}

// Participants implements [Store].
func (s *MemStore) Participants(_ context.Context, callID string) ([]types.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mc, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	out := make([]types.Participant, 0, len(mc.order))
	for _, id := range mc.order {
		out = append(out, *mc.parts[id])
	}
	return out, nil
}

func (s *MemStore) update(callID, userID string, fn func(*types.Participant)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	p, ok := mc.parts[userID]
	if !ok || p.Left() {
		return ErrParticipantNotFound
	}
	fn(p)
	return nil
}
