package callstate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vocero-ai/vocero/pkg/lang"
	"github.com/vocero-ai/vocero/pkg/types"
)

// Target is one delivery target for an utterance: a language rendition and
// the users who should receive it.
type Target struct {
	// Lang is the canonical target language tag.
	Lang string

	// UserIDs lists the recipients for this language, sorted for determinism.
	UserIDs []string

	// Dubbed reports whether at least one recipient wants synthesized audio.
	// When false the rendition carries text only.
	Dubbed bool
}

// ComputeTargets groups a call's active participants by canonical spoken
// language from the point of view of speakerID. Participants who have left
// are excluded; the speaker is excluded unless includeSpeaker is set.
// Recipients whose language matches the source still get a target (they
// receive the original text) and that target is dubbed only if one of them
// requires dubbing.
//
// Returned targets are sorted by language so fan-out order is deterministic.
func ComputeTargets(participants []types.Participant, speakerID string, includeSpeaker bool) []Target {
	byLang := make(map[string]*Target)
	for _, p := range participants {
		if p.Left() {
			continue
		}
		if p.UserID == speakerID && !includeSpeaker {
			continue
		}
		tag := lang.Canonical(p.SpokenLang)
		t, ok := byLang[tag]
		if !ok {
			t = &Target{Lang: tag}
			byLang[tag] = t
		}
		t.UserIDs = append(t.UserIDs, p.UserID)
		if p.DubbingRequired {
			t.Dubbed = true
		}
	}

	targets := make([]Target, 0, len(byLang))
	for _, t := range byLang {
		sort.Strings(t.UserIDs)
		targets = append(targets, *t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Lang < targets[j].Lang })
	return targets
}

// DefaultTargetsTTL bounds how stale a cached recipient map may be. Joins and
// leaves invalidate eagerly; the TTL only covers changes made by other nodes.
const DefaultTargetsTTL = 2 * time.Second

// Resolver computes recipient maps from a Store with a short per-call cache,
// so the hot path (one lookup per utterance) does not hit the database for
// every segment of continuous speech. Safe for concurrent use.
type Resolver struct {
	store Store
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cachedParticipants
}

type cachedParticipants struct {
	parts   []types.Participant
	fetched time.Time
}

// NewResolver creates a Resolver over store. A non-positive ttl selects
// [DefaultTargetsTTL].
func NewResolver(store Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTargetsTTL
	}
	return &Resolver{
		store: store,
		ttl:   ttl,
		cache: make(map[string]cachedParticipants),
	}
}

// Targets returns the recipient map for an utterance by speakerID on callID.
func (r *Resolver) Targets(ctx context.Context, callID, speakerID string, includeSpeaker bool) ([]Target, error) {
	parts, err := r.participants(ctx, callID)
	if err != nil {
		return nil, err
	}
	return ComputeTargets(parts, speakerID, includeSpeaker), nil
}

// Participant returns the cached participant record for userID on callID, or
// ErrParticipantNotFound.
func (r *Resolver) Participant(ctx context.Context, callID, userID string) (types.Participant, error) {
	parts, err := r.participants(ctx, callID)
	if err != nil {
		return types.Participant{}, err
	}
	for _, p := range parts {
		if p.UserID == userID {
			return p, nil
		}
	}
	return types.Participant{}, ErrParticipantNotFound
}

// Invalidate drops the cached participant list for callID. Call it after any
// membership or language change so the next utterance sees fresh state.
func (r *Resolver) Invalidate(callID string) {
	r.mu.Lock()
	delete(r.cache, callID)
	r.mu.Unlock()
}

func (r *Resolver) participants(ctx context.Context, callID string) ([]types.Participant, error) {
	r.mu.Lock()
	if c, ok := r.cache[callID]; ok && time.Since(c.fetched) < r.ttl {
		parts := c.parts
		r.mu.Unlock()
		return parts, nil
	}
	r.mu.Unlock()

	parts, err := r.store.Participants(ctx, callID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[callID] = cachedParticipants{parts: parts, fetched: time.Now()}
	r.mu.Unlock()
	return parts, nil
}
