package callstate

import (
	"context"
	"testing"
	"time"

	"github.com/vocero-ai/vocero/pkg/types"
)

func part(userID, spokenLang string, dubbing bool) types.Participant {
	return types.Participant{
		CallID:          "call-1",
		UserID:          userID,
		SpokenLang:      spokenLang,
		DubbingRequired: dubbing,
		JoinedAt:        time.Now(),
	}
}

// ── ComputeTargets ──────────────────────────────────────────────────────────

func TestComputeTargetsGroupsByLanguage(t *testing.T) {
	t.Parallel()

	parts := []types.Participant{
		part("alice", "he", true),   // speaker
		part("boris", "ru-RU", true),
		part("dina", "ru", true),
		part("carol", "en", false),
	}

	targets := ComputeTargets(parts, "alice", false)
	if len(targets) != 2 {
		t.Fatalf("want 2 targets, got %d: %+v", len(targets), targets)
	}

	// Sorted by language: en-US before ru-RU.
	if targets[0].Lang != "en-US" || targets[1].Lang != "ru-RU" {
		t.Fatalf("want [en-US ru-RU], got [%s %s]", targets[0].Lang, targets[1].Lang)
	}
	if targets[0].Dubbed {
		t.Fatal("text-only recipient must not produce a dubbed target")
	}
	if !targets[1].Dubbed {
		t.Fatal("want ru-RU target dubbed")
	}
	if got := targets[1].UserIDs; len(got) != 2 || got[0] != "boris" || got[1] != "dina" {
		t.Fatalf("want ru-RU recipients [boris dina], got %v", got)
	}
}

func TestComputeTargetsExcludesSpeakerByDefault(t *testing.T) {
	t.Parallel()

	parts := []types.Participant{
		part("alice", "he-IL", true),
		part("boris", "he-IL", true),
	}

	targets := ComputeTargets(parts, "alice", false)
	if len(targets) != 1 {
		t.Fatalf("want 1 target, got %d", len(targets))
	}
	if got := targets[0].UserIDs; len(got) != 1 || got[0] != "boris" {
		t.Fatalf("want recipients [boris], got %v", got)
	}

	withSpeaker := ComputeTargets(parts, "alice", true)
	if got := withSpeaker[0].UserIDs; len(got) != 2 {
		t.Fatalf("want speaker included, got %v", got)
	}
}

func TestComputeTargetsExcludesLeftParticipants(t *testing.T) {
	t.Parallel()

	gone := part("gone", "en-US", true)
	gone.LeftAt = time.Now()

	targets := ComputeTargets([]types.Participant{part("alice", "he", true), gone}, "alice", false)
	if len(targets) != 0 {
		t.Fatalf("want no targets, got %+v", targets)
	}
}

func TestComputeTargetsSoloCall(t *testing.T) {
	t.Parallel()

	targets := ComputeTargets([]types.Participant{part("alice", "he", true)}, "alice", false)
	if len(targets) != 0 {
		t.Fatalf("want no targets for a solo speaker, got %+v", targets)
	}
}

// ── Resolver ────────────────────────────────────────────────────────────────

func TestResolverCachesAndInvalidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.Join(ctx, part("alice", "he", true)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := store.Join(ctx, part("boris", "ru", true)); err != nil {
		t.Fatalf("Join: %v", err)
	}

	r := NewResolver(store, time.Hour)

	targets, err := r.Targets(ctx, "call-1", "alice", false)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 1 || targets[0].Lang != "ru-RU" {
		t.Fatalf("want single ru-RU target, got %+v", targets)
	}

	// A join behind the resolver's back is invisible until invalidation.
	if err := store.Join(ctx, part("carol", "en", true)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	targets, err = r.Targets(ctx, "call-1", "alice", false)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("want stale cached single target, got %+v", targets)
	}

	r.Invalidate("call-1")
	targets, err = r.Targets(ctx, "call-1", "alice", false)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("want 2 targets after invalidation, got %+v", targets)
	}
}

func TestResolverParticipantLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.Join(ctx, part("alice", "he", true)); err != nil {
		t.Fatalf("Join: %v", err)
	}

	r := NewResolver(store, time.Hour)

	p, err := r.Participant(ctx, "call-1", "alice")
	if err != nil {
		t.Fatalf("Participant: %v", err)
	}
	if p.SpokenLang != "he-IL" {
		t.Fatalf("want canonical he-IL, got %q", p.SpokenLang)
	}

	if _, err := r.Participant(ctx, "call-1", "nobody"); err != ErrParticipantNotFound {
		t.Fatalf("want ErrParticipantNotFound, got %v", err)
	}
}

// ── MemStore lifecycle ──────────────────────────────────────────────────────

func TestMemStoreCallLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}

	if err := store.SetStatus(ctx, "call-1", types.CallRinging); err != nil {
		t.Fatalf("SetStatus ringing: %v", err)
	}
	if err := store.SetStatus(ctx, "call-1", types.CallOngoing); err != nil {
		t.Fatalf("SetStatus ongoing: %v", err)
	}

	c, err := store.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetCall: %v", err)
	}
	if c.StartedAt.IsZero() {
		t.Fatal("want StartedAt stamped on ongoing")
	}

	if err := store.SetStatus(ctx, "call-1", types.CallEnded); err != nil {
		t.Fatalf("SetStatus ended: %v", err)
	}
	if err := store.SetStatus(ctx, "call-1", types.CallOngoing); err != ErrCallEnded {
		t.Fatalf("want ErrCallEnded on terminal transition, got %v", err)
	}
	if err := store.Join(ctx, part("late", "en", true)); err != ErrCallEnded {
		t.Fatalf("want ErrCallEnded on post-end join, got %v", err)
	}
}

func TestMemStoreRejoinClearsLeftAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.Join(ctx, part("alice", "he", true)); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := store.Leave(ctx, "call-1", "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := store.SetMuted(ctx, "call-1", "alice", true); err != ErrParticipantNotFound {
		t.Fatalf("want ErrParticipantNotFound after leave, got %v", err)
	}

	if err := store.Join(ctx, part("alice", "en", true)); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	parts, err := store.Participants(ctx, "call-1")
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(parts) != 1 || parts[0].Left() {
		t.Fatalf("want one active participant after rejoin, got %+v", parts)
	}
	if parts[0].SpokenLang != "en-US" {
		t.Fatalf("want rejoined language en-US, got %q", parts[0].SpokenLang)
	}
}
