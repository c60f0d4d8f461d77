package worker

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/pipeline"
	"github.com/vocero-ai/vocero/internal/speech"
	mtmock "github.com/vocero-ai/vocero/pkg/provider/mt/mock"
	"github.com/vocero-ai/vocero/pkg/provider/stt"
	sttmock "github.com/vocero-ai/vocero/pkg/provider/stt/mock"
	ttsmock "github.com/vocero-ai/vocero/pkg/provider/tts/mock"
	"github.com/vocero-ai/vocero/pkg/types"
)

type capturePublisher struct {
	mu      sync.Mutex
	results []types.TranslationResult
}

func (p *capturePublisher) PublishTranslation(_ context.Context, result types.TranslationResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
	return nil
}

func (p *capturePublisher) published() []types.TranslationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.TranslationResult(nil), p.results...)
}

// voicedFrame builds 100 ms of PCM at constant amplitude well above the
// silence threshold.
func voicedFrame() []byte {
	const samples = types.SampleRate / 10
	frame := make([]byte, samples*types.BytesPerSample)
	for i := range samples {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(4000)))
	}
	return frame
}

func newWorker(t *testing.T) (*Worker, *capturePublisher) {
	t.Helper()
	ctx := context.Background()

	store := callstate.NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.SetStatus(ctx, "call-1", types.CallOngoing); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	for _, p := range []types.Participant{
		{CallID: "call-1", UserID: "alice", SpokenLang: "he-IL", DubbingRequired: true},
		{CallID: "call-1", UserID: "boris", SpokenLang: "ru-RU", DubbingRequired: true},
	} {
		if err := store.Join(ctx, p); err != nil {
			t.Fatalf("Join: %v", err)
		}
	}

	pub := &capturePublisher{}
	proc := pipeline.NewProcessor(pipeline.Config{
		Speech: speech.NewClient(
			&sttmock.Provider{Result: stt.Result{Text: "hello", Confidence: 1}},
			&mtmock.Provider{Result: "translated"},
			&ttsmock.Provider{Audio: []byte{1, 2}},
			speech.Config{RetryBackoff: time.Nanosecond},
		),
		Store:     store,
		Publisher: pub,
	})
	return New(Config{Processor: proc}), pub
}

func frame(seq uint64, data []byte) types.PCMChunk {
	return types.PCMChunk{
		SessionID:  "sess-1",
		CallID:     "call-1",
		SpeakerID:  "alice",
		SourceLang: "he-IL",
		Seq:        seq,
		Data:       data,
		EnqueuedAt: time.Now(),
	}
}

func TestWorkerFlushesPartialUtteranceOnSessionEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, pub := newWorker(t)

	// Half a second of voice: no boundary fires, everything stays buffered.
	for seq := uint64(1); seq <= 5; seq++ {
		if err := w.HandleFrame(ctx, frame(seq, voicedFrame())); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
	}
	if err := w.HandleSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("HandleSessionEnd: %v", err)
	}
	w.Close()

	results := pub.published()
	if len(results) != 1 {
		t.Fatalf("want 1 flushed utterance, got %d", len(results))
	}
	if results[0].SpeakerID != "alice" || results[0].CallID != "call-1" {
		t.Fatalf("utterance identity mismatch: %+v", results[0])
	}
	if results[0].UtteranceID == "" {
		t.Fatal("want a generated utterance id")
	}
}

func TestWorkerEmitsAtMaxUtteranceBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, pub := newWorker(t)

	// 2.6 s of continuous voice crosses the 2.5 s cap mid-stream; the
	// remainder is flushed at session end.
	for seq := uint64(1); seq <= 26; seq++ {
		if err := w.HandleFrame(ctx, frame(seq, voicedFrame())); err != nil {
			t.Fatalf("HandleFrame: %v", err)
		}
	}
	if err := w.HandleSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("HandleSessionEnd: %v", err)
	}
	w.Close()

	results := pub.published()
	if len(results) != 2 {
		t.Fatalf("want max-boundary emission plus flush, got %d results", len(results))
	}
}

func TestWorkerIsolatesSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, pub := newWorker(t)

	a := frame(1, voicedFrame())
	b := frame(1, voicedFrame())
	b.SessionID = "sess-2"
	b.SpeakerID = "boris"
	b.SourceLang = "ru-RU"

	if err := w.HandleFrame(ctx, a); err != nil {
		t.Fatalf("HandleFrame a: %v", err)
	}
	if err := w.HandleFrame(ctx, b); err != nil {
		t.Fatalf("HandleFrame b: %v", err)
	}
	if err := w.HandleSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("HandleSessionEnd: %v", err)
	}
	if err := w.HandleSessionEnd(ctx, "sess-2"); err != nil {
		t.Fatalf("HandleSessionEnd: %v", err)
	}
	w.Close()

	results := pub.published()
	if len(results) != 2 {
		t.Fatalf("want one utterance per session, got %d", len(results))
	}
	speakers := map[string]bool{}
	for _, r := range results {
		speakers[r.SpeakerID] = true
	}
	if !speakers["alice"] || !speakers["boris"] {
		t.Fatalf("want utterances from both speakers, got %+v", speakers)
	}
}

// silenceFrame builds 100 ms of all-zero PCM.
func silenceFrame() []byte {
	const samples = types.SampleRate / 10
	return make([]byte, samples*types.BytesPerSample)
}

func TestWorkerSegmentsByEnqueueTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, pub := newWorker(t)

	// A reclaimed backlog arrives in a burst: the wall clock barely moves
	// between frames, but the enqueue timestamps span three voiced frames
	// followed by a pause long enough to close the utterance.
	base := time.Now().Add(-5 * time.Second)
	chunks := []struct {
		data   []byte
		offset time.Duration
	}{
		{voicedFrame(), 0},
		{voicedFrame(), 100 * time.Millisecond},
		{voicedFrame(), 200 * time.Millisecond},
		{silenceFrame(), 300 * time.Millisecond},
		{silenceFrame(), 800 * time.Millisecond},
	}
	for i, c := range chunks {
		f := frame(uint64(i+1), c.data)
		f.EnqueuedAt = base.Add(c.offset)
		if err := w.HandleFrame(ctx, f); err != nil {
			t.Fatalf("HandleFrame %d: %v", i, err)
		}
	}

	// The pause boundary must fire from the enqueue timestamps alone,
	// before the session ends.
	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pause boundary never fired from enqueue timestamps")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := w.HandleSessionEnd(ctx, "sess-1"); err != nil {
		t.Fatalf("HandleSessionEnd: %v", err)
	}
	w.Close()

	if got := len(pub.published()); got != 1 {
		t.Fatalf("want a single pause-bounded utterance, got %d", got)
	}
}

func TestWorkerRejectsFramesAfterClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, _ := newWorker(t)
	w.Close()

	if err := w.HandleFrame(ctx, frame(1, voicedFrame())); err == nil {
		t.Fatal("want error for frame after Close")
	}
}
