package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/speech"
	"github.com/vocero-ai/vocero/internal/ttscache"
	"github.com/vocero-ai/vocero/pkg/provider/mt"
	mtmock "github.com/vocero-ai/vocero/pkg/provider/mt/mock"
	"github.com/vocero-ai/vocero/pkg/provider/stt"
	sttmock "github.com/vocero-ai/vocero/pkg/provider/stt/mock"
	ttsmock "github.com/vocero-ai/vocero/pkg/provider/tts/mock"
	"github.com/vocero-ai/vocero/pkg/types"
)

// capturePublisher records published results.
type capturePublisher struct {
	mu      sync.Mutex
	results []types.TranslationResult
	err     error
}

func (p *capturePublisher) PublishTranslation(_ context.Context, result types.TranslationResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.results = append(p.results, result)
	return nil
}

func (p *capturePublisher) published() []types.TranslationResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.TranslationResult(nil), p.results...)
}

// captureInterims records published interim transcripts.
type captureInterims struct {
	mu     sync.Mutex
	events []deliver.InterimEvent
	err    error
}

func (c *captureInterims) PublishInterim(_ context.Context, event deliver.InterimEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *captureInterims) published() []deliver.InterimEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]deliver.InterimEvent(nil), c.events...)
}

// captureSink records persisted results.
type captureSink struct {
	mu      sync.Mutex
	results []types.TranslationResult
	err     error
}

func (s *captureSink) AppendResult(_ context.Context, result types.TranslationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}

// fixture wires a processor over an in-memory call with the given
// participants. The first participant is the speaker.
type fixture struct {
	stt      *sttmock.Provider
	mt       *mtmock.Provider
	tts      *ttsmock.Provider
	pub      *capturePublisher
	sink     *captureSink
	interims *captureInterims
	cache    *ttscache.Cache
	proc     *Processor
}

func newFixture(t *testing.T, participants ...types.Participant) *fixture {
	t.Helper()
	ctx := context.Background()

	store := callstate.NewMemStore()
	if _, err := store.CreateCall(ctx, "call-1", "he-IL"); err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if err := store.SetStatus(ctx, "call-1", types.CallOngoing); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	for _, p := range participants {
		if err := store.Join(ctx, p); err != nil {
			t.Fatalf("Join %s: %v", p.UserID, err)
		}
	}

	f := &fixture{
		stt:      &sttmock.Provider{Result: stt.Result{Text: "hello there", Confidence: 0.95}},
		mt:       &mtmock.Provider{Result: "translated"},
		tts:      &ttsmock.Provider{Audio: []byte{1, 2, 3, 4}},
		pub:      &capturePublisher{},
		sink:     &captureSink{},
		interims: &captureInterims{},
		cache:    ttscache.New(ttscache.Config{}),
	}
	f.proc = NewProcessor(Config{
		Speech: speech.NewClient(f.stt, f.mt, f.tts, speech.Config{
			RetryBackoff: time.Nanosecond,
		}),
		Store:       store,
		Publisher:   f.pub,
		Transcripts: f.sink,
		Interims:    f.interims,
		Cache:       f.cache,
	})
	return f
}

func speaker(userID, spokenLang string) types.Participant {
	return types.Participant{
		CallID:          "call-1",
		UserID:          userID,
		SpokenLang:      spokenLang,
		DubbingRequired: true,
	}
}

func listener(userID, spokenLang string, dubbing bool) types.Participant {
	p := speaker(userID, spokenLang)
	p.DubbingRequired = dubbing
	return p
}

func utterance() types.Utterance {
	now := time.Now()
	return types.Utterance{
		ID:         "utt-1",
		CallID:     "call-1",
		SessionID:  "sess-1",
		SpeakerID:  "alice",
		SourceLang: "he-IL",
		PCM:        make([]byte, 3200),
		Start:      now.Add(-time.Second),
		End:        now,
	}
}

// ── Fan-out ─────────────────────────────────────────────────────────────────

func TestProcessThreePartyFanOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
		listener("carol", "en-US", true),
	)

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := f.stt.CallCount(); got != 1 {
		t.Fatalf("want 1 recognize call, got %d", got)
	}
	if got := f.mt.CallCount(); got != 2 {
		t.Fatalf("want 2 translate calls, got %d", got)
	}
	if got := f.tts.CallCount(); got != 2 {
		t.Fatalf("want 2 synthesize calls, got %d", got)
	}

	results := f.pub.published()
	if len(results) != 1 {
		t.Fatalf("want exactly 1 published result, got %d", len(results))
	}
	res := results[0]
	if res.OriginalText != "hello there" {
		t.Fatalf("want original text preserved, got %q", res.OriginalText)
	}
	if len(res.Renditions) != 2 {
		t.Fatalf("want 2 renditions, got %+v", res.Renditions)
	}
	// Deterministic language order.
	if res.Renditions[0].TargetLang != "en-US" || res.Renditions[1].TargetLang != "ru-RU" {
		t.Fatalf("want renditions [en-US ru-RU], got [%s %s]",
			res.Renditions[0].TargetLang, res.Renditions[1].TargetLang)
	}
	for _, r := range res.Renditions {
		if r.TTSMethod != types.TTSMethodAPI {
			t.Fatalf("want API synthesis for %s, got %s", r.TargetLang, r.TTSMethod)
		}
		if len(r.Audio) == 0 {
			t.Fatalf("want audio for %s", r.TargetLang)
		}
	}
	if got := res.Renditions[1].RecipientIDs; len(got) != 1 || got[0] != "boris" {
		t.Fatalf("want ru-RU recipients [boris], got %v", got)
	}
	if res.TimestampMS < 0 {
		t.Fatalf("want non-negative timestamp, got %d", res.TimestampMS)
	}

	if len(f.sink.results) != 1 {
		t.Fatalf("want 1 persisted result, got %d", len(f.sink.results))
	}
}

func TestProcessSameLanguagePassthrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("dubbed", "he-IL", true),
	)

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := f.mt.CallCount(); got != 0 {
		t.Fatalf("same-language passthrough must not translate, got %d calls", got)
	}
	if got := f.tts.CallCount(); got != 1 {
		t.Fatalf("want 1 synthesize call for the dubbed recipient, got %d", got)
	}

	res := f.pub.published()[0]
	if res.Renditions[0].Text != "hello there" {
		t.Fatalf("want original text passed through, got %q", res.Renditions[0].Text)
	}
}

func TestProcessTextOnlyRecipientSkipsSynthesis(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("reader", "en-US", false),
	)

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := f.tts.CallCount(); got != 0 {
		t.Fatalf("text-only recipient must not synthesize, got %d calls", got)
	}
	res := f.pub.published()[0]
	if res.Renditions[0].TTSMethod != types.TTSMethodNone {
		t.Fatalf("want tts method none, got %s", res.Renditions[0].TTSMethod)
	}
	if res.Renditions[0].Audio != nil {
		t.Fatal("want no audio on text-only rendition")
	}
}

// ── Cache ───────────────────────────────────────────────────────────────────

func TestProcessServesSynthesisFromCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)

	cached := []byte{9, 9, 9}
	f.cache.Put(ttscache.NewKey("translated", "ru-RU", types.DefaultVoiceProfile), cached)

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := f.tts.CallCount(); got != 0 {
		t.Fatalf("cache hit must not synthesize, got %d calls", got)
	}
	res := f.pub.published()[0]
	if res.Renditions[0].TTSMethod != types.TTSMethodCache {
		t.Fatalf("want tts method cache, got %s", res.Renditions[0].TTSMethod)
	}
	if string(res.Renditions[0].Audio) != string(cached) {
		t.Fatal("want cached audio served")
	}
}

// ── Failure isolation ───────────────────────────────────────────────────────

func TestProcessIsolatesPerLanguageFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
		listener("carol", "en-US", true),
	)
	f.mt.TranslateFn = func(_ context.Context, req mt.Request) (string, error) {
		if req.TargetLang == "ru-RU" {
			return "", errors.New("model overloaded")
		}
		return "translated", nil
	}

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	results := f.pub.published()
	if len(results) != 1 {
		t.Fatalf("want 1 published result despite partial failure, got %d", len(results))
	}
	res := results[0]
	if len(res.Renditions) != 1 || res.Renditions[0].TargetLang != "en-US" {
		t.Fatalf("want only the en-US rendition, got %+v", res.Renditions)
	}
}

func TestProcessAllLanguagesFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.mt.Err = errors.New("model down")

	err := f.proc.Process(context.Background(), utterance())
	if !errors.Is(err, ErrNoRenditions) {
		t.Fatalf("want ErrNoRenditions, got %v", err)
	}
	if len(f.pub.published()) != 0 {
		t.Fatal("nothing may be published when every language failed")
	}
}

func TestProcessSynthesisFailureKeepsCaption(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.tts.Err = errors.New("voice service down")

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	res := f.pub.published()[0]
	if res.Renditions[0].Text != "translated" {
		t.Fatalf("want caption kept, got %q", res.Renditions[0].Text)
	}
	if res.Renditions[0].TTSMethod != types.TTSMethodNone || res.Renditions[0].Audio != nil {
		t.Fatalf("want text-only rendition after synthesis failure, got %+v", res.Renditions[0])
	}
}

// ── Deliberate no-ops ───────────────────────────────────────────────────────

func TestProcessEmptyRecognitionIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.stt.Result = stt.Result{}

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.mt.CallCount() != 0 || f.tts.CallCount() != 0 {
		t.Fatal("empty recognition must not fan out")
	}
	if len(f.pub.published()) != 0 {
		t.Fatal("empty recognition must not publish")
	}

	// History still gets a rendition-less entry for the silent utterance.
	if len(f.sink.results) != 1 {
		t.Fatalf("want 1 no-op transcript entry, got %d", len(f.sink.results))
	}
	entry := f.sink.results[0]
	if entry.UtteranceID != "utt-1" || entry.OriginalText != "" {
		t.Fatalf("unexpected no-op entry: %+v", entry)
	}
	if len(entry.Renditions) != 0 {
		t.Fatalf("no-op entry must carry no renditions, got %+v", entry.Renditions)
	}
}

func TestProcessLowConfidenceRecordsNoOpTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.proc.cfg.MinConfidence = 0.99

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pub.published()) != 0 {
		t.Fatal("low-confidence recognition must not publish")
	}
	if len(f.sink.results) != 1 {
		t.Fatalf("want 1 no-op transcript entry, got %d", len(f.sink.results))
	}
	entry := f.sink.results[0]
	if entry.OriginalText != "hello there" || len(entry.Renditions) != 0 {
		t.Fatalf("want rendition-less entry keeping the discarded text, got %+v", entry)
	}
}

func TestProcessSoloCallSkipsRecognition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, speaker("alice", "he-IL"))

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := f.stt.CallCount(); got != 0 {
		t.Fatalf("solo call must not hit the STT API, got %d calls", got)
	}
}

// ── Context ring ────────────────────────────────────────────────────────────

func TestProcessCarriesTranslationContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.mt.TranslateFn = func(_ context.Context, req mt.Request) (string, error) {
		// Echo any context prefix back the way a well-behaved model does.
		if strings.HasPrefix(req.Text, "[") {
			end := strings.Index(req.Text, "]")
			return req.Text[:end+1] + " second translation", nil
		}
		return "first translation", nil
	}

	ctx := context.Background()
	first := utterance()
	if err := f.proc.Process(ctx, first); err != nil {
		t.Fatalf("Process first: %v", err)
	}

	second := first
	second.ID = "utt-2"
	if err := f.proc.Process(ctx, second); err != nil {
		t.Fatalf("Process second: %v", err)
	}

	calls := f.mt.Calls
	if len(calls) != 2 {
		t.Fatalf("want 2 translate calls, got %d", len(calls))
	}
	if strings.HasPrefix(calls[0].Req.Text, "[") {
		t.Fatalf("first call must carry no context, got %q", calls[0].Req.Text)
	}
	if !strings.Contains(calls[1].Req.Text, "first translation") {
		t.Fatalf("second call must carry the prior translation as context, got %q", calls[1].Req.Text)
	}

	// The stripped response, not the echoed context, is what gets published.
	res := f.pub.published()[1]
	if res.Renditions[0].Text != "second translation" {
		t.Fatalf("want stripped translation, got %q", res.Renditions[0].Text)
	}

	// Ending the call clears the window.
	f.proc.EndCall("call-1")
	if got := f.proc.ring.Snippet("call-1", "ru-RU"); got != "" {
		t.Fatalf("want empty window after EndCall, got %q", got)
	}
}

// ── Persistence decoupling ──────────────────────────────────────────────────

func TestProcessTranscriptFailureDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.sink.err = errors.New("database down")

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pub.published()) != 1 {
		t.Fatal("delivery must succeed despite transcript failure")
	}
}

// ── Interim transcripts ──────────────────────────────────────────────────────

func TestProcessPublishesInterimBeforeResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	interims := f.interims.published()
	if len(interims) != 1 {
		t.Fatalf("want 1 interim, got %d", len(interims))
	}
	ev := interims[0]
	if ev.Text != "hello there" || ev.SourceLang != "he-IL" || ev.SpeakerID != "alice" {
		t.Fatalf("unexpected interim: %+v", ev)
	}
	if ev.Confidence != 0.95 {
		t.Fatalf("want confidence 0.95, got %v", ev.Confidence)
	}
	if ev.UtteranceID != f.pub.published()[0].UtteranceID {
		t.Fatal("interim and result must share the utterance id")
	}
}

func TestProcessInterimFailureDoesNotBlockDelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		speaker("alice", "he-IL"),
		listener("boris", "ru-RU", true),
	)
	f.interims.err = errors.New("bus down")

	if err := f.proc.Process(context.Background(), utterance()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.pub.published()) != 1 {
		t.Fatal("delivery must succeed despite interim failure")
	}
}
