// Package pipeline turns finished utterances into published translation
// results: recognize once, then translate and synthesize per target language
// in parallel, with per-language failure isolation. One utterance produces at
// most one published result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocero-ai/vocero/internal/callstate"
	"github.com/vocero-ai/vocero/internal/deliver"
	"github.com/vocero-ai/vocero/internal/observe"
	"github.com/vocero-ai/vocero/internal/speech"
	"github.com/vocero-ai/vocero/internal/ttscache"
	"github.com/vocero-ai/vocero/pkg/lang"
	"github.com/vocero-ai/vocero/pkg/types"
	"go.opentelemetry.io/otel/metric"
)

// ErrNoRenditions is returned when every target language failed; nothing was
// published.
var ErrNoRenditions = errors.New("pipeline: all target languages failed")

// Publisher delivers a finished result to every gateway on the call.
type Publisher interface {
	PublishTranslation(ctx context.Context, result types.TranslationResult) error
}

// TranscriptSink persists a finished result for history.
type TranscriptSink interface {
	AppendResult(ctx context.Context, result types.TranslationResult) error
}

// InterimPublisher broadcasts the source-language transcript ahead of the
// translation fan-out.
type InterimPublisher interface {
	PublishInterim(ctx context.Context, event deliver.InterimEvent) error
}

// Config wires a Processor. Speech, Store, and Publisher are required.
type Config struct {
	// Speech is the retrying, pool-bounded front door to the external APIs.
	Speech *speech.Client

	// Store resolves call membership and call start times.
	Store callstate.Store

	// Publisher receives exactly one result per processed utterance.
	Publisher Publisher

	// Transcripts receives the same result for persistence. Optional; a nil
	// sink disables history. Persistence failures never block delivery.
	Transcripts TranscriptSink

	// Cache is the synthesized-speech cache. Optional; nil disables caching.
	Cache *ttscache.Cache

	// Interims, when non-nil, receives the recognized source text before the
	// translation fan-out starts. Interim failures are logged, never fatal.
	Interims InterimPublisher

	// IncludeSpeaker mirrors the speaker's own rendition back to them.
	IncludeSpeaker bool

	// MinConfidence drops recognitions scored below it. Zero keeps everything.
	MinConfidence float64

	// ContextChars bounds the per-(call, language) translation context window.
	ContextChars int

	// Metrics records pipeline telemetry. Nil uses the package default.
	Metrics *observe.Metrics

	// Logger is used for per-language failures. Nil uses slog.Default.
	Logger *slog.Logger
}

// Processor is the per-utterance translation pipeline. Safe for concurrent
// use; concurrent utterances share the speech client's worker pool.
type Processor struct {
	cfg      Config
	resolver *callstate.Resolver
	ring     *contextRing
	metrics  *observe.Metrics
	log      *slog.Logger

	mu         sync.Mutex
	callStarts map[string]time.Time
}

// NewProcessor creates a Processor from cfg.
func NewProcessor(cfg Config) *Processor {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		cfg:        cfg,
		resolver:   callstate.NewResolver(cfg.Store, 0),
		ring:       newContextRing(cfg.ContextChars),
		metrics:    cfg.Metrics,
		log:        cfg.Logger,
		callStarts: make(map[string]time.Time),
	}
}

// Resolver exposes the processor's cached membership view so the component
// that mutates membership can invalidate it.
func (p *Processor) Resolver() *callstate.Resolver { return p.resolver }

// EndCall releases per-call pipeline state. Call it once when a call reaches
// a terminal status.
func (p *Processor) EndCall(callID string) {
	p.ring.DropCall(callID)
	p.resolver.Invalidate(callID)
	p.mu.Lock()
	delete(p.callStarts, callID)
	p.mu.Unlock()
}

// Process runs one utterance through the full pipeline. It returns nil when
// the utterance was handled, including the deliberate no-ops (no recipients,
// empty recognition); it returns an error when the utterance should be
// retried or was lost entirely.
func (p *Processor) Process(ctx context.Context, utt types.Utterance) error {
	started := time.Now()

	targets, err := p.resolver.Targets(ctx, utt.CallID, utt.SpeakerID, p.cfg.IncludeSpeaker)
	if err != nil {
		return fmt.Errorf("pipeline: resolve targets for %s: %w", utt.ID, err)
	}
	if len(targets) == 0 {
		p.countUtterance(ctx, "no_recipients")
		return nil
	}

	recognizeStart := time.Now()
	rec, err := p.cfg.Speech.Recognize(ctx, utt.PCM, utt.SourceLang)
	p.metrics.RecognizeDuration.Record(ctx, time.Since(recognizeStart).Seconds())
	if err != nil {
		p.recordAPIError(ctx, err)
		return fmt.Errorf("pipeline: recognize %s: %w", utt.ID, err)
	}
	if rec.Text == "" {
		p.recordNoOp(ctx, utt, rec.Text, "empty")
		return nil
	}
	if p.cfg.MinConfidence > 0 && rec.Confidence < p.cfg.MinConfidence {
		p.recordNoOp(ctx, utt, rec.Text, "low_confidence")
		return nil
	}

	voiceProfile := types.DefaultVoiceProfile
	if speaker, err := p.resolver.Participant(ctx, utt.CallID, utt.SpeakerID); err == nil && speaker.CloneUsable() {
		voiceProfile = speaker.VoiceProfile
	}

	timestampMS, err := p.timestampMS(ctx, utt)
	if err != nil {
		return fmt.Errorf("pipeline: timestamp %s: %w", utt.ID, err)
	}

	if p.cfg.Interims != nil {
		err := p.cfg.Interims.PublishInterim(ctx, deliver.InterimEvent{
			CallID:      utt.CallID,
			UtteranceID: utt.ID,
			SpeakerID:   utt.SpeakerID,
			SourceLang:  utt.SourceLang,
			Text:        rec.Text,
			Confidence:  rec.Confidence,
			TimestampMS: timestampMS,
		})
		if err != nil {
			p.log.Warn("interim publish failed", "utterance_id", utt.ID, "error", err)
		}
	}

	// Fan out per target language. Failures are isolated: a failed language
	// leaves a gap in renditions, never an aborted utterance.
	renditions := make([]*types.Rendition, len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			r := p.renderLanguage(ctx, utt, rec.Text, target, voiceProfile)
			renditions[i] = r
			return nil
		})
	}
	_ = g.Wait()

	result := types.TranslationResult{
		UtteranceID:  utt.ID,
		CallID:       utt.CallID,
		SpeakerID:    utt.SpeakerID,
		SourceLang:   utt.SourceLang,
		OriginalText: rec.Text,
		TimestampMS:  timestampMS,
	}
	for _, r := range renditions {
		if r != nil {
			result.Renditions = append(result.Renditions, *r)
		}
	}
	if len(result.Renditions) == 0 {
		p.countUtterance(ctx, "failed")
		return fmt.Errorf("%w: utterance %s", ErrNoRenditions, utt.ID)
	}

	if err := p.cfg.Publisher.PublishTranslation(ctx, result); err != nil {
		p.countUtterance(ctx, "failed")
		return fmt.Errorf("pipeline: publish %s: %w", utt.ID, err)
	}
	p.metrics.ResultsPublished.Add(ctx, 1)

	if p.cfg.Transcripts != nil {
		if err := p.cfg.Transcripts.AppendResult(ctx, result); err != nil {
			p.log.Error("transcript persistence failed",
				"utterance_id", utt.ID, "call_id", utt.CallID, "error", err)
		}
	}

	p.metrics.PipelineDuration.Record(ctx, time.Since(started).Seconds())
	p.countUtterance(ctx, "ok")
	return nil
}

// renderLanguage produces one rendition, or nil when the language failed
// outright.
func (p *Processor) renderLanguage(ctx context.Context, utt types.Utterance, original string, target callstate.Target, voiceProfile string) *types.Rendition {
	r := &types.Rendition{
		TargetLang:   target.Lang,
		RecipientIDs: target.UserIDs,
		TTSMethod:    types.TTSMethodNone,
	}

	if lang.Same(target.Lang, utt.SourceLang) {
		// Same-language passthrough: the original text is the caption, and
		// audio is synthesized only when a recipient actually wants dubbing.
		r.Text = original
	} else {
		translateStart := time.Now()
		translated, err := p.cfg.Speech.Translate(ctx, original, utt.SourceLang, target.Lang,
			p.ring.Snippet(utt.CallID, target.Lang))
		p.metrics.TranslateDuration.Record(ctx, time.Since(translateStart).Seconds())
		if err != nil {
			p.recordAPIError(ctx, err)
			p.log.Warn("translation failed for language",
				"utterance_id", utt.ID, "target_lang", target.Lang, "error", err)
			return nil
		}
		r.Text = translated
		p.ring.Observe(utt.CallID, target.Lang, translated)
	}

	if !target.Dubbed {
		return r
	}

	key := ttscache.NewKey(r.Text, target.Lang, voiceProfile)
	if p.cfg.Cache != nil {
		if pcm, ok := p.cfg.Cache.Get(key); ok {
			p.metrics.RecordCacheLookup(ctx, true)
			r.Audio = pcm
			r.TTSMethod = types.TTSMethodCache
			return r
		}
		p.metrics.RecordCacheLookup(ctx, false)
	}

	synthStart := time.Now()
	pcm, err := p.cfg.Speech.Synthesize(ctx, r.Text, target.Lang, voiceProfile)
	p.metrics.SynthesizeDuration.Record(ctx, time.Since(synthStart).Seconds())
	if err != nil {
		p.recordAPIError(ctx, err)
		p.log.Warn("synthesis failed, delivering captions only",
			"utterance_id", utt.ID, "target_lang", target.Lang, "error", err)
		return r // text-only rendition
	}
	r.Audio = pcm
	r.TTSMethod = types.TTSMethodAPI
	if p.cfg.Cache != nil {
		p.cfg.Cache.Put(key, pcm)
	}
	return r
}

// timestampMS converts the utterance start into milliseconds relative to the
// call start, the ordering key shared by all of the utterance's renditions.
func (p *Processor) timestampMS(ctx context.Context, utt types.Utterance) (int64, error) {
	p.mu.Lock()
	start, ok := p.callStarts[utt.CallID]
	p.mu.Unlock()

	if !ok {
		call, err := p.cfg.Store.GetCall(ctx, utt.CallID)
		if err != nil {
			return 0, err
		}
		start = call.StartedAt
		if start.IsZero() {
			start = call.CreatedAt
		}
		p.mu.Lock()
		p.callStarts[utt.CallID] = start
		p.mu.Unlock()
	}

	ms := utt.Start.Sub(start).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms, nil
}

// recordNoOp accounts for an utterance that produced no deliverable text: the
// status counter ticks and the transcript gains a rendition-less entry, so
// history reflects that speech was heard even when nothing was published.
func (p *Processor) recordNoOp(ctx context.Context, utt types.Utterance, text, status string) {
	p.countUtterance(ctx, status)
	if p.cfg.Transcripts == nil {
		return
	}
	timestampMS, err := p.timestampMS(ctx, utt)
	if err != nil {
		p.log.Warn("no-op transcript timestamp failed", "utterance_id", utt.ID, "error", err)
	}
	entry := types.TranslationResult{
		UtteranceID:  utt.ID,
		CallID:       utt.CallID,
		SpeakerID:    utt.SpeakerID,
		SourceLang:   utt.SourceLang,
		OriginalText: text,
		TimestampMS:  timestampMS,
	}
	if err := p.cfg.Transcripts.AppendResult(ctx, entry); err != nil {
		p.log.Error("no-op transcript persistence failed",
			"utterance_id", utt.ID, "call_id", utt.CallID, "error", err)
	}
}

func (p *Processor) countUtterance(ctx context.Context, status string) {
	p.metrics.UtterancesProcessed.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", status)))
}

func (p *Processor) recordAPIError(ctx context.Context, err error) {
	var sErr *speech.Error
	if errors.As(err, &sErr) {
		p.metrics.RecordSpeechAPIError(ctx, sErr.Op, sErr.Kind.String())
		return
	}
	p.metrics.RecordSpeechAPIError(ctx, "unknown", "unknown")
}
