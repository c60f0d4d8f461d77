package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vocero-ai/vocero/pkg/provider/mt"
	"github.com/vocero-ai/vocero/pkg/provider/stt"
	"github.com/vocero-ai/vocero/pkg/provider/tts"
)

// Default operational parameters. All are overridable via Config.
const (
	DefaultWorkers      = 16
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 250 * time.Millisecond
	defaultMaxBackoff   = 2 * time.Second

	DefaultRecognizeTimeout  = 6 * time.Second
	DefaultTranslateTimeout  = 3 * time.Second
	DefaultSynthesizeTimeout = 4 * time.Second

	// MaxContextChars bounds the conversation context prefixed to translation
	// requests.
	MaxContextChars = 150
)

// Config tunes the Client. Zero values select the package defaults.
type Config struct {
	// Workers bounds the number of in-flight external API calls across all
	// operations.
	Workers int

	// MaxRetries is the number of retry attempts after the first failure of a
	// transient call.
	MaxRetries int

	// RetryBackoff is the initial backoff between retries; it doubles per
	// attempt, capped at 2s.
	RetryBackoff time.Duration

	// Per-operation deadlines, applied to each attempt individually.
	RecognizeTimeout  time.Duration
	TranslateTimeout  time.Duration
	SynthesizeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = DefaultRecognizeTimeout
	}
	if c.TranslateTimeout <= 0 {
		c.TranslateTimeout = DefaultTranslateTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = DefaultSynthesizeTimeout
	}
}

// Client is the typed front door to the external speech APIs. All exported
// methods are safe for concurrent use; each call occupies one slot on the
// shared worker pool for its full duration, including retries.
type Client struct {
	stt stt.Provider
	mt  mt.Provider
	tts tts.Provider

	cfg  Config
	pool *semaphore.Weighted
}

// NewClient creates a Client over the given providers.
func NewClient(sttP stt.Provider, mtP mt.Provider, ttsP tts.Provider, cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		stt:  sttP,
		mt:   mtP,
		tts:  ttsP,
		cfg:  cfg,
		pool: semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Recognize transcribes one utterance's PCM.
func (c *Client) Recognize(ctx context.Context, pcm []byte, language string) (stt.Result, error) {
	var result stt.Result
	err := c.call(ctx, "recognize", c.cfg.RecognizeTimeout, func(ctx context.Context) error {
		var err error
		result, err = c.stt.Recognize(ctx, stt.Request{PCM: pcm, Language: language})
		return err
	})
	return result, err
}

// Translate renders text from sourceLang into targetLang. A non-empty
// contextSnippet (the trailing window of prior translations for the same call
// and target language) is sent as a bracketed prefix and stripped from the
// response; if stripping fails the full response is kept.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang, contextSnippet string) (string, error) {
	var out string
	err := c.call(ctx, "translate", c.cfg.TranslateTimeout, func(ctx context.Context) error {
		var err error
		out, err = c.mt.Translate(ctx, mt.Request{
			Text:       WrapContext(contextSnippet, text),
			SourceLang: sourceLang,
			TargetLang: targetLang,
		})
		return err
	})
	if err != nil {
		return "", err
	}
	if contextSnippet != "" {
		out = StripContext(out)
	}
	return out, nil
}

// Synthesize produces 16 kHz mono int16 PCM for text in language, using the
// given voice profile (empty selects the provider default).
func (c *Client) Synthesize(ctx context.Context, text, language, voiceProfile string) ([]byte, error) {
	var out []byte
	err := c.call(ctx, "synthesize", c.cfg.SynthesizeTimeout, func(ctx context.Context) error {
		var err error
		out, err = c.tts.Synthesize(ctx, tts.Request{
			Text:         text,
			Language:     language,
			VoiceProfile: voiceProfile,
		})
		return err
	})
	return out, err
}

// call runs fn on the worker pool with per-attempt deadlines and capped
// exponential retry on transient failures.
func (c *Client) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	if err := c.pool.Acquire(ctx, 1); err != nil {
		return &Error{Op: op, Kind: KindPermanent, Err: fmt.Errorf("acquire worker: %w", err)}
	}
	defer c.pool.Release(1)

	backoff := c.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &Error{Op: op, Kind: KindPermanent, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, defaultMaxBackoff)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if classify(err) == KindPermanent {
			return &Error{Op: op, Kind: KindPermanent, Err: err}
		}
	}

	return &Error{Op: op, Kind: KindTransient, Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// WrapContext prefixes text with a bracketed context snippet. An empty
// snippet returns text unchanged.
func WrapContext(snippet, text string) string {
	if snippet == "" {
		return text
	}
	return "[" + snippet + "] " + text
}

// StripContext removes a leading bracketed context passage from a translated
// response by matching on the first closing bracket. If the response carries
// no closing bracket the full response is kept — a mistranslated prefix is
// better than losing the utterance.
func StripContext(resp string) string {
	idx := strings.Index(resp, "]")
	if idx < 0 {
		return resp
	}
	return strings.TrimSpace(resp[idx+1:])
}
