package segment

import (
	"time"

	"github.com/vocero-ai/vocero/pkg/types"
)

// Default boundary parameters. All are overridable via Config.
const (
	DefaultPause        = 400 * time.Millisecond
	DefaultMaxUtterance = 2500 * time.Millisecond
	DefaultMinUtterance = 150 * time.Millisecond
)

// Config holds the boundary parameters for a Chunker. Zero values select the
// package defaults.
type Config struct {
	// Pause is the trailing-silence duration after voiced audio that closes an
	// utterance.
	Pause time.Duration

	// MaxUtterance caps accumulated duration; the buffer is emitted at this
	// boundary even mid-speech so latency stays bounded.
	MaxUtterance time.Duration

	// MinUtterance is the minimum emission length for silence-triggered
	// emissions; shorter buffers are discarded as noise. Max-length and flush
	// emissions are exempt.
	MinUtterance time.Duration

	// Detector classifies frames. The zero value uses DefaultRMSThreshold.
	Detector Detector
}

// Segment is one emitted pause-bounded audio segment. The caller (the worker)
// attaches call and speaker identity to build a types.Utterance.
type Segment struct {
	PCM   []byte
	Start time.Time
	End   time.Time
}

// Chunker accumulates one speaker's PCM frames and emits Segments at pause or
// maximum-length boundaries. Malformed frames are dropped and counted; they
// never corrupt accumulated state. Not safe for concurrent use.
type Chunker struct {
	cfg Config

	buf        []byte
	voicedEnd  int // byte offset just past the last voiced frame
	firstTS    time.Time
	lastVoiced time.Time
	hadVoice   bool

	// MalformedFrames counts dropped odd-length frames since creation.
	MalformedFrames uint64
}

// NewChunker creates a Chunker with cfg, applying package defaults for zero
// fields.
func NewChunker(cfg Config) *Chunker {
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultPause
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = DefaultMaxUtterance
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = DefaultMinUtterance
	}
	if cfg.Detector.Threshold <= 0 {
		cfg.Detector = NewDetector(0)
	}
	return &Chunker{cfg: cfg}
}

// Feed appends frame to the accumulating buffer and returns a Segment when a
// boundary fires, or nil otherwise.
//
// A segment is emitted when (a) voiced audio has been seen and now minus the
// last voiced timestamp reaches the pause threshold, or (b) accumulated
// duration reaches the maximum. When both fire on the same frame the
// maximum-length boundary wins. After a max-length emission the triggering
// frame seeds the next utterance if it was voiced, keeping segments contiguous
// and non-overlapping.
func (c *Chunker) Feed(frame []byte, now time.Time) *Segment {
	voiced, err := c.cfg.Detector.Voiced(frame)
	if err != nil {
		c.MalformedFrames++
		return nil
	}
	if len(frame) == 0 {
		return nil
	}

	// Max-length boundary, checked before appending: if this frame would push
	// the buffer past the cap, emit what we have and let the frame open the
	// next utterance (only if it carries voice).
	if len(c.buf) > 0 && types.PCMDuration(c.buf)+types.PCMDuration(frame) > c.cfg.MaxUtterance {
		seg := c.emit(now)
		c.seed(frame, voiced, now)
		return seg
	}

	c.append(frame, voiced, now)

	if types.PCMDuration(c.buf) >= c.cfg.MaxUtterance {
		return c.emit(now)
	}

	// Pause boundary: only after voice has been heard, and only once the
	// trailing silence is long enough. The emitted segment ends at the last
	// voiced frame; the accumulated trailing silence is discarded.
	if c.hadVoice && !voiced && now.Sub(c.lastVoiced) >= c.cfg.Pause {
		if types.PCMDuration(c.buf[:c.voicedEnd]) < c.cfg.MinUtterance {
			c.reset()
			return nil
		}
		c.buf = c.buf[:c.voicedEnd]
		return c.emit(c.lastVoiced)
	}

	return nil
}

// Flush emits whatever is buffered, regardless of the minimum length, and
// resets state. Used on session close. Returns nil when the buffer holds no
// voiced audio.
func (c *Chunker) Flush(now time.Time) *Segment {
	if !c.hadVoice || len(c.buf) == 0 {
		c.reset()
		return nil
	}
	return c.emit(now)
}

// Pending returns the currently buffered duration. Intended for tests and
// metrics.
func (c *Chunker) Pending() time.Duration { return types.PCMDuration(c.buf) }

func (c *Chunker) append(frame []byte, voiced bool, now time.Time) {
	if len(c.buf) == 0 {
		c.firstTS = now
	}
	c.buf = append(c.buf, frame...)
	if voiced {
		c.lastVoiced = now
		c.hadVoice = true
		c.voicedEnd = len(c.buf)
	}
}

func (c *Chunker) emit(now time.Time) *Segment {
	seg := &Segment{PCM: c.buf, Start: c.firstTS, End: now}
	c.reset()
	return seg
}

func (c *Chunker) seed(frame []byte, voiced bool, now time.Time) {
	if !voiced {
		return
	}
	c.buf = append([]byte(nil), frame...)
	c.voicedEnd = len(c.buf)
	c.firstTS = now
	c.lastVoiced = now
	c.hadVoice = true
}

func (c *Chunker) reset() {
	c.buf = nil
	c.voicedEnd = 0
	c.hadVoice = false
	c.firstTS = time.Time{}
	c.lastVoiced = time.Time{}
}
