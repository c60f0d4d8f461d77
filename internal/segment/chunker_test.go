package segment

import (
	"testing"
	"time"

	"github.com/vocero-ai/vocero/pkg/audio"
	"github.com/vocero-ai/vocero/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const frameDur = 50 * time.Millisecond

// voicedFrame returns a 50ms frame with RMS well above the default threshold.
func voicedFrame() []byte {
	samples := make([]int16, types.SampleRate/20)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}
	return audio.Int16ToBytes(samples)
}

// silentFrame returns a 50ms frame of zeros.
func silentFrame() []byte {
	return make([]byte, types.SampleRate/20*2)
}

// feedSpan feeds n copies of frame starting at start, advancing now by frameDur
// per frame, and collects emitted segments. Returns the segments and the clock
// after the last frame.
func feedSpan(c *Chunker, frame []byte, n int, start time.Time) ([]*Segment, time.Time) {
	var segs []*Segment
	now := start
	for range n {
		now = now.Add(frameDur)
		if seg := c.Feed(frame, now); seg != nil {
			segs = append(segs, seg)
		}
	}
	return segs, now
}

// ── Detector ─────────────────────────────────────────────────────────────────

func TestDetectorVoiced(t *testing.T) {
	t.Parallel()

	d := NewDetector(0)
	if v, err := d.Voiced(voicedFrame()); err != nil || !v {
		t.Fatalf("want voiced, got %v, err %v", v, err)
	}
	if v, err := d.Voiced(silentFrame()); err != nil || v {
		t.Fatalf("want silent, got %v, err %v", v, err)
	}
	if _, err := d.Voiced([]byte{1, 2, 3}); err == nil {
		t.Fatal("want error for odd frame")
	}
}

// ── Chunker ──────────────────────────────────────────────────────────────────

func TestChunkerPauseSegmentation(t *testing.T) {
	t.Parallel()

	// 0.3s voiced + 0.45s silence + 0.3s voiced + 0.45s silence
	// → two utterances, each ≈0.3s (trailing silence trimmed), in order.
	c := NewChunker(Config{})
	start := time.Now()

	var all []*Segment
	segs, now := feedSpan(c, voicedFrame(), 6, start)
	all = append(all, segs...)
	segs, now = feedSpan(c, silentFrame(), 9, now)
	all = append(all, segs...)
	segs, now = feedSpan(c, voicedFrame(), 6, now)
	all = append(all, segs...)
	segs, _ = feedSpan(c, silentFrame(), 9, now)
	all = append(all, segs...)

	if len(all) != 2 {
		t.Fatalf("want 2 segments, got %d", len(all))
	}
	for i, seg := range all {
		dur := types.PCMDuration(seg.PCM)
		if dur < 300*time.Millisecond || dur > 400*time.Millisecond {
			t.Errorf("segment %d: duration %v outside expected range", i, dur)
		}
	}
	if !all[0].End.Before(all[1].End) {
		t.Error("segments emitted out of order")
	}
}

func TestChunkerMaxLengthBoundary(t *testing.T) {
	t.Parallel()

	c := NewChunker(Config{})
	start := time.Now()

	// 4s of continuous speech must produce at least one max-bounded emission,
	// and no emitted segment may exceed MaxUtterance.
	segs, _ := feedSpan(c, voicedFrame(), 80, start)
	if len(segs) == 0 {
		t.Fatal("want at least one max-length emission")
	}
	for i, seg := range segs {
		if d := types.PCMDuration(seg.PCM); d > DefaultMaxUtterance {
			t.Errorf("segment %d: duration %v exceeds max", i, d)
		}
	}
}

func TestChunkerSegmentsContiguous(t *testing.T) {
	t.Parallel()

	// Over a long voiced span, concatenating emitted segments plus the pending
	// tail must reproduce the input exactly: contiguous, non-overlapping.
	c := NewChunker(Config{})
	start := time.Now()

	frame := voicedFrame()
	var fed, emitted int
	now := start
	for range 100 {
		now = now.Add(frameDur)
		fed += len(frame)
		if seg := c.Feed(frame, now); seg != nil {
			emitted += len(seg.PCM)
		}
	}
	if flush := c.Flush(now); flush != nil {
		emitted += len(flush.PCM)
	}
	if emitted != fed {
		t.Fatalf("want %d bytes across segments, got %d", fed, emitted)
	}
}

func TestChunkerMinUtteranceDiscard(t *testing.T) {
	t.Parallel()

	c := NewChunker(Config{})
	start := time.Now()

	// 100ms of voice then a long pause: below MinUtterance, so the
	// silence-triggered emission is discarded and state resets.
	_, now := feedSpan(c, voicedFrame(), 2, start)
	segs, _ := feedSpan(c, silentFrame(), 12, now)
	if len(segs) != 0 {
		t.Fatalf("want 0 segments for sub-minimum utterance, got %d", len(segs))
	}
	if c.Pending() != 0 {
		t.Fatalf("want empty buffer after discard, got %v pending", c.Pending())
	}
}

func TestChunkerFlush(t *testing.T) {
	t.Parallel()

	c := NewChunker(Config{})
	start := time.Now()

	_, now := feedSpan(c, voicedFrame(), 3, start)
	seg := c.Flush(now)
	if seg == nil {
		t.Fatal("want flushed segment")
	}
	if d := types.PCMDuration(seg.PCM); d != 150*time.Millisecond {
		t.Fatalf("want 150ms, got %v", d)
	}

	// Flushing silence-only state yields nothing.
	c2 := NewChunker(Config{})
	_, now2 := feedSpan(c2, silentFrame(), 3, start)
	if c2.Flush(now2) != nil {
		t.Fatal("want nil flush for unvoiced buffer")
	}
}

func TestChunkerMalformedFrames(t *testing.T) {
	t.Parallel()

	c := NewChunker(Config{})
	now := time.Now()

	_, now = feedSpan(c, voicedFrame(), 2, now)
	before := c.Pending()

	if seg := c.Feed([]byte{1, 2, 3}, now.Add(frameDur)); seg != nil {
		t.Fatal("malformed frame must not trigger emission")
	}
	if c.MalformedFrames != 1 {
		t.Fatalf("want 1 malformed frame counted, got %d", c.MalformedFrames)
	}
	if c.Pending() != before {
		t.Fatal("malformed frame must not change buffered audio")
	}
}

func TestChunkerVoicedTriggerSeedsNext(t *testing.T) {
	t.Parallel()

	// When a voiced frame would push the buffer past the max boundary, the
	// buffer is emitted and the frame opens the next utterance rather than
	// vanishing. 60ms frames do not divide 2.5s evenly, so the boundary always
	// fires on the would-overflow path.
	c := NewChunker(Config{})
	now := time.Now()

	samples := make([]int16, types.SampleRate*60/1000)
	for i := range samples {
		samples[i] = 3000
	}
	frame := audio.Int16ToBytes(samples)

	var boundary *Segment
	for boundary == nil {
		now = now.Add(60 * time.Millisecond)
		boundary = c.Feed(frame, now)
	}
	if d := types.PCMDuration(boundary.PCM); d > DefaultMaxUtterance {
		t.Fatalf("boundary segment %v exceeds max", d)
	}
	if c.Pending() != 60*time.Millisecond {
		t.Fatalf("want the triggering voiced frame seeded into the next utterance, pending %v", c.Pending())
	}
}
