// Package jitter provides the client-side playback buffer contract for
// synthesized audio. Network delivery is bursty while playback is steady;
// the buffer absorbs the difference. Client SDKs embed this implementation
// (or port its exact semantics) so every platform behaves the same way.
package jitter

import "sync"

// Defaults chosen for ~100 ms PCM chunks: playback starts after one chunk and
// at most ~800 ms of audio is ever queued.
const (
	DefaultMinChunks = 1
	DefaultMaxChunks = 8
)

// Config bounds a Buffer. Zero values select the package defaults.
type Config struct {
	// MinChunks is how many chunks must be queued before playback starts.
	MinChunks int

	// MaxChunks caps the queue; pushing beyond it drops the oldest chunk so
	// playback latency stays bounded.
	MaxChunks int
}

// Buffer is a bounded FIFO of PCM chunks with a prebuffer threshold. Safe for
// concurrent use: the network side calls Push, the audio callback calls Pop.
type Buffer struct {
	mu      sync.Mutex
	chunks  [][]byte
	min     int
	max     int
	playing bool
	dropped uint64
}

// New creates a Buffer with cfg.
func New(cfg Config) *Buffer {
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = DefaultMinChunks
	}
	if cfg.MaxChunks < cfg.MinChunks {
		cfg.MaxChunks = max(DefaultMaxChunks, cfg.MinChunks)
	}
	return &Buffer{min: cfg.MinChunks, max: cfg.MaxChunks}
}

// Push queues a chunk. When the buffer is full the oldest chunk is dropped to
// make room; stale audio is worse than a skip.
func (b *Buffer) Push(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) >= b.max {
		b.chunks = b.chunks[1:]
		b.dropped++
	}
	b.chunks = append(b.chunks, pcm)
}

// Pop returns the next chunk for playback. It returns (nil, false) while the
// buffer is still filling toward the prebuffer threshold and whenever the
// queue has drained; a drain resets the threshold so playback resumes only
// after the buffer refills.
func (b *Buffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.playing {
		if len(b.chunks) < b.min {
			return nil, false
		}
		b.playing = true
	}

	if len(b.chunks) == 0 {
		// Underrun: go back to buffering.
		b.playing = false
		return nil, false
	}

	pcm := b.chunks[0]
	b.chunks = b.chunks[1:]
	return pcm, true
}

// Len returns the number of queued chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Dropped returns the number of chunks discarded to overflow since creation.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Reset empties the buffer and returns to the buffering state.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.playing = false
}
