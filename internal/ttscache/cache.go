// Package ttscache is a bounded in-memory LRU for synthesized speech, keyed by
// (normalized text, target language, voice profile). Synthesis is the most
// expensive external call in the pipeline and short conversational phrases
// repeat constantly, so hits here bypass the API worker pool entirely.
//
// The cache is sharded: reads and writes for different keys contend on
// different locks. Both an entry-count limit and a byte limit are enforced per
// shard; eviction removes the least-recently-used entry until both hold.
package ttscache

import (
	"container/list"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/vocero-ai/vocero/pkg/types"
)

// Default capacity limits, split evenly across shards.
const (
	DefaultMaxEntries = 512
	DefaultMaxBytes   = 64 << 20 // 64 MiB
	shardCount        = 16
)

// Key identifies one cached synthesis.
type Key struct {
	Text         string
	TargetLang   string
	VoiceProfile string
}

// NewKey builds a normalized cache key: text is trimmed and lowercased, an
// empty voice profile maps to the default profile.
func NewKey(text, targetLang, voiceProfile string) Key {
	if voiceProfile == "" {
		voiceProfile = types.DefaultVoiceProfile
	}
	return Key{
		Text:         strings.ToLower(strings.TrimSpace(text)),
		TargetLang:   targetLang,
		VoiceProfile: voiceProfile,
	}
}

// Cache is a sharded LRU from Key to synthesized PCM. Safe for concurrent use.
type Cache struct {
	shards [shardCount]shard
}

type shard struct {
	mu         sync.Mutex
	entries    map[Key]*list.Element
	order      *list.List // front = most recently used
	bytes      int
	maxEntries int
	maxBytes   int
}

type entry struct {
	key Key
	pcm []byte
}

// Config bounds the cache. Zero values select the package defaults.
type Config struct {
	// MaxEntries caps the total number of cached syntheses.
	MaxEntries int

	// MaxBytes caps the total cached PCM payload.
	MaxBytes int
}

// New creates a Cache with the given limits.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	perShardEntries := max(cfg.MaxEntries/shardCount, 1)
	perShardBytes := max(cfg.MaxBytes/shardCount, 1)

	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = shard{
			entries:    make(map[Key]*list.Element),
			order:      list.New(),
			maxEntries: perShardEntries,
			maxBytes:   perShardBytes,
		}
	}
	return c
}

// Get returns the cached PCM for key and whether it was present. A hit marks
// the entry most recently used.
func (c *Cache) Get(key Key) ([]byte, bool) {
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(el)
	return el.Value.(*entry).pcm, true
}

// Put stores pcm under key, evicting least-recently-used entries until both
// shard limits hold. Entries larger than a whole shard's byte budget are not
// cached at all.
func (c *Cache) Put(key Key, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s := c.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pcm) > s.maxBytes {
		return
	}

	if el, ok := s.entries[key]; ok {
		e := el.Value.(*entry)
		s.bytes += len(pcm) - len(e.pcm)
		e.pcm = pcm
		s.order.MoveToFront(el)
	} else {
		el := s.order.PushFront(&entry{key: key, pcm: pcm})
		s.entries[key] = el
		s.bytes += len(pcm)
	}

	for s.order.Len() > s.maxEntries || s.bytes > s.maxBytes {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		s.order.Remove(oldest)
		delete(s.entries, e.key)
		s.bytes -= len(e.pcm)
	}
}

// Len returns the total number of cached entries across all shards.
func (c *Cache) Len() int {
	var n int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

// Bytes returns the total cached payload size across all shards.
func (c *Cache) Bytes() int {
	var n int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += s.bytes
		s.mu.Unlock()
	}
	return n
}

func (c *Cache) shard(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Text))
	h.Write([]byte{0})
	h.Write([]byte(key.TargetLang))
	h.Write([]byte{0})
	h.Write([]byte(key.VoiceProfile))
	return &c.shards[h.Sum32()%shardCount]
}
