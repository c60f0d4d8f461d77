package ttscache

import (
	"fmt"
	"testing"
)

func TestGetPutRoundTrip(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	key := NewKey("Hello", "he-IL", "")

	if _, ok := c.Get(key); ok {
		t.Fatal("want miss on empty cache")
	}

	pcm := []byte{1, 2, 3, 4}
	c.Put(key, pcm)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("want hit after Put")
	}
	if string(got) != string(pcm) {
		t.Fatalf("want %v, got %v", pcm, got)
	}
}

func TestKeyNormalization(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	c.Put(NewKey("  Hello  ", "he-IL", ""), []byte{9})

	// Same text modulo case and whitespace, default voice spelled out.
	if _, ok := c.Get(NewKey("hello", "he-IL", "default")); !ok {
		t.Fatal("want hit for normalized-equal key")
	}
	if _, ok := c.Get(NewKey("hello", "en-US", "")); ok {
		t.Fatal("want miss for different target language")
	}
	if _, ok := c.Get(NewKey("hello", "he-IL", "voice-7")); ok {
		t.Fatal("want miss for different voice profile")
	}
}

func TestEntryLimitEviction(t *testing.T) {
	t.Parallel()

	// 16 shards × 1 entry each.
	c := New(Config{MaxEntries: 16, MaxBytes: 1 << 20})

	for i := range 200 {
		c.Put(NewKey(fmt.Sprintf("phrase-%d", i), "en-US", ""), []byte{byte(i)})
	}
	if n := c.Len(); n > 16 {
		t.Fatalf("want at most 16 entries, got %d", n)
	}
}

func TestByteLimitEviction(t *testing.T) {
	t.Parallel()

	// One shard gets at most 1024 bytes; keep inserting 512-byte payloads
	// under keys that may or may not collide on shards — the total must stay
	// under the global limit.
	c := New(Config{MaxEntries: 1 << 20, MaxBytes: 16 * 1024})

	for i := range 400 {
		c.Put(NewKey(fmt.Sprintf("long-%d", i), "en-US", ""), make([]byte, 512))
	}
	if b := c.Bytes(); b > 16*1024 {
		t.Fatalf("want at most 16KiB cached, got %d", b)
	}
}

func TestLRUOrder(t *testing.T) {
	t.Parallel()

	// Single-entry-per-shard cache: inserting two colliding keys evicts the
	// least recently used one. Build two keys in the same shard by brute force.
	c := New(Config{MaxEntries: 16, MaxBytes: 1 << 20})

	base := NewKey("base", "en-US", "")
	var sibling Key
	for i := 0; ; i++ {
		k := NewKey(fmt.Sprintf("probe-%d", i), "en-US", "")
		if c.shard(k) == c.shard(base) {
			sibling = k
			break
		}
	}

	c.Put(base, []byte{1})
	c.Put(sibling, []byte{2}) // evicts base (older)

	if _, ok := c.Get(base); ok {
		t.Fatal("want base evicted")
	}
	if _, ok := c.Get(sibling); !ok {
		t.Fatal("want sibling retained")
	}
}

func TestOversizedEntryNotCached(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 16, MaxBytes: 16 * 100})
	key := NewKey("huge", "en-US", "")
	c.Put(key, make([]byte, 101)) // over the 100-byte shard budget

	if _, ok := c.Get(key); ok {
		t.Fatal("oversized entry must not be cached")
	}
}
