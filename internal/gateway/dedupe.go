package gateway

// dedupeWindow is the number of recently seen utterance IDs each session
// remembers. The ingest stream is at-least-once, so a reprocessed utterance
// can reach a session twice; a window this size covers several minutes of
// speech.
const dedupeWindow = 256

// dedupe is a fixed-size set of recently seen IDs with FIFO eviction. Not
// safe for concurrent use; each session owns one and touches it only from its
// outbound pump.
type dedupe struct {
	seen  map[string]struct{}
	order []string
	next  int
}

func newDedupe() *dedupe {
	return &dedupe{
		seen:  make(map[string]struct{}, dedupeWindow),
		order: make([]string, dedupeWindow),
	}
}

// Seen records id and reports whether it was already present.
func (d *dedupe) Seen(id string) bool {
	if _, ok := d.seen[id]; ok {
		return true
	}
	if old := d.order[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.order[d.next] = id
	d.next = (d.next + 1) % dedupeWindow
	d.seen[id] = struct{}{}
	return false
}
