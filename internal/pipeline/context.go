package pipeline

import (
	"strings"
	"sync"
)

// DefaultContextChars bounds the rolling translation context snippet.
const DefaultContextChars = 150

// contextRing keeps a short rolling window of recent translations per
// (call, target language). The window is prepended to the next translation
// request so the model resolves pronouns and topic continuity, and it is
// small enough that a stale window after worker failover costs one slightly
// worse translation, nothing more. Safe for concurrent use.
type contextRing struct {
	maxChars int

	mu      sync.Mutex
	windows map[contextKey]string
}

type contextKey struct {
	callID     string
	targetLang string
}

func newContextRing(maxChars int) *contextRing {
	if maxChars <= 0 {
		maxChars = DefaultContextChars
	}
	return &contextRing{
		maxChars: maxChars,
		windows:  make(map[contextKey]string),
	}
}

// Snippet returns the current window for (callID, targetLang), possibly empty.
func (r *contextRing) Snippet(callID, targetLang string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windows[contextKey{callID, targetLang}]
}

// Observe appends text to the window and trims it to the last maxChars runes,
// cutting on a word boundary where one exists.
func (r *contextRing) Observe(callID, targetLang, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := contextKey{callID, targetLang}
	window := r.windows[key]
	if window != "" {
		window += " "
	}
	window += text

	if runes := []rune(window); len(runes) > r.maxChars {
		tail := string(runes[len(runes)-r.maxChars:])
		// Drop the leading word fragment left by the cut.
		if i := strings.IndexByte(tail, ' '); i >= 0 && i < len(tail)-1 {
			tail = tail[i+1:]
		}
		window = tail
	}
	r.windows[key] = window
}

// DropCall releases every window belonging to callID.
func (r *contextRing) DropCall(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.windows {
		if key.callID == callID {
			delete(r.windows, key)
		}
	}
}
