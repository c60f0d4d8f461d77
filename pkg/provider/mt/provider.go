// Package mt defines the Provider interface for machine translation backends.
//
// A translation provider converts one utterance's recognized text between two
// languages. Conversation context (the trailing window of previously
// translated text for the same call and target language) is threaded through
// by the speech client as a bracketed prefix; providers see only plain text.
//
// Implementations must be safe for concurrent use.
package mt

import "context"

// Request describes one text translation.
type Request struct {
	// Text is the source-language text to translate. It may carry a bracketed
	// context prefix added by the speech client.
	Text string

	// SourceLang and TargetLang are canonical BCP-47 tags.
	SourceLang string
	TargetLang string
}

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate returns the target-language rendering of req.Text. Blocking;
	// honours ctx cancellation and deadlines.
	Translate(ctx context.Context, req Request) (string, error)
}
