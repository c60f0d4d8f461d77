// Package speech wraps the STT, translation, and TTS providers behind one
// client with the pipeline's operational contracts: a bounded worker pool for
// the blocking, rate-limited external calls; per-operation deadlines; capped
// exponential retry on transient failures; and the bracketed context-prefix
// protocol for conversation-aware translation.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// ErrorKind classifies an external API failure for retry decisions.
type ErrorKind int

const (
	// KindTransient marks failures worth retrying: timeouts, rate limits,
	// connection resets.
	KindTransient ErrorKind = iota

	// KindPermanent marks failures that will not succeed on retry: invalid
	// input, auth failures, cancelled contexts.
	KindPermanent
)

// String returns the human-readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified external speech API failure.
type Error struct {
	// Op is the failed operation: "recognize", "translate", or "synthesize".
	Op string

	// Kind drives the retry decision.
	Kind ErrorKind

	// Err is the underlying provider error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("speech: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a transient speech error.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransient
}

// classify assigns a retry class to a raw provider error. Deadline expiry is
// transient; a cancelled context means the caller has gone away, so retrying
// is pointless. Provider HTTP errors split on status: a 4xx response (bad
// request, bad auth, too-long input) will fail the same way on every attempt,
// except 429 which clears once the rate-limit window moves.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code >= 400 && code < 500 && code != 429 {
			return KindPermanent
		}
		return KindTransient
	}

	return KindTransient
}
