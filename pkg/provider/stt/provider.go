// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a recognition service (e.g., OpenAI Whisper, Google
// Speech-to-Text) behind a single blocking call: one pause-bounded utterance
// in, one recognition result out. Streaming recognition is deliberately not
// part of the interface — the pipeline segments audio before recognition, so
// batch transcription keeps providers simple and interchangeable.
//
// Implementations must be safe for concurrent use; the speech client runs
// many recognitions in parallel on its worker pool.
package stt

import "context"

// Result is the outcome of recognizing one utterance.
type Result struct {
	// Text is the recognized speech content. Empty when the utterance
	// contained no intelligible speech.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// Request describes one utterance to recognize.
type Request struct {
	// PCM is raw 16 kHz mono little-endian int16 audio.
	PCM []byte

	// Language is the canonical BCP-47 tag of the spoken language. An empty
	// string lets the provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Recognize transcribes one utterance. Blocking; honours ctx cancellation
	// and deadlines. Returns a zero-text Result (not an error) when the audio
	// contains no speech.
	Recognize(ctx context.Context, req Request) (Result, error)
}
