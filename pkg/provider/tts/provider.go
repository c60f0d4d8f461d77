// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider synthesizes one caption's worth of text into raw PCM in the
// pipeline's wire format (16 kHz mono little-endian int16). Utterances are
// short (bounded by the chunker's maximum), so synthesis is a single blocking
// call rather than a stream; the TTS cache in front of the provider absorbs
// repeated phrases.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request describes one synthesis.
type Request struct {
	// Text is the target-language text to speak.
	Text string

	// Language is the canonical BCP-47 tag of Text.
	Language string

	// VoiceProfile selects the synthesis voice. types.DefaultVoiceProfile (or
	// an empty string) selects the provider's default voice for the language.
	VoiceProfile string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize returns 16 kHz mono int16 PCM for req.Text. Blocking;
	// honours ctx cancellation and deadlines.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}
