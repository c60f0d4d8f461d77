// Package types defines the shared types used across all Vocero packages.
//
// These types form the lingua franca between the gateway, the ingest stream,
// the translation workers, and the delivery bus. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Audio format constants for the wire protocol. All PCM flowing through the
// pipeline is 16 kHz mono little-endian int16.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 16000

	// BytesPerSample is the width of one little-endian int16 sample.
	BytesPerSample = 2

	// BytesPerSecond is the PCM byte rate at SampleRate mono int16.
	BytesPerSecond = SampleRate * BytesPerSample
)

// PCMDuration returns the playback duration of a 16 kHz mono int16 PCM buffer.
func PCMDuration(b []byte) time.Duration {
	return time.Duration(len(b)) * time.Second / BytesPerSecond
}

// PCMChunk is one batch of raw audio frames from a single speaker, as written
// to the ingest stream by a gateway session and consumed exactly once by a
// translation worker. Chunks are transient; they are never persisted.
type PCMChunk struct {
	// SessionID identifies the gateway session that produced the chunk.
	SessionID string

	// CallID identifies the call the session belongs to.
	CallID string

	// SpeakerID is the user ID of the speaker (equals the session's user).
	SpeakerID string

	// SourceLang is the speaker's spoken language as a canonical BCP-47 tag.
	SourceLang string

	// Seq is strictly increasing per (session, speaker). Gaps indicate packet
	// loss and must not corrupt downstream segmentation state.
	Seq uint64

	// Data is raw 16 kHz mono little-endian int16 PCM.
	Data []byte

	// EnqueuedAt is when the gateway wrote the chunk to the ingest stream.
	EnqueuedAt time.Time
}

// Utterance is one pause-bounded segment of a single speaker's PCM, emitted by
// the per-speaker chunker and consumed by the translation processor.
type Utterance struct {
	// ID uniquely identifies the utterance. Downstream deduplication
	// (at-least-once delivery through the ingest stream) keys on this.
	ID string

	// CallID identifies the call the utterance belongs to.
	CallID string

	// SessionID identifies the originating gateway session.
	SessionID string

	// SpeakerID is the user ID of the speaker.
	SpeakerID string

	// SourceLang is the speaker's spoken language as a canonical BCP-47 tag.
	SourceLang string

	// PCM is the segment's raw audio.
	PCM []byte

	// Start and End bound the segment in wall-clock time as observed by the
	// worker that assembled it.
	Start time.Time
	End   time.Time
}

// Duration returns the playback length of the utterance's PCM.
func (u Utterance) Duration() time.Duration { return PCMDuration(u.PCM) }

// TTSMethod records how the synthesized audio of a rendition was produced.
type TTSMethod string

const (
	// TTSMethodAPI means the audio came from a live synthesis API call.
	TTSMethodAPI TTSMethod = "api"

	// TTSMethodCache means the audio was served from the TTS cache.
	TTSMethodCache TTSMethod = "cache"

	// TTSMethodNone means no audio was synthesized for this rendition
	// (captions only, e.g. same-language passthrough without dubbing).
	TTSMethodNone TTSMethod = "none"
)

// Rendition is the per-target-language output of one utterance: the translated
// text, optionally synthesized audio, and the users who should receive it.
type Rendition struct {
	// TargetLang is the canonical BCP-47 tag this rendition was produced for.
	TargetLang string `json:"target_lang"`

	// Text is the translated caption text. For same-language passthrough this
	// equals the recognized original text.
	Text string `json:"text"`

	// Audio is synthesized 16 kHz mono int16 PCM. Nil when TTSMethod is "none"
	// or synthesis failed for this language.
	Audio []byte `json:"audio,omitempty"`

	// RecipientIDs lists the user IDs that should receive this rendition.
	RecipientIDs []string `json:"recipient_ids"`

	// TTSMethod records how Audio was produced.
	TTSMethod TTSMethod `json:"tts_method"`
}

// TranslationResult is the complete per-utterance output of the translation
// processor. It is published exactly once on the call's delivery channel and
// persisted as one transcript entry per rendition.
type TranslationResult struct {
	// UtteranceID is the ID of the source utterance. Gateways deduplicate on it.
	UtteranceID string `json:"utterance_id"`

	// CallID identifies the call.
	CallID string `json:"call_id"`

	// SpeakerID is the user ID of the speaker.
	SpeakerID string `json:"speaker_id"`

	// SourceLang is the speaker's language.
	SourceLang string `json:"source_lang"`

	// OriginalText is the recognized source-language text.
	OriginalText string `json:"original_text"`

	// TimestampMS is the utterance start time in milliseconds relative to call
	// start. All renditions of one utterance share it; clients order captions
	// by this value, never by wall clock.
	TimestampMS int64 `json:"timestamp_ms"`

	// Renditions holds one entry per distinct target language.
	Renditions []Rendition `json:"renditions"`
}

// TranscriptEntry is the append-only historical record of one rendition,
// retained for the call's lifetime plus the configured retention window.
type TranscriptEntry struct {
	CallID         string
	SpeakerID      string
	SourceLang     string
	OriginalText   string
	TargetLang     string
	TranslatedText string
	TimestampMS    int64
	TTSMethod      TTSMethod
}

// CallStatus enumerates the lifecycle states of a call.
type CallStatus string

const (
	CallInitiating CallStatus = "initiating"
	CallRinging    CallStatus = "ringing"
	CallOngoing    CallStatus = "ongoing"
	CallEnded      CallStatus = "ended"
	CallMissed     CallStatus = "missed"
)

// IsValid reports whether s is a recognised call status.
func (s CallStatus) IsValid() bool {
	switch s {
	case CallInitiating, CallRinging, CallOngoing, CallEnded, CallMissed:
		return true
	}
	return false
}

// Terminal reports whether the status is a final state.
func (s CallStatus) Terminal() bool { return s == CallEnded || s == CallMissed }

// DefaultVoiceProfile is the voice profile reference used when a participant
// has no cloned voice configured.
const DefaultVoiceProfile = "default"

// Participant is a user's role in a call.
type Participant struct {
	CallID string
	UserID string

	// SpokenLang is the participant's language as a canonical BCP-47 tag.
	// It is fixed for the lifetime of the row; switching languages means
	// leaving and rejoining.
	SpokenLang string

	// DubbingRequired indicates the participant wants synthesized audio in
	// addition to captions.
	DubbingRequired bool

	// VoiceProfile is an optional reference to a synthesis voice used when
	// dubbing this participant's speech for others. Empty means the default
	// voice for the target language.
	VoiceProfile string

	// VoiceScore is the similarity score the clone training assigned to
	// VoiceProfile, in [0, 1]. Zero means the profile was never scored.
	VoiceScore float64

	// Muted suppresses ingest of this participant's audio.
	Muted bool

	// Connected reports whether a live gateway session currently owns this
	// participant. Kept true during the reconnect grace window.
	Connected bool

	JoinedAt time.Time

	// LeftAt is the zero value while the participant is in the call.
	LeftAt time.Time
}

// Left reports whether the participant has left the call.
func (p Participant) Left() bool { return !p.LeftAt.IsZero() }

// VoiceCloneQuality grades a cloned voice profile.
type VoiceCloneQuality string

const (
	// VoiceQualityUnrated means no training score was recorded.
	VoiceQualityUnrated VoiceCloneQuality = "unrated"
	VoiceQualityLow     VoiceCloneQuality = "low"
	VoiceQualityMedium  VoiceCloneQuality = "medium"
	VoiceQualityHigh    VoiceCloneQuality = "high"
)

// VoiceCloneQualityFromScore grades a clone training score.
func VoiceCloneQualityFromScore(score float64) VoiceCloneQuality {
	switch {
	case score <= 0:
		return VoiceQualityUnrated
	case score < 0.5:
		return VoiceQualityLow
	case score < 0.8:
		return VoiceQualityMedium
	default:
		return VoiceQualityHigh
	}
}

// CloneUsable reports whether a participant's voice profile should be used
// for dubbing. Low-scored clones fall back to the default voice; unrated
// profiles are trusted.
func (p Participant) CloneUsable() bool {
	return p.VoiceProfile != "" && VoiceCloneQualityFromScore(p.VoiceScore) != VoiceQualityLow
}
