// Package config provides the configuration schema and loader for the Vocero
// translation backend.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Vocero.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Session   SessionConfig   `yaml:"session"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the TCP address serving /metrics and /healthz.
	// Empty disables the telemetry listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RedisConfig locates the Redis instance backing the ingest stream and the
// delivery bus.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis; empty for no auth.
	Password string `yaml:"password"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`
}

// PostgresConfig locates the call-state and transcript database.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "mock").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`
}

// ProvidersConfig declares which implementation serves each external speech
// API.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	MT  ProviderEntry `yaml:"mt"`
	TTS ProviderEntry `yaml:"tts"`
}

// PipelineConfig tunes segmentation, the external-API worker pool, and the
// TTS cache.
type PipelineConfig struct {
	// PauseMS is the trailing-silence duration that closes an utterance.
	PauseMS int `yaml:"pause_ms"`

	// MaxUtteranceMS caps utterance duration.
	MaxUtteranceMS int `yaml:"max_utterance_ms"`

	// MinUtteranceMS discards shorter silence-triggered emissions.
	MinUtteranceMS int `yaml:"min_utterance_ms"`

	// RMSSilenceThreshold is the voicing threshold on the int16 scale.
	RMSSilenceThreshold float64 `yaml:"rms_silence_threshold"`

	// APIWorkerPool bounds concurrent external speech API calls.
	APIWorkerPool int `yaml:"api_worker_pool"`

	// MinConfidence drops recognitions scored below it.
	MinConfidence float64 `yaml:"min_confidence"`

	// TTSCacheEntries and TTSCacheBytes bound the synthesis cache.
	TTSCacheEntries int `yaml:"tts_cache_entries"`
	TTSCacheBytes   int `yaml:"tts_cache_bytes"`

	// ContextChars bounds the translation context snippet.
	ContextChars int `yaml:"context_chars"`

	// InterimTranscripts broadcasts the recognized source text ahead of the
	// translated result.
	InterimTranscripts bool `yaml:"interim_transcripts"`
}

// SessionConfig tunes the gateway session lifecycle.
type SessionConfig struct {
	// HeartbeatIntervalMS is the expected client heartbeat cadence.
	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`

	// HeartbeatTimeoutMS tears down sessions silent for this long.
	HeartbeatTimeoutMS int `yaml:"heartbeat_timeout_ms"`

	// ReconnectGraceMS holds a session slot open after an abrupt disconnect.
	ReconnectGraceMS int `yaml:"reconnect_grace_ms"`

	// IncludeSpeaker mirrors the speaker's own translation back to them.
	IncludeSpeaker bool `yaml:"include_speaker"`

	// MinFrameBytes drops shorter binary frames as presumed noise.
	MinFrameBytes int `yaml:"min_frame_bytes"`
}

// IngestConfig tunes the Redis stream transport between gateways and workers.
type IngestConfig struct {
	// BackpressureMax is the per-session stream depth beyond which the oldest
	// frames are dropped.
	BackpressureMax int `yaml:"backpressure_max"`

	// VisibilityTimeoutMS is how long a delivered-but-unacked record stays
	// with a crashed worker before being reclaimed.
	VisibilityTimeoutMS int `yaml:"visibility_timeout_ms"`

	// BatchSize is the number of records a worker reads per blocking call.
	BatchSize int `yaml:"batch_size"`

	// Workers is the number of stream consumer goroutines. Zero sizes the
	// pool to GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// Durations with defaults applied. Keeping the raw config integers in
// milliseconds matches the wire-level knob names; these helpers are what the
// rest of the code consumes.

// Pause returns the segmentation pause as a duration.
func (p PipelineConfig) Pause() time.Duration {
	return time.Duration(p.PauseMS) * time.Millisecond
}

// MaxUtterance returns the utterance cap as a duration.
func (p PipelineConfig) MaxUtterance() time.Duration {
	return time.Duration(p.MaxUtteranceMS) * time.Millisecond
}

// MinUtterance returns the minimum emission length as a duration.
func (p PipelineConfig) MinUtterance() time.Duration {
	return time.Duration(p.MinUtteranceMS) * time.Millisecond
}

// HeartbeatTimeout returns the session liveness bound as a duration.
func (s SessionConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(s.HeartbeatTimeoutMS) * time.Millisecond
}

// ReconnectGrace returns the reconnect window as a duration.
func (s SessionConfig) ReconnectGrace() time.Duration {
	return time.Duration(s.ReconnectGraceMS) * time.Millisecond
}

// VisibilityTimeout returns the pending-reclaim bound as a duration.
func (i IngestConfig) VisibilityTimeout() time.Duration {
	return time.Duration(i.VisibilityTimeoutMS) * time.Millisecond
}
