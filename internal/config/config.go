// Package config provides the configuration schema, loader, provider
// registry and hot-reload watcher for the swaracoach practice service.
package config

import (
	"time"

	"github.com/MrWong99/swaracoach/internal/practice"
)

// LogLevel controls log verbosity.
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

// StoreBackend selects where practice snapshots are kept.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreFile     StoreBackend = "file"
	StorePostgres StoreBackend = "postgres"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StoreFile, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Practice  PracticeConfig  `yaml:"practice"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Swara     SwaraConfig     `yaml:"swara"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Events    EventsConfig    `yaml:"events"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls log verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds paths to TLS certificate and key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PracticeConfig drives the practice engine.
type PracticeConfig struct {
	// DefaultCycles is the listen/repeat cycles per line for new sessions;
	// one of 3, 5, 9, 11. Hot-reloadable.
	DefaultCycles int `yaml:"default_cycles"`

	// MantraFile is the YAML file with the reference sections.
	MantraFile string `yaml:"mantra_file"`

	// MaxUtterance ends a learner repetition that has not finished by
	// itself. Zero leaves the silence detector as the only bound.
	MaxUtterance time.Duration `yaml:"max_utterance"`

	// TranscribeTimeout bounds one transcription of a repetition across the
	// whole backend chain. On expiry the repetition is recorded as unclear.
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`

	// Language is passed to transcription backends.
	Language string `yaml:"language"`
}

// AudioConfig selects and tunes the audio devices.
type AudioConfig struct {
	// Capture names the registered microphone backend ("malgo", "portaudio").
	Capture string `yaml:"capture"`

	// CaptureSampleRate is the rate requested from the microphone.
	CaptureSampleRate int `yaml:"capture_sample_rate"`

	// PlaybackSampleRate is the speaker rate reference audio is resampled to.
	PlaybackSampleRate int `yaml:"playback_sample_rate"`

	// FrameSize is the analysis window in samples.
	FrameSize int `yaml:"frame_size"`

	// MaxReferenceBytes caps a downloaded reference recording.
	MaxReferenceBytes int64 `yaml:"max_reference_bytes"`
}

// VADConfig tunes the voice activity detector. The thresholds are
// hot-reloadable; Engine is not.
type VADConfig struct {
	// Engine names the registered detector ("rms").
	Engine string `yaml:"engine"`

	RMSThreshold float64 `yaml:"rms_threshold"`
	MinSilenceMs int     `yaml:"min_silence_ms"`
}

// MinSilence returns MinSilenceMs as a duration.
func (v VADConfig) MinSilence() time.Duration {
	return time.Duration(v.MinSilenceMs) * time.Millisecond
}

// SwaraConfig tunes pitch classification and scoring. Hot-reloadable.
type SwaraConfig struct {
	// BaselineHz is the base tone used when a session does not set one.
	BaselineHz float64 `yaml:"baseline_hz"`

	ToleranceSt    float64       `yaml:"tolerance_st"`
	MinGradable    time.Duration `yaml:"min_gradable"`
	MinVoicedRatio float64       `yaml:"min_voiced_ratio"`
	MinHz          float64       `yaml:"min_hz"`
	MaxHz          float64       `yaml:"max_hz"`
}

// ProvidersConfig lists external provider backends.
type ProvidersConfig struct {
	// STT is tried in order; later entries are fallbacks.
	STT []ProviderEntry `yaml:"stt"`

	// Breaker configures the per-backend circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures circuit breakers around providers.
type BreakerConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`

	// AttemptTimeout bounds a single backend call. An expired attempt
	// counts as a failure and the next backend is tried.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ProviderEntry is the configuration for a single provider backend.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds backend-specific settings.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string.
func (e ProviderEntry) OptionString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// SessionConfig configures snapshot persistence.
type SessionConfig struct {
	Store       StoreBackend  `yaml:"store"`
	Dir         string        `yaml:"dir"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Freshness   time.Duration `yaml:"freshness"`
}

// EventsConfig configures publishing of state updates to NATS. An empty
// NATSURL disables publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ObserveConfig configures metrics and tracing.
type ObserveConfig struct {
	ServiceName string `yaml:"service_name"`
	Tracing     bool   `yaml:"tracing"`
}

// Defaults.
const (
	DefaultListenAddr         = ":8080"
	DefaultCaptureBackend     = "malgo"
	DefaultPlaybackSampleRate = 48000
	DefaultRMSThreshold       = 0.01
	DefaultMinSilenceMs       = 800
	DefaultBaselineHz         = 150.0
	DefaultTranscribeTimeout  = 15 * time.Second
	DefaultAttemptTimeout     = 10 * time.Second
	DefaultSubjectPrefix      = "swaracoach.sessions"
	DefaultServiceName        = "swaracoach"
)

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Practice.DefaultCycles == 0 {
		cfg.Practice.DefaultCycles = practice.DefaultCycles
	}
	if cfg.Practice.TranscribeTimeout == 0 {
		cfg.Practice.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if cfg.Providers.Breaker.AttemptTimeout == 0 {
		cfg.Providers.Breaker.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Practice.Language == "" {
		cfg.Practice.Language = "sa"
	}
	if cfg.Audio.Capture == "" {
		cfg.Audio.Capture = DefaultCaptureBackend
	}
	if cfg.Audio.CaptureSampleRate == 0 {
		cfg.Audio.CaptureSampleRate = 16000
	}
	if cfg.Audio.PlaybackSampleRate == 0 {
		cfg.Audio.PlaybackSampleRate = DefaultPlaybackSampleRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = 2048
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = "rms"
	}
	if cfg.VAD.RMSThreshold == 0 {
		cfg.VAD.RMSThreshold = DefaultRMSThreshold
	}
	if cfg.VAD.MinSilenceMs == 0 {
		cfg.VAD.MinSilenceMs = DefaultMinSilenceMs
	}
	if cfg.Swara.BaselineHz == 0 {
		cfg.Swara.BaselineHz = DefaultBaselineHz
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = StoreMemory
	}
	if cfg.Session.Freshness == 0 {
		cfg.Session.Freshness = 24 * time.Hour
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = DefaultServiceName
	}
}
