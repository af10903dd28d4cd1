package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/swaracoach/internal/practice"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "whisper-native", "openai", "deepgram"},
	"capture": {"malgo", "portaudio"},
	"vad":     {"rms"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Practice
	if err := practice.ValidateCycles(cfg.Practice.DefaultCycles); err != nil {
		errs = append(errs, fmt.Errorf("practice.default_cycles: %w", err))
	}
	if cfg.Practice.MaxUtterance < 0 {
		errs = append(errs, fmt.Errorf("practice.max_utterance %v must not be negative", cfg.Practice.MaxUtterance))
	}
	if cfg.Practice.TranscribeTimeout < 0 {
		errs = append(errs, fmt.Errorf("practice.transcribe_timeout %v must not be negative", cfg.Practice.TranscribeTimeout))
	}
	if cfg.Providers.Breaker.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.attempt_timeout %v must not be negative", cfg.Providers.Breaker.AttemptTimeout))
	}
	if cfg.Practice.MantraFile == "" {
		slog.Warn("practice.mantra_file is empty; no sections can be practised")
	}

	// Audio
	validateProviderName("capture", cfg.Audio.Capture)
	if cfg.Audio.CaptureSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.capture_sample_rate %d is below 8000", cfg.Audio.CaptureSampleRate))
	}
	if cfg.Audio.PlaybackSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("audio.playback_sample_rate %d is below 8000", cfg.Audio.PlaybackSampleRate))
	}
	if cfg.Audio.FrameSize < 256 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is below 256", cfg.Audio.FrameSize))
	}

	// VAD
	validateProviderName("vad", cfg.VAD.Engine)
	if cfg.VAD.RMSThreshold <= 0 || cfg.VAD.RMSThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.rms_threshold %.4f is out of range (0, 1)", cfg.VAD.RMSThreshold))
	}
	if cfg.VAD.MinSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms %d must not be negative", cfg.VAD.MinSilenceMs))
	}

	// Swara
	if cfg.Swara.BaselineHz < 0 {
		errs = append(errs, fmt.Errorf("swara.baseline_hz %.2f must not be negative", cfg.Swara.BaselineHz))
	}
	if cfg.Swara.ToleranceSt < 0 {
		errs = append(errs, fmt.Errorf("swara.tolerance_st %.2f must not be negative", cfg.Swara.ToleranceSt))
	}
	if cfg.Swara.MinVoicedRatio < 0 || cfg.Swara.MinVoicedRatio > 1 {
		errs = append(errs, fmt.Errorf("swara.min_voiced_ratio %.2f is out of range [0, 1]", cfg.Swara.MinVoicedRatio))
	}
	if cfg.Swara.MaxHz != 0 && cfg.Swara.MaxHz <= cfg.Swara.MinHz {
		errs = append(errs, fmt.Errorf("swara.max_hz %.1f must exceed min_hz %.1f", cfg.Swara.MaxHz, cfg.Swara.MinHz))
	}

	// Providers
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; every repetition will be transcribed as a placeholder")
	}
	seen := make(map[string]int, len(cfg.Providers.STT))
	for i, p := range cfg.Providers.STT {
		prefix := fmt.Sprintf("providers.stt[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.stt[%d]", prefix, p.Name, prev))
		}
		seen[p.Name] = i
		validateProviderName("stt", p.Name)
	}
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.breaker.max_failures %d must not be negative", cfg.Providers.Breaker.MaxFailures))
	}

	// Session
	if !cfg.Session.Store.IsValid() {
		errs = append(errs, fmt.Errorf("session.store %q is invalid; valid values: memory, file, postgres", cfg.Session.Store))
	}
	if cfg.Session.Store == StoreFile && cfg.Session.Dir == "" {
		errs = append(errs, errors.New("session.dir is required when session.store is file"))
	}
	if cfg.Session.Store == StorePostgres && cfg.Session.PostgresDSN == "" {
		errs = append(errs, errors.New("session.postgres_dsn is required when session.store is postgres"))
	}
	if cfg.Session.Freshness < 0 {
		errs = append(errs, fmt.Errorf("session.freshness %v must not be negative", cfg.Session.Freshness))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
