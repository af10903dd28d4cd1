package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/swaracoach/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{name: "log level", yaml: "server:\n  log_level: loud\n", want: []string{"server.log_level"}},
		{name: "tls half", yaml: "server:\n  tls:\n    cert_file: c.pem\n", want: []string{"server.tls"}},
		{name: "cycles", yaml: "practice:\n  default_cycles: 4\n", want: []string{"practice.default_cycles", "[3 5 9 11]"}},
		{name: "max utterance", yaml: "practice:\n  max_utterance: -1s\n", want: []string{"practice.max_utterance"}},
		{name: "transcribe timeout", yaml: "practice:\n  transcribe_timeout: -1s\n", want: []string{"practice.transcribe_timeout"}},
		{name: "attempt timeout", yaml: "providers:\n  breaker:\n    attempt_timeout: -1s\n", want: []string{"providers.breaker.attempt_timeout"}},
		{name: "frame size", yaml: "audio:\n  frame_size: 64\n", want: []string{"audio.frame_size"}},
		{name: "rms threshold", yaml: "vad:\n  rms_threshold: 1.5\n", want: []string{"vad.rms_threshold"}},
		{name: "voiced ratio", yaml: "swara:\n  min_voiced_ratio: 2\n", want: []string{"swara.min_voiced_ratio"}},
		{name: "pitch range", yaml: "swara:\n  min_hz: 300\n  max_hz: 200\n", want: []string{"swara.max_hz"}},
		{name: "stt name", yaml: "providers:\n  stt:\n    - model: x\n", want: []string{"providers.stt[0].name"}},
		{name: "stt duplicate", yaml: "providers:\n  stt:\n    - name: whisper\n    - name: whisper\n", want: []string{"duplicate"}},
		{name: "store", yaml: "session:\n  store: redis\n", want: []string{"session.store"}},
		{name: "file dir", yaml: "session:\n  store: file\n", want: []string{"session.dir"}},
		{name: "postgres dsn", yaml: "session:\n  store: postgres\n", want: []string{"session.postgres_dsn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q should mention %q", err, w)
				}
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
practice:
  default_cycles: 7
session:
  store: postgres
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, w := range []string{"server.log_level", "practice.default_cycles", "session.postgres_dsn"} {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("joined error should mention %q, got: %v", w, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "capture", "vad"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	// Unknown names only warn.
	if _, err := config.LoadFromReader(strings.NewReader("providers:\n  stt:\n    - name: custom\n")); err != nil {
		t.Errorf("unknown provider name rejected: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "swaracoach.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Practice.MantraFile != "mantras.yaml" {
		t.Errorf("mantra_file = %q", cfg.Practice.MantraFile)
	}
	if _, err := config.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
