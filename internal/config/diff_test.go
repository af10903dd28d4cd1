package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/swaracoach/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, validYAML)
	b := mustLoad(t, validYAML)
	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, "")
	updated := mustLoad(t, `
server:
  log_level: warn
practice:
  default_cycles: 9
vad:
  min_silence_ms: 1000
swara:
  tolerance_st: 0.3
`)
	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level diff = %v %q", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.DefaultCyclesChanged || d.NewDefaultCycles != 9 {
		t.Errorf("cycles diff = %v %d", d.DefaultCyclesChanged, d.NewDefaultCycles)
	}
	if !d.VADChanged || d.NewVAD.MinSilenceMs != 1000 {
		t.Errorf("vad diff = %v %+v", d.VADChanged, d.NewVAD)
	}
	if !d.SwaraChanged || d.NewSwara.ToleranceSt != 0.3 {
		t.Errorf("swara diff = %v %+v", d.SwaraChanged, d.NewSwara)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot changes flagged for restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, "")
	updated := mustLoad(t, `
server:
  listen_addr: ":9999"
audio:
  capture: portaudio
providers:
  stt:
    - name: whisper
events:
  nats_url: nats://x:4222
`)
	d := config.Diff(old, updated)
	for _, want := range []string{"server.listen_addr", "audio", "providers", "events"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if d.LogLevelChanged || d.VADChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "providers:\n  stt:\n    - name: deepgram\n      options:\n        language: multi\n")
	b := mustLoad(t, "providers:\n  stt:\n    - name: deepgram\n      options:\n        language: hi\n")
	if d := config.Diff(a, b); !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("option change not detected: %+v", d)
	}
}
