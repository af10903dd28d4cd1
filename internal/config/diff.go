package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes carry their new value; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultCyclesChanged bool
	NewDefaultCycles     int

	VADChanged bool
	NewVAD     VADConfig

	SwaraChanged bool
	NewSwara     SwaraConfig

	// RestartRequired names changed sections that only apply on restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.DefaultCyclesChanged && !d.VADChanged &&
		!d.SwaraChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Practice.DefaultCycles != new.Practice.DefaultCycles {
		d.DefaultCyclesChanged = true
		d.NewDefaultCycles = new.Practice.DefaultCycles
	}
	if old.VAD.RMSThreshold != new.VAD.RMSThreshold || old.VAD.MinSilenceMs != new.VAD.MinSilenceMs {
		d.VADChanged = true
		d.NewVAD = new.VAD
	}
	if old.Swara != new.Swara {
		d.SwaraChanged = true
		d.NewSwara = new.Swara
	}

	restart := func(name string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !equalTLS(old.Server.TLS, new.Server.TLS))
	restart("practice.mantra_file", old.Practice.MantraFile != new.Practice.MantraFile)
	restart("practice.max_utterance", old.Practice.MaxUtterance != new.Practice.MaxUtterance)
	restart("practice.transcribe_timeout", old.Practice.TranscribeTimeout != new.Practice.TranscribeTimeout)
	restart("practice.language", old.Practice.Language != new.Practice.Language)
	restart("audio", old.Audio != new.Audio)
	restart("vad.engine", old.VAD.Engine != new.VAD.Engine)
	restart("providers", !equalProviders(old.Providers, new.Providers))
	restart("session", old.Session != new.Session)
	restart("events", old.Events != new.Events)
	restart("observe", old.Observe != new.Observe)
	return d
}

func equalTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalProviders(a, b ProvidersConfig) bool {
	if a.Breaker != b.Breaker {
		return false
	}
	return slices.EqualFunc(a.STT, b.STT, func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL &&
			x.Model == y.Model && reflect.DeepEqual(x.Options, y.Options)
	})
}
