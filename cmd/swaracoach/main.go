// Command swaracoach serves the recitation practice engine over HTTP and
// analyses recordings from the command line.
//
// Usage:
//
//	swaracoach [-config config.yaml]
//	swaracoach analyze -section ID [-line N] [-baseline HZ | -estimate-baseline] recording.wav
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/swaracoach/internal/app"
	"github.com/MrWong99/swaracoach/internal/config"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/audio/capture/malgo"
	"github.com/MrWong99/swaracoach/pkg/audio/capture/portaudio"
	"github.com/MrWong99/swaracoach/pkg/audio/playback"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/swaracoach/pkg/provider/stt/openai"
	"github.com/MrWong99/swaracoach/pkg/provider/stt/whisper"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
	"github.com/MrWong99/swaracoach/pkg/provider/vad/rms"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "analyze" {
		os.Exit(runAnalyze(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swaracoach: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(level))

	slog.Info("swaracoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Observe.ServiceName,
		ServiceVersion: version,
		Tracing:        cfg.Observe.Tracing,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	var closers closerList
	registerBuiltinProviders(reg, &closers)
	defer closers.closeAll()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// closerList collects device and model handles opened by provider factories.
type closerList []func() error

func (c *closerList) add(fn func() error) { *c = append(*c, fn) }

func (c *closerList) closeAll() {
	for i := len(*c) - 1; i >= 0; i-- {
		if err := (*c)[i](); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Handles that must be released on exit are added to closers.
func registerBuiltinProviders(reg *config.Registry, closers *closerList) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		closers.add(p.Close)
		return p, nil
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("rms", func(config.VADConfig) (vad.Engine, error) {
		return rms.New(), nil
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterMicrophone("malgo", func(config.AudioConfig) (capture.Microphone, error) {
		m, err := malgo.New()
		if err != nil {
			return nil, err
		}
		closers.add(m.Close)
		return m, nil
	})

	reg.RegisterMicrophone("portaudio", func(config.AudioConfig) (capture.Microphone, error) {
		m, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		closers.add(m.Close)
		return m, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", "stt", "name", entry.Name)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = append(ps.STT, app.NamedTranscriber{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	v, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("create vad %q: %w", cfg.VAD.Engine, err)
	}
	ps.VAD = v
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Engine)

	mic, err := reg.CreateMicrophone(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("open capture backend %q: %w", cfg.Audio.Capture, err)
	}
	ps.Microphone = mic
	slog.Info("provider created", "kind", "capture", "name", cfg.Audio.Capture)

	sink, err := playback.NewOtoSink(cfg.Audio.PlaybackSampleRate, 1)
	if err != nil {
		return nil, err
	}
	ps.Sink = sink
	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       swaracoach startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if len(cfg.Providers.STT) == 0 {
		printRow("STT", "(not configured)")
	}
	for _, e := range cfg.Providers.STT {
		value := e.Name
		if e.Model != "" {
			value += " / " + e.Model
		}
		printRow("STT", value)
	}
	printRow("VAD", cfg.VAD.Engine)
	printRow("Capture", cfg.Audio.Capture)
	printRow("Store", string(cfg.Session.Store))
	if cfg.Events.NATSURL != "" {
		printRow("Events", cfg.Events.NATSURL)
	} else {
		printRow("Events", "(disabled)")
	}
	printRow("Cycles", fmt.Sprint(cfg.Practice.DefaultCycles))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
