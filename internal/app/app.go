// Package app wires the swaracoach subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until its context ends, and Shutdown
// tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithStore,
// WithLibrary, WithEventConn, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/swaracoach/internal/api"
	"github.com/MrWong99/swaracoach/internal/config"
	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/events"
	"github.com/MrWong99/swaracoach/internal/health"
	"github.com/MrWong99/swaracoach/internal/mantra"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/resilience"
	"github.com/MrWong99/swaracoach/internal/sessionstore"
	"github.com/MrWong99/swaracoach/internal/swara"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/audio/playback"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// NamedTranscriber is one entry of the transcription fallback chain.
type NamedTranscriber struct {
	Name     string
	Provider stt.Provider
}

// Providers holds the device and backend implementations built by main.go
// via the config registry. STT may be empty; the rest are required unless
// the matching option overrides them.
type Providers struct {
	STT        []NamedTranscriber
	VAD        vad.Engine
	Microphone capture.Microphone
	Sink       playback.Sink
}

// pruneInterval is how often expired snapshots are deleted from stores
// that support it.
const pruneInterval = time.Hour

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	library     *mantra.Library
	store       sessionstore.Store
	transcriber *resilience.TranscriberFallback
	player      playback.Player
	eventConn   events.Conn
	publisher   *events.Publisher
	sessions    *SessionManager
	health      *health.Handler
	server      *api.Server

	metrics  *observe.Metrics
	gatherer prometheus.Gatherer
	logLevel *slog.LevelVar

	mu   sync.Mutex
	addr net.Addr

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snapshot store instead of creating one from config.
func WithStore(s sessionstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLibrary injects a mantra library instead of loading practice.mantra_file.
func WithLibrary(lib *mantra.Library) Option {
	return func(a *App) { a.library = lib }
}

// WithPlayer injects the reference audio player instead of wrapping
// Providers.Sink.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// WithEventConn injects the broker connection instead of dialing
// events.nats_url.
func WithEventConn(c events.Conn) Option {
	return func(a *App) { a.eventConn = c }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer sets the registry /metrics serves.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithLogLevel hands the App the level variable of the process logger so
// log_level changes apply without a restart.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: library loading, store
// connection and migration, transcription chain assembly, broker connection
// and HTTP router construction.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Mantra library ────────────────────────────────────────────────
	if a.library == nil && cfg.Practice.MantraFile != "" {
		lib, err := mantra.Load(cfg.Practice.MantraFile)
		if err != nil {
			return nil, fmt.Errorf("app: load mantras: %w", err)
		}
		a.library = lib
	}

	// ── 2. Snapshot store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Transcription chain ───────────────────────────────────────────
	a.initTranscriber()

	// ── 4. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 5. Event publisher ───────────────────────────────────────────────
	if err := a.initEvents(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init events: %w", err)
	}

	// ── 6. Session manager ───────────────────────────────────────────────
	var observers []engine.Observer
	if a.publisher != nil {
		observers = append(observers, a.publisher)
	}
	smCfg := SessionManagerConfig{
		Library:    a.library,
		Player:     a.player,
		Microphone: providers.Microphone,
		VAD:        providers.VAD,
		Store:      a.store,
		Metrics:    a.metrics,
		Settings:   SettingsFromConfig(cfg),
		Observers:  observers,
	}
	if a.transcriber != nil {
		smCfg.Transcriber = a.transcriber
	}
	a.sessions = NewSessionManager(smCfg)
	a.closers = append(a.closers, a.sessions.CloseAll)

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	var breakers interface{ Healthy() bool }
	if a.transcriber != nil {
		breakers = a.transcriber
	}
	a.health = health.New(health.StoreCheck(a.store), health.TranscriberCheck(breakers))
	a.server = api.New(api.Config{
		Sessions: a.sessions,
		Library:  a.library,
		AnalyzeDefaults: func() swara.AnalyzeOptions {
			return a.sessions.Settings().AnalyzeOptions()
		},
		Metrics:  a.metrics,
		Health:   a.health,
		Gatherer: a.gatherer,
	})

	sections := 0
	if a.library != nil {
		sections = len(a.library.Sections)
	}
	slog.Info("app initialised",
		"sections", sections,
		"store", cfg.Session.Store,
		"transcribers", len(providers.STT),
		"events", a.publisher != nil,
	)
	return a, nil
}

// initStore selects the snapshot backend named by session.store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	window := sessionstore.WithWindow(a.cfg.Session.Freshness)
	switch a.cfg.Session.Store {
	case config.StoreFile:
		fs, err := sessionstore.NewFileStore(a.cfg.Session.Dir, window)
		if err != nil {
			return err
		}
		a.store = fs
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Session.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		ps := sessionstore.NewPostgresStore(pool, window)
		if err := ps.Migrate(ctx); err != nil {
			return err
		}
		a.store = ps
	default:
		a.store = sessionstore.NewMemoryStore(window)
	}
	return nil
}

// initTranscriber puts every configured backend behind its own circuit
// breaker, tried in configuration order.
func (a *App) initTranscriber() {
	if len(a.providers.STT) == 0 {
		slog.Warn("no transcription backend configured; repetitions are recorded as unclear")
		return
	}
	b := a.cfg.Providers.Breaker
	fb := resilience.NewTranscriberFallback(resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures: b.MaxFailures,
			Cooldown:    b.Cooldown,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("transcription breaker changed state",
					"provider", name, "from", from.String(), "to", to.String())
				a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		AttemptTimeout: b.AttemptTimeout,
	})
	for _, t := range a.providers.STT {
		fb.Add(t.Name, t.Provider)
	}
	a.transcriber = fb
}

func (a *App) initAudio() error {
	if a.player == nil {
		if a.providers.Sink == nil {
			return errors.New("no playback sink configured")
		}
		a.player = playback.New(a.providers.Sink, playback.WithMaxBytes(a.cfg.Audio.MaxReferenceBytes))
	}
	if a.providers.Microphone == nil {
		return errors.New("no microphone configured")
	}
	if a.providers.VAD == nil {
		return errors.New("no voice activity detector configured")
	}
	return nil
}

func (a *App) initEvents(ctx context.Context) error {
	if a.eventConn == nil {
		if a.cfg.Events.NATSURL == "" {
			return nil
		}
		nc, err := events.Connect(ctx, events.ConnectConfig{
			URL:  a.cfg.Events.NATSURL,
			Name: a.cfg.Observe.ServiceName,
		})
		if err != nil {
			return err
		}
		a.eventConn = nc
	}
	a.publisher = events.NewPublisher(a.eventConn, a.cfg.Events.SubjectPrefix)
	a.closers = append(a.closers, a.publisher.Close)
	return nil
}

// Handler returns the HTTP handler of the service.
func (a *App) Handler() http.Handler { return a.server.Router() }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the address Run is listening on, or nil before it started.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on server.listen_addr until ctx is cancelled,
// then drains in-flight requests. Stores that can expire snapshots are
// pruned in the background.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if p, ok := a.store.(interface {
		Prune(context.Context) (int64, error)
	}); ok {
		g.Go(func() error {
			a.pruneLoop(gctx, p.Prune)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

func (a *App) pruneLoop(ctx context.Context, prune func(context.Context) (int64, error)) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := prune(ctx)
			if err != nil {
				slog.Warn("snapshot prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("pruned expired snapshots", "count", n)
			}
		}
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. A
// running session keeps its settings; the next session picks up the new
// ones.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DefaultCyclesChanged || d.VADChanged || d.SwaraChanged {
		a.sessions.UpdateSettings(func(s *Settings) {
			if d.DefaultCyclesChanged {
				s.DefaultCycles = d.NewDefaultCycles
			}
			if d.VADChanged {
				s.VAD = d.NewVAD
			}
			if d.SwaraChanged {
				s.Swara = d.NewSwara
			}
		})
		slog.Info("practice settings reloaded",
			"default_cycles", d.DefaultCyclesChanged,
			"vad", d.VADChanged,
			"swara", d.SwaraChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ParseLevel maps a config log level onto slog. Unknown values mean info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what a failed New already opened.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
