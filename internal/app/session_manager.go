package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/swaracoach/internal/api"
	"github.com/MrWong99/swaracoach/internal/config"
	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/mantra"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/sessionstore"
	"github.com/MrWong99/swaracoach/internal/swara"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/audio/playback"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	SessionID  string
	Section    string
	Cycles     int
	BaselineHz float64
	StartedAt  time.Time
}

// Settings are the engine parameters new sessions are created with. Some of
// them are hot-reloadable; a running session keeps the values it started
// with.
type Settings struct {
	DefaultCycles     int
	MaxUtterance      time.Duration
	TranscribeTimeout time.Duration
	Language          string
	Capture           capture.Options
	FrameSize         int
	VAD               config.VADConfig
	Swara             config.SwaraConfig
}

// SettingsFromConfig extracts the session settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	opts := capture.DefaultOptions()
	opts.SampleRate = cfg.Audio.CaptureSampleRate
	return Settings{
		DefaultCycles:     cfg.Practice.DefaultCycles,
		MaxUtterance:      cfg.Practice.MaxUtterance,
		TranscribeTimeout: cfg.Practice.TranscribeTimeout,
		Language:          cfg.Practice.Language,
		Capture:           opts,
		FrameSize:         cfg.Audio.FrameSize,
		VAD:               cfg.VAD,
		Swara:             cfg.Swara,
	}
}

// detector maps the swara settings onto the pitch detector.
func (s Settings) detector() swara.DetectorConfig {
	return swara.DetectorConfig{MinHz: s.Swara.MinHz, MaxHz: s.Swara.MaxHz}
}

// AnalyzeOptions maps the swara settings onto offline analysis.
func (s Settings) AnalyzeOptions() swara.AnalyzeOptions {
	return swara.AnalyzeOptions{
		ToleranceSt:    s.Swara.ToleranceSt,
		MinDuration:    s.Swara.MinGradable,
		MinVoicedRatio: s.Swara.MinVoicedRatio,
		Detector:       s.detector(),
	}
}

// SessionManager hosts practice sessions. The process owns one microphone
// and one speaker, so at most one session is active at a time.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	active   bool
	info     SessionInfo
	engine   *engine.Engine
	settings Settings

	// closers are called in reverse order during Close.
	closers []func() error

	// Dependencies injected at construction.
	library     *mantra.Library
	player      playback.Player
	microphone  capture.Microphone
	vad         vad.Engine
	transcriber stt.Provider
	store       sessionstore.Store
	metrics     *observe.Metrics
	observers   []engine.Observer
	now         func() time.Time
}

var _ api.Sessions = (*SessionManager)(nil)

// SessionManagerConfig holds all dependencies for a [SessionManager].
// Library, Player, Microphone and VAD are required; Transcriber, Store and
// Observers are optional.
type SessionManagerConfig struct {
	Library     *mantra.Library
	Player      playback.Player
	Microphone  capture.Microphone
	VAD         vad.Engine
	Transcriber stt.Provider
	Store       sessionstore.Store
	Metrics     *observe.Metrics
	Settings    Settings

	// Observers are attached to every session's engine.
	Observers []engine.Observer
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		settings:    cfg.Settings,
		library:     cfg.Library,
		player:      cfg.Player,
		microphone:  cfg.Microphone,
		vad:         cfg.VAD,
		transcriber: cfg.Transcriber,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		observers:   cfg.Observers,
		now:         time.Now,
	}
}

// Create builds an engine for the requested section. It fails with
// [api.ErrSessionActive] while another session is active and with
// [mantra.ErrSectionNotFound] for unknown sections.
func (sm *SessionManager) Create(ctx context.Context, req api.CreateRequest) (engine.Controller, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return nil, fmt.Errorf("session: %w (id=%s)", api.ErrSessionActive, sm.info.SessionID)
	}
	if sm.library == nil {
		return nil, fmt.Errorf("session: %w: no mantra library loaded", mantra.ErrSectionNotFound)
	}
	sec, err := sm.library.Section(req.Section)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	set := sm.settings
	cycles := req.Cycles
	if cycles == 0 {
		cycles = set.DefaultCycles
	}
	baseline := req.BaselineHz
	if baseline == 0 {
		baseline = set.Swara.BaselineHz
	}

	lines := make([]engine.Line, len(sec.Lines))
	for i, l := range sec.Lines {
		lines[i] = engine.Line{Audio: sec.AudioURL(i), Start: l.Start, End: l.End, Text: l.Text}
	}

	opts := []engine.Option{
		engine.WithMetrics(sm.metrics),
		engine.WithStore(sm.store),
		engine.WithClock(sm.now),
	}
	if sm.transcriber != nil {
		opts = append(opts, engine.WithTranscriber(sm.transcriber))
	}
	for _, o := range sm.observers {
		opts = append(opts, engine.WithObserver(o))
	}
	e, err := engine.New(engine.Config{
		StoreKey:     sec.ID,
		Mode:         sec.Mode,
		Lines:             lines,
		Cycles:            cycles,
		Player:            sm.player,
		Microphone:        sm.microphone,
		VAD:               sm.vad,
		Capture:           set.Capture,
		FrameSize:         set.FrameSize,
		RMSThreshold:      set.VAD.RMSThreshold,
		MinSilence:        set.VAD.MinSilence(),
		MaxUtterance:      set.MaxUtterance,
		TranscribeTimeout: set.TranscribeTimeout,
		BaselineHz:        baseline,
		Detector:          set.detector(),
		Language:          set.Language,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sm.metrics.ActiveSessions.Add(ctx, 1)
	sm.closers = []func() error{
		func() error {
			sm.metrics.ActiveSessions.Add(context.Background(), -1)
			return nil
		},
		e.Close,
	}
	sm.active = true
	sm.engine = e
	sm.info = SessionInfo{
		SessionID:  e.ID(),
		Section:    sec.ID,
		Cycles:     e.Snapshot().Context.TotalCyclesTarget,
		BaselineHz: baseline,
		StartedAt:  sm.now().UTC(),
	}

	slog.Info("session created",
		"session_id", sm.info.SessionID,
		"section", sec.ID,
		"lines", len(lines),
		"cycles", sm.info.Cycles,
		"baseline_hz", baseline,
	)
	return e, nil
}

// Get returns the active session if its id is id.
func (sm *SessionManager) Get(id string) (engine.Controller, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active || sm.info.SessionID != id {
		return nil, false
	}
	return sm.engine, true
}

// Close stops the session id, releases its audio devices and discards it.
func (sm *SessionManager) Close(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active || sm.info.SessionID != id {
		return fmt.Errorf("session: %w: %s", api.ErrUnknownSession, id)
	}
	sm.closeLocked()
	return nil
}

// CloseAll closes the active session, if any.
func (sm *SessionManager) CloseAll() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active {
		sm.closeLocked()
	}
	return nil
}

func (sm *SessionManager) closeLocked() {
	sessionID := sm.info.SessionID
	for i := len(sm.closers) - 1; i >= 0; i-- {
		if err := sm.closers[i](); err != nil {
			slog.Warn("session: closer error", "session_id", sessionID, "index", i, "err", err)
		}
	}
	sm.active = false
	sm.engine = nil
	sm.closers = nil
	sm.info = SessionInfo{}
	slog.Info("session closed", "session_id", sessionID)
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session, or the zero value.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Settings returns the settings new sessions get.
func (sm *SessionManager) Settings() Settings {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.settings
}

// UpdateSettings replaces the settings for sessions created from now on.
func (sm *SessionManager) UpdateSettings(fn func(*Settings)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	fn(&sm.settings)
}
