// Package engine drives a practice run: it feeds events into the pure
// [practice.Machine] one at a time and performs the I/O each state asks for.
//
// The driver is a single goroutine that owns the current snapshot. Playback
// and capture run as tasks beside it and report back by posting events.
// Follow-up events produced by a transition (INIT_DONE, CYCLE_DONE,
// NEXT_LINE) are queued and handled on the next loop iteration, never
// recursively. At most one task is alive at a time: the driver cancels and
// joins the current task on every transition before it starts the next, so
// the microphone and the speaker are never held together.
//
// Every transition is published to the engine's observers as an [Update].
// Snapshots are written to the session store on entry to app_play,
// user_repeat_1, user_repeat_2 and advance_line, and cleared on
// section_complete.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/practice"
	"github.com/MrWong99/swaracoach/internal/sessionstore"
	"github.com/MrWong99/swaracoach/internal/swara"
	"github.com/MrWong99/swaracoach/internal/transcript/phonetic"
	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/audio/playback"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// UnclearTranscript replaces the transcript of a repetition that could not
// be transcribed.
const UnclearTranscript = "[unclear]"

// DefaultTranscribeTimeout is used when Config.TranscribeTimeout is zero.
const DefaultTranscribeTimeout = 15 * time.Second

var (
	// ErrNotRunning is returned by every command after Close.
	ErrNotRunning = errors.New("engine: not running")

	// ErrInvalidCycles is returned by SetRepeatCycles for a count outside
	// practice.ValidCycles.
	ErrInvalidCycles = errors.New("engine: invalid repeat cycles")
)

// Line is one practice line as the engine needs it.
type Line struct {
	// Audio is the reference recording URL.
	Audio string

	// Start and End trim the reference. Zero End plays to the end.
	Start, End time.Duration

	// Text is what the learner is expected to recite. It biases
	// transcription and is the reference for the similarity score.
	Text string
}

// Config holds everything an Engine needs. Player, Microphone and VAD are
// required.
type Config struct {
	// SessionID labels logs, spans and updates. Empty gets a random uuid.
	SessionID string

	// StoreKey addresses the persisted snapshot. Empty disables
	// persistence even when a store is configured.
	StoreKey string

	Mode  practice.Mode
	Lines []Line

	// Cycles is the initial repeat target. Invalid values fall back to
	// practice.DefaultCycles.
	Cycles int

	Player     playback.Player
	Microphone capture.Microphone
	VAD        vad.Engine

	// Capture preferences. A zero SampleRate means audio.DefaultSampleRate.
	Capture capture.Options

	// FrameSize is the analysis window in samples. Zero means
	// audio.DefaultWindowSize.
	FrameSize int

	// RMSThreshold and MinSilence tune the per-repeat VAD session.
	RMSThreshold float64
	MinSilence   time.Duration

	// MaxUtterance closes a capture that has not ended after this long and
	// treats it as complete. Zero disables the ceiling.
	MaxUtterance time.Duration

	// TranscribeTimeout bounds one transcription. On expiry the repetition
	// is recorded as [UnclearTranscript]. Zero means
	// DefaultTranscribeTimeout.
	TranscribeTimeout time.Duration

	// BaselineHz is the learner's base tone for live swara feedback. Zero
	// reports pitch without classification.
	BaselineHz float64

	// Detector tunes the live pitch tracker.
	Detector swara.DetectorConfig

	// Language is passed to the transcriber as a hint.
	Language string
}

// Option configures optional collaborators of an Engine.
type Option func(*Engine)

// WithTranscriber sets the transcription backend. Without one every
// repetition is recorded as [UnclearTranscript].
func WithTranscriber(p stt.Provider) Option {
	return func(e *Engine) { e.stt = p }
}

// WithStore enables snapshot persistence.
func WithStore(s sessionstore.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver adds an observer that receives every update for the whole
// life of the engine.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithMetrics records engine metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMatcher overrides the transcript similarity matcher.
func WithMatcher(m *phonetic.Matcher) Option {
	return func(e *Engine) { e.matcher = m }
}

// WithClock overrides time.Now for snapshots and updates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine is one practice run over a fixed list of lines. All exported
// methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	machine *practice.Machine

	stt     stt.Provider
	store   sessionstore.Store
	metrics *observe.Metrics
	matcher *phonetic.Matcher
	now     func() time.Time

	observers []Observer
	obsMu     sync.Mutex
	subs      map[int]Observer
	nextSub   int
	seq       uint64

	// deliverMu serialises publish so observers see Seq in order.
	deliverMu sync.Mutex

	inbox chan item
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	// base carries the session id into logs and spans.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	snap     practice.Snapshot
	lastLine int

	// Owned by the driver goroutine.
	pending []practice.Event
	gen     uint64
	task    *task
}

// item is one entry of the driver inbox: an event plus, for tasks, the
// generation it belongs to and, for commands, a channel closed once the
// event has been handled.
type item struct {
	ev    practice.Event
	gen   uint64
	reply chan struct{}
}

// New validates cfg and starts the driver goroutine. Call Close to stop it.
func New(cfg Config, opts ...Option) (*Engine, error) {
	var errs []error
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if cfg.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if len(cfg.Lines) == 0 {
		errs = append(errs, errors.New("at least one line is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultWindowSize
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = DefaultTranscribeTimeout
	}
	cfg.Detector.SampleRate = cfg.Capture.SampleRate

	script := practice.Script{Mode: cfg.Mode, LineAudio: make([]string, len(cfg.Lines))}
	for i, l := range cfg.Lines {
		script.LineAudio[i] = l.Audio
	}

	e := &Engine{
		cfg:      cfg,
		machine:  practice.NewMachine(script),
		now:      time.Now,
		subs:     make(map[int]Observer),
		inbox:    make(chan item, 16),
		done:     make(chan struct{}),
		lastLine: -1,
	}
	for _, o := range opts {
		o(e)
	}
	if e.matcher == nil {
		e.matcher = phonetic.New()
	}
	e.snap = e.machine.Initial(cfg.Cycles)
	e.base, e.cancel = context.WithCancel(observe.WithSession(context.Background(), cfg.SessionID))

	e.wg.Add(1)
	go e.run()
	return e, nil
}

// ID returns the session id.
func (e *Engine) ID() string { return e.cfg.SessionID }

// Snapshot returns a copy of the current state and context.
func (e *Engine) Snapshot() practice.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// Start begins practice at line fromLine. It is accepted from idle,
// section_complete and error; otherwise it is ignored. An out of range line
// moves the run into the error state.
func (e *Engine) Start(fromLine int) error {
	return e.command(practice.Start(fromLine))
}

// Stop halts playback or capture, releases the audio devices and returns
// the run to idle. When Stop returns, no task of the stopped run is alive.
func (e *Engine) Stop() error {
	return e.command(practice.Stop())
}

// Pause is Stop. Progress is kept for Resume.
func (e *Engine) Pause() error { return e.Stop() }

// Resume restarts at the last line this engine reached. An engine that has
// not run yet resumes from the stored snapshot, restoring its cycle target,
// and starts at line 0 without one.
func (e *Engine) Resume() error {
	e.mu.Lock()
	line := e.lastLine
	e.mu.Unlock()
	if line >= 0 {
		return e.Start(line)
	}

	line = 0
	if e.store != nil && e.cfg.StoreKey != "" {
		ctx, cancel := context.WithTimeout(e.base, storeTimeout)
		snap, err := e.store.Load(ctx, e.cfg.StoreKey)
		cancel()
		switch {
		case err != nil:
			observe.Logger(e.base).Warn("engine: cannot load snapshot, starting fresh", "key", e.cfg.StoreKey, "err", err)
		case snap != nil:
			line = snap.LineIndex
			if err := e.SetRepeatCycles(snap.TotalCyclesTarget); err != nil {
				return err
			}
			observe.Logger(e.base).Info("engine: resuming stored session",
				"key", e.cfg.StoreKey, "line", line, "saved_at", snap.Time())
		}
	}
	return e.Start(line)
}

// SetRepeatCycles changes the cycle target. It takes effect at the next
// cycle check of the current line.
func (e *Engine) SetRepeatCycles(n int) error {
	if err := practice.ValidateCycles(n); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCycles, err)
	}
	return e.command(practice.SetCycles(n))
}

// Close stops the run and the driver goroutine. It is safe to call more
// than once.
func (e *Engine) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.cancel()
	})
	return nil
}

// command delivers ev to the driver and waits until it has been handled.
func (e *Engine) command(ev practice.Event) error {
	reply := make(chan struct{})
	select {
	case <-e.done:
		return ErrNotRunning
	case e.inbox <- item{ev: ev, reply: reply}:
	}
	select {
	case <-e.done:
		return ErrNotRunning
	case <-reply:
		return nil
	}
}

// post delivers a task result. It gives up when the task is cancelled.
func (e *Engine) post(ctx context.Context, gen uint64, ev practice.Event) {
	select {
	case <-ctx.Done():
	case <-e.done:
	case e.inbox <- item{ev: ev, gen: gen}:
	}
}

// Controller is the command surface of a practice run, as used by the HTTP
// API.
type Controller interface {
	ID() string
	Start(fromLine int) error
	Stop() error
	Pause() error
	Resume() error
	SetRepeatCycles(n int) error
	Snapshot() practice.Snapshot
	Subscribe(o Observer) (unsubscribe func())
}

var _ Controller = (*Engine)(nil)
