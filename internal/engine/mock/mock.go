// Package mock provides doubles for the engine package: [Recorder], an
// observer that keeps every update, and [Controller], a scripted
// [engine.Controller].
//
// Both are safe for concurrent use.
//
// Example:
//
//	rec := mock.NewRecorder()
//	e, _ := engine.New(cfg, engine.WithObserver(rec))
//	_ = e.Start(0)
//	rec.WaitFor(mock.InState(practice.StateSectionComplete), time.Second)
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/practice"
)

// ─── Recorder ────────────────────────────────────────────────────────────────

var _ engine.Observer = (*Recorder)(nil)

// Recorder records updates in arrival order.
type Recorder struct {
	mu      sync.Mutex
	updates []engine.Update
	notify  chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// OnUpdate implements [engine.Observer].
func (r *Recorder) OnUpdate(u engine.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Updates returns a copy of everything recorded.
func (r *Recorder) Updates() []engine.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]engine.Update, len(r.updates))
	copy(out, r.updates)
	return out
}

// Kind returns the recorded updates of one kind.
func (r *Recorder) Kind(k engine.UpdateKind) []engine.Update {
	var out []engine.Update
	for _, u := range r.Updates() {
		if u.Kind == k {
			out = append(out, u)
		}
	}
	return out
}

// States returns the state of every KindState update.
func (r *Recorder) States() []practice.State {
	var out []practice.State
	for _, u := range r.Kind(engine.KindState) {
		out = append(out, u.State)
	}
	return out
}

// WaitFor blocks until an update matching pred was recorded or timeout
// elapses, and reports which.
func (r *Recorder) WaitFor(pred func(engine.Update) bool, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		for _, u := range r.Updates() {
			if pred(u) {
				return true
			}
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return false
		}
	}
}

// InState matches state updates entering s.
func InState(s practice.State) func(engine.Update) bool {
	return func(u engine.Update) bool { return u.Kind == engine.KindState && u.State == s }
}

// ─── Controller ──────────────────────────────────────────────────────────────

var _ engine.Controller = (*Controller)(nil)

// Controller is a mock [engine.Controller]. Commands record their
// arguments and return the matching Err field.
type Controller struct {
	mu sync.Mutex

	// SessionID is returned by ID.
	SessionID string

	// Snap is returned by Snapshot.
	Snap practice.Snapshot

	StartErr, StopErr, PauseErr, ResumeErr, CyclesErr error

	StartCalls  []int
	StopCalls   int
	PauseCalls  int
	ResumeCalls int
	CycleCalls  []int

	subs   map[int]engine.Observer
	nextID int
}

// ID implements [engine.Controller].
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SessionID
}

// Start implements [engine.Controller].
func (c *Controller) Start(fromLine int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCalls = append(c.StartCalls, fromLine)
	return c.StartErr
}

// Stop implements [engine.Controller].
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCalls++
	return c.StopErr
}

// Pause implements [engine.Controller].
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PauseCalls++
	return c.PauseErr
}

// Resume implements [engine.Controller].
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeCalls++
	return c.ResumeErr
}

// SetRepeatCycles implements [engine.Controller].
func (c *Controller) SetRepeatCycles(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CycleCalls = append(c.CycleCalls, n)
	return c.CyclesErr
}

// Snapshot implements [engine.Controller].
func (c *Controller) Snapshot() practice.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Snap.Clone()
}

// Subscribe implements [engine.Controller].
func (c *Controller) Subscribe(o engine.Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[int]engine.Observer)
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = o
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Controller) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Publish delivers u to every subscriber.
func (c *Controller) Publish(u engine.Update) {
	c.mu.Lock()
	targets := make([]engine.Observer, 0, len(c.subs))
	for _, o := range c.subs {
		targets = append(targets, o)
	}
	c.mu.Unlock()
	for _, o := range targets {
		o.OnUpdate(u)
	}
}
