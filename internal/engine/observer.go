package engine

import (
	"time"

	"github.com/MrWong99/swaracoach/internal/practice"
	"github.com/MrWong99/swaracoach/internal/swara"
)

// UpdateKind tells subscribers which payload an [Update] carries.
type UpdateKind string

const (
	// KindState is published after every transition.
	KindState UpdateKind = "state"

	// KindPitch is published for every capture window.
	KindPitch UpdateKind = "pitch"

	// KindScore is published after a repetition was transcribed and scored.
	KindScore UpdateKind = "score"
)

// Update is one notification from the engine.
type Update struct {
	Kind      UpdateKind `json:"kind"`
	SessionID string     `json:"sessionId"`

	// Seq increases by one per update of this engine.
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	// State and Context are the snapshot after the transition (KindState)
	// or at the time of the measurement.
	State   practice.State   `json:"state"`
	Context practice.Context `json:"context"`

	// Event is the event that caused a KindState update.
	Event practice.EventType `json:"event,omitempty"`

	Pitch *swara.Update `json:"pitch,omitempty"`
	Score *Score        `json:"score,omitempty"`
}

// Score rates one repetition's transcript against the line text.
type Score struct {
	LineIndex  int     `json:"lineIndex"`
	Repeat     int     `json:"repeat"`
	Transcript string  `json:"transcript"`
	Similarity float64 `json:"similarity"`
	Matched    int     `json:"matched"`
	Total      int     `json:"total"`
}

// Observer receives engine updates. Updates are delivered one at a time in
// Seq order, from engine goroutines. OnUpdate must return quickly and must
// not call Controller methods synchronously; slow consumers should buffer.
type Observer interface {
	OnUpdate(Update)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(Update)

// OnUpdate implements [Observer].
func (f ObserverFunc) OnUpdate(u Update) { f(u) }

// Subscribe adds o until the returned function is called.
func (e *Engine) Subscribe(o Observer) (unsubscribe func()) {
	e.obsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = o
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.subs, id)
		e.obsMu.Unlock()
	}
}

func (e *Engine) publish(u Update) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.obsMu.Lock()
	e.seq++
	u.Seq = e.seq
	u.SessionID = e.cfg.SessionID
	u.Time = e.now()
	targets := make([]Observer, 0, len(e.observers)+len(e.subs))
	targets = append(targets, e.observers...)
	for _, o := range e.subs {
		targets = append(targets, o)
	}
	e.obsMu.Unlock()

	for _, o := range targets {
		o.OnUpdate(u)
	}
}
