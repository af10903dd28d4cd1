package engine

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/practice"
	"github.com/MrWong99/swaracoach/internal/sessionstore"
)

// storeTimeout bounds every session store call.
const storeTimeout = 2 * time.Second

// task is the playback or capture in flight.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// run is the driver loop. Queued follow-up events are handled before the
// inbox is read again.
func (e *Engine) run() {
	defer e.wg.Done()
	defer e.stopTask()

	for {
		if len(e.pending) > 0 {
			ev := e.pending[0]
			e.pending = e.pending[1:]
			e.handle(item{ev: ev})
			continue
		}
		select {
		case <-e.done:
			return
		case it := <-e.inbox:
			e.handle(it)
		}
	}
}

func (e *Engine) handle(it item) {
	if it.reply != nil {
		defer close(it.reply)
	}
	log := observe.Logger(e.base)

	if it.gen != 0 && it.gen != e.gen {
		log.Debug("engine: dropping stale task event", "event", it.ev.Type, "gen", it.gen, "current", e.gen)
		return
	}

	prev := e.snap
	res := e.machine.Transition(prev, it.ev)
	if !res.Changed {
		log.Debug("engine: event ignored", "state", prev.State, "event", it.ev.Type)
		return
	}
	next := res.Snapshot
	moved := next.State != prev.State

	// The task belongs to the state it was started for.
	if moved {
		e.stopTask()
	}

	e.mu.Lock()
	e.snap = next
	if next.State.Activity() != practice.ActivityIdle {
		e.lastLine = next.Context.LineIndex
	}
	e.mu.Unlock()

	c := next.Context
	log.Debug("engine: transition",
		"from", prev.State,
		"to", next.State,
		"event", it.ev.Type,
		"line", c.LineIndex,
		"cycle", c.CurrentCycle,
		"repeat", c.RepeatInCycle,
	)
	if next.State == practice.StateError && c.Failure != nil {
		log.Warn("engine: practice failed", "line", c.LineIndex, "error", c.Failure.Message)
	}
	e.record(prev.State, next.State, it.ev.Type)
	if moved {
		e.persist(next)
	}
	e.publish(Update{Kind: KindState, State: next.State, Context: next.Clone().Context, Event: it.ev.Type})

	if res.Next != nil {
		e.pending = append(e.pending, *res.Next)
		return
	}
	if moved {
		e.startTask(next)
	}
}

// startTask launches the I/O the state asks for.
func (e *Engine) startTask(s practice.Snapshot) {
	c := s.Clone().Context
	switch s.State.Activity() {
	case practice.ActivityPlaying:
		e.spawn(func(ctx context.Context, gen uint64) { e.play(ctx, gen, c) })
	case practice.ActivityCapturing:
		e.spawn(func(ctx context.Context, gen uint64) { e.listen(ctx, gen, c) })
	}
}

func (e *Engine) spawn(fn func(ctx context.Context, gen uint64)) {
	e.gen++
	gen := e.gen
	ctx, cancel := context.WithCancel(e.base)
	t := &task{cancel: cancel, done: make(chan struct{})}
	e.task = t
	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx, gen)
	}()
}

// stopTask cancels the running task and waits until it has released its
// device. Events it posted afterwards are stale.
func (e *Engine) stopTask() {
	if e.task == nil {
		return
	}
	e.task.cancel()
	<-e.task.done
	e.task = nil
	e.gen++
}

func (e *Engine) persist(s practice.Snapshot) {
	if e.store == nil || e.cfg.StoreKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(e.base, storeTimeout)
	defer cancel()

	var err error
	switch s.State {
	case practice.StateAppPlay, practice.StateUserRepeat1, practice.StateUserRepeat2, practice.StateAdvanceLine:
		err = e.store.Save(ctx, e.cfg.StoreKey, sessionstore.Capture(s.Context, e.now()))
	case practice.StateSectionComplete:
		err = e.store.Clear(ctx, e.cfg.StoreKey)
	default:
		return
	}
	if err != nil {
		op := "persist"
		var pe *sessionstore.PersistenceError
		if errors.As(err, &pe) {
			op = pe.Op
		}
		observe.Logger(ctx).Warn("engine: snapshot not persisted; resume may start earlier",
			"key", e.cfg.StoreKey, "op", op, "state", s.State, "err", err)
	}
}

func (e *Engine) record(from, to practice.State, ev practice.EventType) {
	if e.metrics == nil {
		return
	}
	ctx := e.base
	e.metrics.RecordTransition(ctx, string(from), string(to), string(ev))
	if ev == practice.EventCycleDone {
		e.metrics.CyclesCompleted.Add(ctx, 1)
	}
	if to == practice.StateSectionComplete && from != to {
		e.metrics.SectionsCompleted.Add(ctx, 1)
	}
}
