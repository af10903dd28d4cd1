package practice

import "fmt"

// Script is the fixed material a run walks through: one reference audio URL
// per line. It is read but never changed by transitions.
type Script struct {
	Mode      Mode
	LineAudio []string
}

// Lines returns the number of lines.
func (s Script) Lines() int { return len(s.LineAudio) }

// Result is the outcome of one transition.
type Result struct {
	Snapshot Snapshot

	// Changed is false when the event did not apply in the current state.
	Changed bool

	// Next is the follow-up event the driver must deliver after publishing
	// Snapshot, or nil.
	Next *Event
}

// Machine is the pure transition function bound to a [Script].
type Machine struct {
	script Script
}

// NewMachine returns a Machine for script. A zero Mode becomes ModeLine.
func NewMachine(script Script) *Machine {
	if script.Mode == "" {
		script.Mode = ModeLine
	}
	return &Machine{script: script}
}

// Script returns the bound script.
func (m *Machine) Script() Script { return m.script }

// Initial returns the idle snapshot with the given cycle target. An invalid
// target falls back to DefaultCycles.
func (m *Machine) Initial(cycles int) Snapshot {
	if ValidateCycles(cycles) != nil {
		cycles = DefaultCycles
	}
	return Snapshot{
		State: StateIdle,
		Context: Context{
			TotalCyclesTarget: cycles,
			Mode:              m.script.Mode,
			TotalLines:        m.script.Lines(),
		},
	}
}

// Transition applies ev to s. Pairs not in the transition table return s
// unchanged with Changed false.
func (m *Machine) Transition(s Snapshot, ev Event) Result {
	if ev.Type == EventSetCycles {
		return m.setCycles(s, ev.Cycles)
	}

	switch {
	case ev.Type == EventStart && (s.State == StateIdle || s.State.Terminal()):
		return m.start(s, ev.LineIndex)
	case ev.Type == EventStop && s.State.Active():
		return changed(Snapshot{State: StateIdle, Context: m.settings(s.Context)}, nil)
	case ev.Type == EventError && s.State.Active():
		next := s.Clone()
		next.State = StateError
		next.Context.Failure = &Failure{Message: ev.Message}
		return changed(next, nil)
	}

	switch s.State {
	case StateInit:
		if ev.Type == EventInitDone {
			next := s.Clone()
			next.State = StateAppPlay
			return changed(next, nil)
		}
	case StateAppPlay:
		if ev.Type == EventAppPlayDone {
			next := s.Clone()
			next.State = StateUserRepeat1
			next.Context.RepeatInCycle = 1
			return changed(next, nil)
		}
	case StateUserRepeat1:
		if ev.Type == EventUserSpokeDone {
			next := s.Clone()
			next.State = StateUserRepeat2
			next.Context.RepeatInCycle = 2
			next.Context.Transcripts = append(next.Context.Transcripts, transcript(ev))
			return changed(next, nil)
		}
	case StateUserRepeat2:
		if ev.Type == EventUserSpokeDone {
			next := s.Clone()
			next.State = StateRepeatCycleCheck
			next.Context.Transcripts = append(next.Context.Transcripts, transcript(ev))
			return changed(next, follow(CycleDone()))
		}
	case StateRepeatCycleCheck:
		if ev.Type == EventCycleDone {
			next := s.Clone()
			if s.Context.CurrentCycle < s.Context.TotalCyclesTarget {
				next.State = StateAppPlay
				next.Context.CurrentCycle++
				next.Context.RepeatInCycle = 1
				next.Context.Transcripts = nil
				return changed(next, nil)
			}
			next.State = StateAdvanceLine
			return changed(next, follow(NextLine()))
		}
	case StateAdvanceLine:
		if ev.Type == EventNextLine {
			next := s.Clone()
			if s.Context.LineIndex < s.Context.TotalLines-1 {
				next.State = StateAppPlay
				next.Context.LineIndex++
				next.Context.CurrentCycle = 1
				next.Context.RepeatInCycle = 1
				next.Context.Transcripts = nil
				next.Context.RefAudioURL = m.audio(next.Context.LineIndex)
				return changed(next, nil)
			}
			next.State = StateSectionComplete
			return changed(next, nil)
		}
	}
	return Result{Snapshot: s}
}

func (m *Machine) start(s Snapshot, line int) Result {
	ctx := m.settings(s.Context)
	if line < 0 || line >= m.script.Lines() {
		ctx.LineIndex = line
		ctx.Failure = &Failure{Message: fmt.Sprintf("line %d out of range [0, %d)", line, m.script.Lines())}
		return changed(Snapshot{State: StateError, Context: ctx}, nil)
	}
	ctx.LineIndex = line
	ctx.CurrentCycle = 1
	ctx.RepeatInCycle = 1
	ctx.RefAudioURL = m.audio(line)
	return changed(Snapshot{State: StateInit, Context: ctx}, follow(Event{Type: EventInitDone}))
}

func (m *Machine) setCycles(s Snapshot, n int) Result {
	if ValidateCycles(n) != nil || s.Context.TotalCyclesTarget == n {
		return Result{Snapshot: s}
	}
	next := s.Clone()
	next.Context.TotalCyclesTarget = n
	return changed(next, nil)
}

// settings keeps only the run-independent parts of c.
func (m *Machine) settings(c Context) Context {
	return Context{
		TotalCyclesTarget: c.TotalCyclesTarget,
		Mode:              m.script.Mode,
		TotalLines:        m.script.Lines(),
	}
}

func (m *Machine) audio(line int) string {
	if line < 0 || line >= len(m.script.LineAudio) {
		return ""
	}
	return m.script.LineAudio[line]
}

func transcript(ev Event) string {
	if ev.Transcript == nil {
		return ""
	}
	return *ev.Transcript
}

func changed(s Snapshot, next *Event) Result {
	return Result{Snapshot: s, Changed: true, Next: next}
}

func follow(ev Event) *Event { return &ev }
