// Package practice is the Shruti/Smriti state machine.
//
// The machine is a pure function: [Machine.Transition] maps a [Snapshot]
// and an [Event] to the next snapshot and never performs I/O. Transitions
// that follow automatically (init → app_play, the cycle check, advancing to
// the next line) are not taken recursively; instead the result names the
// follow-up event and the driver loop feeds it back in later.
//
// A line is practised for TotalCyclesTarget cycles, each cycle being one
// reference playback followed by two learner repetitions.
package practice

// State is a machine state.
type State string

const (
	StateIdle             State = "idle"
	StateInit             State = "init"
	StateAppPlay          State = "app_play"
	StateUserRepeat1      State = "user_repeat_1"
	StateUserRepeat2      State = "user_repeat_2"
	StateRepeatCycleCheck State = "repeat_cycle_check"
	StateAdvanceLine      State = "advance_line"
	StateSectionComplete  State = "section_complete"
	StateError            State = "error"
)

// Active reports whether s is mid-practice (STOP and ERROR apply).
func (s State) Active() bool {
	switch s {
	case StateInit, StateAppPlay, StateUserRepeat1, StateUserRepeat2, StateRepeatCycleCheck, StateAdvanceLine:
		return true
	}
	return false
}

// Terminal reports whether s waits for a new START.
func (s State) Terminal() bool {
	return s == StateSectionComplete || s == StateError
}

// Activity is the single audio resource a state needs.
type Activity string

const (
	ActivityIdle      Activity = "idle"
	ActivityPlaying   Activity = "playing"
	ActivityCapturing Activity = "capturing"
)

// Activity returns what the driver must be doing while in s.
func (s State) Activity() Activity {
	switch s {
	case StateAppPlay:
		return ActivityPlaying
	case StateUserRepeat1, StateUserRepeat2:
		return ActivityCapturing
	}
	return ActivityIdle
}
