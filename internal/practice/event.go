package practice

import "fmt"

// EventType names an event.
type EventType string

const (
	EventStart         EventType = "START"
	EventAppPlayDone   EventType = "APP_PLAY_DONE"
	EventUserSpokeDone EventType = "USER_SPOKE_DONE"
	EventCycleDone     EventType = "CYCLE_DONE"
	EventNextLine      EventType = "NEXT_LINE"
	EventStop          EventType = "STOP"
	EventError         EventType = "ERROR"

	// EventInitDone moves init to app_play. Only the machine emits it.
	EventInitDone EventType = "INIT_DONE"

	// EventSetCycles changes TotalCyclesTarget in any state.
	EventSetCycles EventType = "SET_CYCLES"
)

// Event is an input to the machine. Only the fields relevant to Type are
// read.
type Event struct {
	Type EventType

	// LineIndex is the line START begins at.
	LineIndex int

	// Transcript is the optional text of USER_SPOKE_DONE.
	Transcript *string

	// Message describes the failure of ERROR.
	Message string

	// Cycles is the new target of SET_CYCLES.
	Cycles int
}

func (e Event) String() string {
	switch e.Type {
	case EventStart:
		return fmt.Sprintf("%s{line=%d}", e.Type, e.LineIndex)
	case EventError:
		return fmt.Sprintf("%s{%q}", e.Type, e.Message)
	case EventSetCycles:
		return fmt.Sprintf("%s{%d}", e.Type, e.Cycles)
	}
	return string(e.Type)
}

// Start returns START{line}.
func Start(line int) Event { return Event{Type: EventStart, LineIndex: line} }

// AppPlayDone returns APP_PLAY_DONE.
func AppPlayDone() Event { return Event{Type: EventAppPlayDone} }

// UserSpokeDone returns USER_SPOKE_DONE carrying transcript.
func UserSpokeDone(transcript string) Event {
	return Event{Type: EventUserSpokeDone, Transcript: &transcript}
}

// UserSpokeDoneSilent returns USER_SPOKE_DONE without a transcript.
func UserSpokeDoneSilent() Event { return Event{Type: EventUserSpokeDone} }

// CycleDone returns CYCLE_DONE.
func CycleDone() Event { return Event{Type: EventCycleDone} }

// NextLine returns NEXT_LINE.
func NextLine() Event { return Event{Type: EventNextLine} }

// Stop returns STOP.
func Stop() Event { return Event{Type: EventStop} }

// Error returns ERROR{message}.
func Error(message string) Event { return Event{Type: EventError, Message: message} }

// SetCycles returns SET_CYCLES{n}.
func SetCycles(n int) Event { return Event{Type: EventSetCycles, Cycles: n} }
