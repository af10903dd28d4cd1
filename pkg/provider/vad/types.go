package vad

import "time"

// Event is the detection result for one window.
type Event struct {
	Type EventType

	// RMS is the window's energy.
	RMS float64
}

// EventType enumerates per-window detection results.
type EventType int

const (
	// SpeechStart marks the first speaking window of an utterance.
	SpeechStart EventType = iota

	// SpeechContinue marks a window inside an utterance, including quiet
	// windows that have not yet accumulated MinSilence.
	SpeechContinue

	// SpeechEnd marks the window that completed MinSilence.
	SpeechEnd

	// Silence marks a window outside any utterance.
	Silence
)

// String returns the lower-case event name.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}

// State is a detector's hysteresis state.
//
// SilenceStart is non-nil only while Speaking is true and the latest window
// was below threshold. It is the stream position where that silence began.
type State struct {
	Speaking     bool
	SilenceStart *time.Duration
}
