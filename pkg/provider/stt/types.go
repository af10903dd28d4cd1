package stt

import "time"

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the recognised speech, trimmed. May be empty.
	Text string

	// Confidence in [0, 1]; zero when the backend does not report one.
	Confidence float64

	// Language detected or used by the backend.
	Language string

	// Duration of the transcribed audio.
	Duration time.Duration

	// Words carries per-word timing when the backend reports it.
	Words []Word
}

// Word is a recognised word with timing relative to the utterance start.
type Word struct {
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
