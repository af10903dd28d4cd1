// Package stt defines the transcription capability used after each learner
// repetition.
//
// A Provider wraps a speech-to-text backend (a local whisper.cpp server, the
// whisper.cpp library, OpenAI or Deepgram) behind one batch call: the engine
// hands over a complete utterance and receives best-effort text. Accuracy is
// not guaranteed and callers must treat every failure as recoverable.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"fmt"
	"time"
)

// DefaultSampleRate is the PCM rate every backend accepts.
const DefaultSampleRate = 16000

// Request is one utterance to transcribe.
type Request struct {
	// Audio is mono little-endian PCM16.
	Audio []byte

	// SampleRate of Audio in Hz. Zero means DefaultSampleRate.
	SampleRate int

	// Language is a BCP-47 or ISO-639-1 hint ("sa", "hi", "en"). Empty lets
	// the backend decide.
	Language string

	// Prompt is the text the learner is expected to recite. Backends that
	// support biasing use it as context.
	Prompt string
}

// Rate returns SampleRate or the default.
func (r Request) Rate() int {
	if r.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return r.SampleRate
}

// Duration returns the length of Audio.
func (r Request) Duration() time.Duration {
	return time.Duration(int64(len(r.Audio)/2) * int64(time.Second) / int64(r.Rate()))
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe returns the text spoken in req.Audio. Returns a
	// *TranscriptionError on backend failure and ctx.Err() on cancellation.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// TranscriptionError reports a backend failure.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("stt: %s: %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
