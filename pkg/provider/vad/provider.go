// Package vad defines the voice activity detection capability that gates
// learner capture.
//
// An Engine creates one stateful session per capture. A session consumes
// windows of normalised mono samples and reports, per window, whether the
// speaker just started, is still speaking, just stopped or is silent. The
// start and end transitions are also delivered through the callbacks in
// [Config], each exactly once per utterance.
//
// Sessions are cheap. The practice engine creates a fresh one for every
// repeat so no state leaks between utterances.
package vad

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultRMSThreshold is the RMS level (of samples in [-1, 1]) above
	// which a window counts as speech.
	DefaultRMSThreshold = 0.01

	// DefaultMinSilence is how much continuous silence ends an utterance.
	DefaultMinSilence = 800 * time.Millisecond
)

// Config holds the parameters of a VAD session.
type Config struct {
	// SampleRate of the windows passed to Process, in Hz.
	SampleRate int

	// RMSThreshold separates speech from silence. Zero means
	// DefaultRMSThreshold.
	RMSThreshold float64

	// MinSilence is the accumulated silence that ends speech. Zero means
	// DefaultMinSilence.
	MinSilence time.Duration

	// OnSpeechStart fires once when the session goes from silent to
	// speaking.
	OnSpeechStart func()

	// OnSpeechEnd fires once when accumulated silence reaches MinSilence.
	OnSpeechEnd func()
}

// WithDefaults fills zero fields with package defaults.
func (c Config) WithDefaults() Config {
	if c.RMSThreshold == 0 {
		c.RMSThreshold = DefaultRMSThreshold
	}
	if c.MinSilence == 0 {
		c.MinSilence = DefaultMinSilence
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.RMSThreshold < 0 || c.RMSThreshold >= 1 {
		errs = append(errs, fmt.Errorf("vad: rms threshold must be in [0, 1), got %g", c.RMSThreshold))
	}
	if c.MinSilence < 0 {
		errs = append(errs, fmt.Errorf("vad: min silence must not be negative, got %v", c.MinSilence))
	}
	return errors.Join(errs...)
}

// SessionHandle is a detector bound to one audio stream.
type SessionHandle interface {
	// Process analyses one window of samples and returns the detection for
	// it, firing the start/end callbacks on transitions. After Close it
	// returns a Silence event and fires nothing.
	Process(samples []float32) Event

	// State returns the current detector state.
	State() State

	// Reset returns the session to silent, discarding any pending silence.
	Reset()

	// Close disables the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
