// Package rms implements an energy based voice activity detector.
//
// A window whose RMS exceeds the threshold is speech. Speaking turns to
// silent only after quiet windows have accumulated MinSilence of audio; any
// speaking window in between cancels the pending silence. Silence is
// measured in stream time (samples / rate), not wall time, so results do not
// depend on how fast windows arrive.
package rms

import (
	"sync"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

var _ vad.Engine = (*Engine)(nil)

// Engine creates [Detector] sessions.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return NewDetector(cfg)
}

var _ vad.SessionHandle = (*Detector)(nil)

// Detector is a single-stream RMS VAD. Callbacks run synchronously inside
// Process with the detector locked; they must not call back into it.
type Detector struct {
	cfg vad.Config

	mu           sync.Mutex
	speaking     bool
	silenceStart time.Duration
	silent       bool // a silence timer is pending
	pos          time.Duration
	closed       bool
}

// NewDetector validates cfg and returns a silent detector.
func NewDetector(cfg vad.Config) (*Detector, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Process implements [vad.SessionHandle].
func (d *Detector) Process(samples []float32) vad.Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	level := audio.RMS(samples)
	if d.closed {
		return vad.Event{Type: vad.Silence, RMS: level}
	}
	start := d.pos
	d.pos += audio.SamplesDuration(len(samples), d.cfg.SampleRate)

	if level > d.cfg.RMSThreshold {
		d.silent = false
		if d.speaking {
			return vad.Event{Type: vad.SpeechContinue, RMS: level}
		}
		d.speaking = true
		if d.cfg.OnSpeechStart != nil {
			d.cfg.OnSpeechStart()
		}
		return vad.Event{Type: vad.SpeechStart, RMS: level}
	}

	if !d.speaking {
		return vad.Event{Type: vad.Silence, RMS: level}
	}
	if !d.silent {
		d.silent = true
		d.silenceStart = start
	}
	if d.pos-d.silenceStart < d.cfg.MinSilence {
		return vad.Event{Type: vad.SpeechContinue, RMS: level}
	}
	d.speaking = false
	d.silent = false
	if d.cfg.OnSpeechEnd != nil {
		d.cfg.OnSpeechEnd()
	}
	return vad.Event{Type: vad.SpeechEnd, RMS: level}
}

// State implements [vad.SessionHandle].
func (d *Detector) State() vad.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := vad.State{Speaking: d.speaking}
	if d.speaking && d.silent {
		s := d.silenceStart
		st.SilenceStart = &s
	}
	return st
}

// Reset implements [vad.SessionHandle].
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.silent = false
	d.silenceStart = 0
	d.pos = 0
}

// Close implements [vad.SessionHandle].
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
