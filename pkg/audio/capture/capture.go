// Package capture defines the microphone capability used by the practice
// engine and the error it reports when a device cannot be acquired.
//
// Backends live in sub-packages (capture/malgo, capture/portaudio). They may
// deliver any rate or channel count; [GetMicStream] normalises their output
// to mono at the requested rate so everything downstream sees one format.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/swaracoach/pkg/audio"
)

const (
	// DefaultSampleRate is the rate transcription and pitch analysis expect.
	DefaultSampleRate = 16000

	// DefaultPeriodMs is the device callback period.
	DefaultPeriodMs = 20
)

// Options describes the preferred capture format and processing.
type Options struct {
	// SampleRate in Hz. Zero means DefaultSampleRate.
	SampleRate int

	// Channels requested from the device. Zero means mono.
	Channels int

	// PeriodMs is the device buffer period. Zero means DefaultPeriodMs.
	PeriodMs int

	// EchoCancellation, NoiseSuppression and AutoGainControl request the
	// platform's voice processing. Backends without such processing log
	// that the request was ignored and capture raw audio.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultOptions returns mono 16 kHz with all voice processing requested.
func DefaultOptions() Options {
	return Options{
		SampleRate:       DefaultSampleRate,
		Channels:         1,
		PeriodMs:         DefaultPeriodMs,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

func (o Options) withDefaults() Options {
	if o.SampleRate <= 0 {
		o.SampleRate = DefaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	if o.PeriodMs <= 0 {
		o.PeriodMs = DefaultPeriodMs
	}
	return o
}

// Microphone opens live capture streams.
type Microphone interface {
	// Open starts capturing with the given preferences. The returned stream
	// is live until Close. Implementations return a *MicAccessError when the
	// device is missing, busy or permission is denied.
	Open(ctx context.Context, opts Options) (audio.Stream, error)
}

// MicAccessError reports that a microphone could not be acquired.
type MicAccessError struct {
	Backend string
	Err     error
}

func (e *MicAccessError) Error() string {
	return fmt.Sprintf("capture: microphone access (%s): %v", e.Backend, e.Err)
}

func (e *MicAccessError) Unwrap() error { return e.Err }

// GetMicStream opens mic with opts and guarantees a mono stream at
// opts.SampleRate. Every failure is reported as a *MicAccessError.
func GetMicStream(ctx context.Context, mic Microphone, opts Options) (audio.Stream, error) {
	opts = opts.withDefaults()
	if mic == nil {
		return nil, &MicAccessError{Backend: "none", Err: errors.New("no microphone configured")}
	}
	s, err := mic.Open(ctx, opts)
	if err != nil {
		var mae *MicAccessError
		if errors.As(err, &mae) {
			return nil, err
		}
		return nil, &MicAccessError{Backend: fmt.Sprintf("%T", mic), Err: err}
	}
	f := s.Format()
	if f.SampleRate == opts.SampleRate && f.Channels <= 1 {
		return s, nil
	}
	return newNormalizedStream(s, opts.SampleRate), nil
}

// normalizedStream adapts a device stream to mono at a fixed rate.
type normalizedStream struct {
	src  audio.Stream
	rate int
	out  chan []float32
	once sync.Once
	err  error
}

func newNormalizedStream(src audio.Stream, rate int) *normalizedStream {
	n := &normalizedStream{
		src:  src,
		rate: rate,
		out:  make(chan []float32, 16),
	}
	go n.loop()
	return n
}

func (n *normalizedStream) loop() {
	defer close(n.out)
	norm := audio.Normalizer{Source: n.src.Format(), Target: n.rate}
	for batch := range n.src.Samples() {
		n.out <- norm.Normalize(batch)
	}
}

func (n *normalizedStream) Samples() <-chan []float32 { return n.out }

func (n *normalizedStream) Format() audio.Format {
	return audio.Format{SampleRate: n.rate, Channels: 1}
}

func (n *normalizedStream) Close() error {
	n.once.Do(func() {
		n.err = n.src.Close()
		// Unblock loop if nobody reads anymore.
		go audio.Drain(n.out)
	})
	return n.err
}

// LogIgnoredProcessing logs the voice-processing flags a backend cannot
// honour. Backends call it once per Open.
func LogIgnoredProcessing(backend string, opts Options) {
	if !opts.EchoCancellation && !opts.NoiseSuppression && !opts.AutoGainControl {
		return
	}
	slog.Debug("capture: backend has no voice processing, capturing raw audio",
		"backend", backend,
		"echo_cancellation", opts.EchoCancellation,
		"noise_suppression", opts.NoiseSuppression,
		"auto_gain", opts.AutoGainControl,
	)
}
