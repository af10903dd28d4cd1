package audio

import (
	"context"
	"errors"
)

// DefaultWindowSize is the analysis window length in samples (128 ms at
// 16 kHz).
const DefaultWindowSize = 2048

// FramerConfig configures a [Framer].
type FramerConfig struct {
	// SampleRate of the incoming mono samples.
	SampleRate int

	// WindowSize in samples. Zero means DefaultWindowSize.
	WindowSize int

	// OnChunk receives every complete window with its PCM16 encoding.
	OnChunk func(Frame)

	// OnWindow receives the raw samples of every complete window before
	// OnChunk. Voice activity detectors hook in here.
	OnWindow func(samples []float32)
}

// Framer cuts an arbitrary sequence of sample batches into fixed windows.
// It is not safe for concurrent use.
type Framer struct {
	cfg     FramerConfig
	buf     []float32
	index   int
	emitted int
}

// NewFramer returns a Framer for cfg.
func NewFramer(cfg FramerConfig) *Framer {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Framer{
		cfg: cfg,
		buf: make([]float32, 0, cfg.WindowSize),
	}
}

// Write appends samples and emits every window that became complete.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		room := f.cfg.WindowSize - len(f.buf)
		take := min(room, len(samples))
		f.buf = append(f.buf, samples[:take]...)
		samples = samples[take:]
		if len(f.buf) == f.cfg.WindowSize {
			f.emit()
		}
	}
}

// Flush emits a final short window if any samples are buffered.
func (f *Framer) Flush() {
	if len(f.buf) > 0 {
		f.emit()
	}
}

// Windows returns how many windows have been emitted so far.
func (f *Framer) Windows() int { return f.index }

func (f *Framer) emit() {
	window := make([]float32, len(f.buf))
	copy(window, f.buf)
	f.buf = f.buf[:0]

	if f.cfg.OnWindow != nil {
		f.cfg.OnWindow(window)
	}
	frame := Frame{
		Samples:    window,
		PCM:        Float32ToPCM16(window),
		SampleRate: f.cfg.SampleRate,
		Index:      f.index,
		Timestamp:  SamplesDuration(f.emitted, f.cfg.SampleRate),
	}
	f.index++
	f.emitted += len(window)
	if f.cfg.OnChunk != nil {
		f.cfg.OnChunk(frame)
	}
}

// CreatePCMStream pumps s through a [Framer] until the stream's sample
// channel closes or ctx is cancelled. On a normal end the partial tail
// window is flushed; on cancellation it is dropped and ctx.Err() returned.
//
// The caller keeps ownership of s and must Close it.
func CreatePCMStream(ctx context.Context, s Stream, cfg FramerConfig) error {
	if s == nil {
		return errors.New("audio: nil stream")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = s.Format().SampleRate
	}
	f := NewFramer(cfg)
	samples := s.Samples()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-samples:
			if !ok {
				f.Flush()
				return nil
			}
			f.Write(batch)
		}
	}
}
