// Package malgo captures microphone audio through miniaudio.
//
// miniaudio converts the device format to the requested rate and channel
// count internally, so the stream usually needs no further normalisation.
package malgo

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
)

const backendName = "malgo"

// queueDepth bounds buffered device periods (about 2.5 s at 20 ms).
const queueDepth = 128

var _ capture.Microphone = (*Microphone)(nil)

// Microphone opens capture devices on a shared miniaudio context.
type Microphone struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises the miniaudio context. Call Close when done.
func New() (*Microphone, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("init context: %w", err)}
	}
	return &Microphone{ctx: ctx}, nil
}

// Open implements [capture.Microphone].
func (m *Microphone) Open(_ context.Context, opts capture.Options) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("context closed")}
	}
	capture.LogIgnoredProcessing(backendName, opts)

	s := &stream{
		format: audio.Format{SampleRate: opts.SampleRate, Channels: opts.Channels},
		out:    make(chan []float32, queueDepth),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(opts.Channels)
	cfg.SampleRate = uint32(opts.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(opts.PeriodMs)

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { s.push(input) },
	})
	if err != nil {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("init device: %w", err)}
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("start device: %w", err)}
	}
	s.device = device
	return s, nil
}

// Close releases the miniaudio context.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type stream struct {
	device *malgo.Device
	format audio.Format

	mu      sync.Mutex
	out     chan []float32
	closed  bool
	dropped int
}

// push runs on the miniaudio callback thread and must not block.
func (s *stream) push(input []byte) {
	samples := make([]float32, len(input)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(input[i*2:]))) / 32768
	}
	samples = audio.Downmix(samples, s.format.Channels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- samples:
	default:
		s.dropped++
	}
}

func (s *stream) Samples() <-chan []float32 { return s.out }

func (s *stream) Format() audio.Format {
	return audio.Format{SampleRate: s.format.SampleRate, Channels: 1}
}

func (s *stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	dropped := s.dropped
	s.mu.Unlock()

	// Stop blocks until the callback has returned for the last time.
	err := s.device.Stop()
	s.device.Uninit()
	if dropped > 0 {
		slog.Warn("malgo: capture queue overflowed", "dropped_periods", dropped)
	}
	return err
}
