// Package portaudio captures microphone audio through PortAudio using a
// blocking read loop.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
)

const backendName = "portaudio"

var _ capture.Microphone = (*Microphone)(nil)

// Microphone opens the default PortAudio input device.
type Microphone struct {
	mu          sync.Mutex
	initialized bool
}

// New initialises PortAudio. Call Close when done.
func New() (*Microphone, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("initialize: %w", err)}
	}
	return &Microphone{initialized: true}, nil
}

// Open implements [capture.Microphone].
func (m *Microphone) Open(ctx context.Context, opts capture.Options) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("not initialized")}
	}
	capture.LogIgnoredProcessing(backendName, opts)

	frames := opts.SampleRate * opts.PeriodMs / 1000
	buf := make([]int16, frames*opts.Channels)
	ps, err := portaudio.OpenDefaultStream(opts.Channels, 0, float64(opts.SampleRate), frames, buf)
	if err != nil {
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := ps.Start(); err != nil {
		ps.Close()
		return nil, &capture.MicAccessError{Backend: backendName, Err: fmt.Errorf("start stream: %w", err)}
	}

	s := &stream{
		ps:     ps,
		buf:    buf,
		format: audio.Format{SampleRate: opts.SampleRate, Channels: opts.Channels},
		out:    make(chan []float32, 64),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Close terminates PortAudio.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil
	}
	m.initialized = false
	return portaudio.Terminate()
}

type stream struct {
	ps     *portaudio.Stream
	buf    []int16
	format audio.Format

	out    chan []float32
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
	err    error
}

func (s *stream) readLoop() {
	defer close(s.exited)
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.ps.Read(); err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: read failed, ending capture", "err", err)
			}
			return
		}
		batch := audio.Downmix(audio.Int16ToFloat32(s.buf), s.format.Channels)
		select {
		case s.out <- batch:
		case <-s.done:
			return
		}
	}
}

func (s *stream) Samples() <-chan []float32 { return s.out }

func (s *stream) Format() audio.Format {
	return audio.Format{SampleRate: s.format.SampleRate, Channels: 1}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Stop makes a pending Read return.
		stopErr := s.ps.Stop()
		<-s.exited
		closeErr := s.ps.Close()
		if stopErr != nil {
			s.err = stopErr
		} else {
			s.err = closeErr
		}
	})
	return s.err
}
