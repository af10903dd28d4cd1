// Package mock provides in-memory doubles for the audio capabilities used by
// the practice engine: [Stream], [Microphone], [Player] and [Sink].
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	stream := mock.NewLiveStream(16000)
//	mic := &mock.Microphone{Stream: stream}
//	s, _ := capture.GetMicStream(ctx, mic, capture.DefaultOptions())
//	stream.Push(loud...)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/audio/playback"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

var _ audio.Stream = (*Stream)(nil)

// Stream is a scripted or live [audio.Stream].
type Stream struct {
	format audio.Format
	out    chan []float32

	mu     sync.Mutex
	closed bool

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewStream returns a mono stream that yields batches and then ends.
func NewStream(rate int, batches [][]float32) *Stream {
	s := &Stream{
		format: audio.Format{SampleRate: rate, Channels: 1},
		out:    make(chan []float32, len(batches)),
	}
	for _, b := range batches {
		s.out <- b
	}
	close(s.out)
	s.closed = true
	return s
}

// NewLiveStream returns an open mono stream fed with Push.
func NewLiveStream(rate int) *Stream {
	return NewLiveStreamFormat(audio.Format{SampleRate: rate, Channels: 1})
}

// NewLiveStreamFormat is NewLiveStream with an explicit device format.
func NewLiveStreamFormat(f audio.Format) *Stream {
	return &Stream{format: f, out: make(chan []float32, 256)}
}

// Push delivers a batch. It reports false once the stream is closed.
func (s *Stream) Push(batch []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.out <- batch
	return true
}

// Closed reports whether Close was called (or the script ended).
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Samples implements [audio.Stream].
func (s *Stream) Samples() <-chan []float32 { return s.out }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

var _ capture.Microphone = (*Microphone)(nil)

// Microphone is a mock [capture.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open when NewStream is nil.
	Stream audio.Stream

	// NewStream, when set, builds a fresh stream per Open.
	NewStream func() audio.Stream

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// OpenCalls records the options of every Open call.
	OpenCalls []capture.Options

	opened []audio.Stream
}

// Open implements [capture.Microphone].
func (m *Microphone) Open(_ context.Context, opts capture.Options) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls = append(m.OpenCalls, opts)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := m.Stream
	if m.NewStream != nil {
		s = m.NewStream()
	}
	m.opened = append(m.opened, s)
	return s, nil
}

// Opened returns every stream handed out so far.
func (m *Microphone) Opened() []audio.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audio.Stream, len(m.opened))
	copy(out, m.opened)
	return out
}

// OpenCount returns the number of Open calls.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.OpenCalls)
}

// ─── Player ───────────────────────────────────────────────────────────────────

var _ playback.Player = (*Player)(nil)

// PlayCall records one PlayRefAudioLine invocation.
type PlayCall struct {
	URL        string
	Start, End time.Duration
}

// Player is a mock [playback.Player]. By default every call succeeds
// immediately.
type Player struct {
	mu sync.Mutex

	// Err is returned by every call when non-nil.
	Err error

	// Block makes calls wait until ctx is cancelled or Release is called.
	Block bool

	// Calls records every invocation.
	Calls []PlayCall

	release chan struct{}
	started chan struct{}
}

// PlayRefAudioLine implements [playback.Player].
func (p *Player) PlayRefAudioLine(ctx context.Context, url string, start, end time.Duration) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{URL: url, Start: start, End: end})
	err, block := p.Err, p.Block
	if p.release == nil {
		p.release = make(chan struct{}, 16)
	}
	release := p.release
	if p.started != nil {
		select {
		case p.started <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if !block {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-release:
		return nil
	}
}

// Release lets one blocked call return nil.
func (p *Player) Release() {
	p.mu.Lock()
	if p.release == nil {
		p.release = make(chan struct{}, 16)
	}
	ch := p.release
	p.mu.Unlock()
	ch <- struct{}{}
}

// Started returns a channel that receives once per call.
func (p *Player) Started() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan struct{}, 64)
	}
	return p.started
}

// CallCount returns the number of calls.
func (p *Player) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

var _ playback.Sink = (*Sink)(nil)

// Sink is a mock [playback.Sink] that consumes PCM as fast as possible.
type Sink struct {
	mu sync.Mutex

	// Out is the format reported by Format. Zero means 16 kHz mono.
	Out audio.Format

	// Err is returned by Play after draining when non-nil.
	Err error

	// Played holds the bytes of each Play call.
	Played [][]byte
}

// Format implements [playback.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Out.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.Out
}

// Play implements [playback.Sink].
func (s *Sink) Play(ctx context.Context, pcm io.Reader) error {
	data, err := io.ReadAll(pcm)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = append(s.Played, data)
	return s.Err
}
