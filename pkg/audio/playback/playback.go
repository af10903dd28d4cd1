// Package playback plays trimmed segments of reference recordings.
//
// A [Controller] fetches a recording by URL, decodes it, trims it to the
// requested [start, end) window, converts it to the sink's format and blocks
// until the sink has drained it. Only one segment plays at a time: starting
// a new one cancels the previous.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"

	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/codec"
)

// PlaybackError reports that a reference recording could not be loaded or
// played.
type PlaybackError struct {
	URL string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback: %s: %v", e.URL, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Sink is an audio output.
type Sink interface {
	// Format is the PCM16 layout Play expects.
	Format() audio.Format

	// Play consumes pcm until EOF and returns once it has been heard, or
	// returns ctx.Err() as soon as ctx is cancelled.
	Play(ctx context.Context, pcm io.Reader) error
}

// Player is the capability the practice engine needs.
type Player interface {
	PlayRefAudioLine(ctx context.Context, url string, start, end time.Duration) error
}

var _ Player = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for http(s) URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) { ctl.client = c }
}

// WithMaxBytes caps the size of a fetched recording. Default 64 MiB.
func WithMaxBytes(n int64) Option {
	return func(ctl *Controller) { ctl.maxBytes = n }
}

// Controller plays reference audio one segment at a time.
type Controller struct {
	sink     Sink
	client   *http.Client
	maxBytes int64

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64

	// Lines of one section usually share a recording.
	cacheMu  sync.Mutex
	cacheURL string
	cacheBuf []byte
}

// New returns a Controller writing to sink.
func New(sink Sink, opts ...Option) *Controller {
	c := &Controller{
		sink:     sink,
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: 64 << 20,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// PlayRefAudioLine plays rawURL from start until end (zero end means the
// natural end of the track). It returns nil when the segment finished, the
// context error when cancelled or superseded, and a *PlaybackError for
// everything else.
func (c *Controller) PlayRefAudioLine(ctx context.Context, rawURL string, start, end time.Duration) error {
	ctx, id := c.begin(ctx)
	defer c.finish(id)

	data, err := c.fetch(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PlaybackError{URL: rawURL, Err: err}
	}

	s, format, err := codec.Decode(rawURL, data)
	if err != nil {
		return &PlaybackError{URL: rawURL, Err: err}
	}
	defer s.Close()

	seg, err := codec.Segment(s, format, start, end)
	if err != nil {
		return &PlaybackError{URL: rawURL, Err: err}
	}
	out := c.sink.Format()
	seg = codec.Resample(seg, format.SampleRate, beep.SampleRate(out.SampleRate))

	slog.Debug("playback: segment start", "url", rawURL, "start", start, "end", end)
	if err := c.sink.Play(ctx, codec.NewPCMReader(seg, out.Channels)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &PlaybackError{URL: rawURL, Err: err}
	}
	return nil
}

// Stop cancels the active playback, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) begin(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	c.cancel = cancel
	return ctx, c.seq
}

func (c *Controller) finish(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == id && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	c.cacheMu.Lock()
	if c.cacheURL == rawURL && c.cacheBuf != nil {
		buf := c.cacheBuf
		c.cacheMu.Unlock()
		return buf, nil
	}
	c.cacheMu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	var rc io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		rc = resp.Body
	case "file", "":
		p := u.Path
		if u.Scheme == "" {
			p = rawURL
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		rc = f
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, errors.New("recording exceeds size limit")
	}

	c.cacheMu.Lock()
	c.cacheURL, c.cacheBuf = rawURL, data
	c.cacheMu.Unlock()
	return data, nil
}
