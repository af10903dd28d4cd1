package playback

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/swaracoach/pkg/audio"
)

// pollInterval is how often OtoSink checks whether the player drained.
const pollInterval = 10 * time.Millisecond

var _ Sink = (*OtoSink)(nil)

// OtoSink plays PCM16 through the system speaker. oto allows one context
// per process, so create a single OtoSink and share it.
type OtoSink struct {
	ctx    *oto.Context
	format audio.Format
}

// NewOtoSink opens the speaker at sampleRate with channels (1 or 2).
func NewOtoSink(sampleRate, channels int) (*OtoSink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("playback: open speaker: %w", err)
	}
	<-ready
	return &OtoSink{ctx: ctx, format: audio.Format{SampleRate: sampleRate, Channels: channels}}, nil
}

// Format implements [Sink].
func (s *OtoSink) Format() audio.Format { return s.format }

// Play implements [Sink].
func (s *OtoSink) Play(ctx context.Context, pcm io.Reader) error {
	p := s.ctx.NewPlayer(pcm)
	defer p.Close()
	p.Play()

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			p.Pause()
			return ctx.Err()
		case <-t.C:
		}
	}
	return p.Err()
}
