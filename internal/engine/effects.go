package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/practice"
	"github.com/MrWong99/swaracoach/internal/swara"
	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/capture"
	"github.com/MrWong99/swaracoach/pkg/provider/stt"
	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// errStreamEnded reports a microphone stream that closed before the
// learner said anything.
var errStreamEnded = errors.New("engine: microphone stream ended before speech")

// play performs the Shruti half of a cycle.
func (e *Engine) play(ctx context.Context, gen uint64, c practice.Context) {
	line := e.cfg.Lines[c.LineIndex]
	start := time.Now()
	err := e.cfg.Player.PlayRefAudioLine(ctx, c.RefAudioURL, line.Start, line.End)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		observe.Logger(ctx).Warn("engine: reference playback failed",
			"line", c.LineIndex, "url", c.RefAudioURL, "err", err)
		e.post(ctx, gen, practice.Error(err.Error()))
		return
	}
	if e.metrics != nil {
		e.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}
	e.post(ctx, gen, practice.AppPlayDone())
}

// listen performs one Smriti repetition: capture until the learner stops,
// transcribe, score.
func (e *Engine) listen(ctx context.Context, gen uint64, c practice.Context) {
	pcm, rate, err := e.capture(ctx, c)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		observe.Logger(ctx).Warn("engine: capture failed", "line", c.LineIndex, "repeat", c.RepeatInCycle, "err", err)
		e.post(ctx, gen, practice.Error(err.Error()))
		return
	}
	if e.metrics != nil {
		e.metrics.UtteranceDuration.Record(ctx, audio.SamplesDuration(len(pcm)/2, rate).Seconds())
	}

	if len(pcm) == 0 {
		// Ceiling reached without speech.
		e.post(ctx, gen, practice.UserSpokeDoneSilent())
		return
	}

	text, ok := e.transcribe(ctx, pcm, rate, c)
	if ctx.Err() != nil {
		return
	}
	if ok {
		e.score(c, text)
	}
	e.post(ctx, gen, practice.UserSpokeDone(text))
}

// capture records one utterance as PCM16. The microphone and the VAD
// session are released before it returns, and no VAD callback fires after.
func (e *Engine) capture(ctx context.Context, c practice.Context) (pcm []byte, rate int, err error) {
	stream, err := capture.GetMicStream(ctx, e.cfg.Microphone, e.cfg.Capture)
	if err != nil {
		return nil, 0, err
	}
	defer stream.Close()
	rate = stream.Format().SampleRate

	capCtx, finish := context.WithCancel(ctx)
	defer finish()

	// speaking and ended are only touched on this goroutine: the VAD fires
	// its callbacks synchronously from Process.
	var (
		speaking, ended bool
		ceiling         atomic.Bool
	)
	sess, err := e.cfg.VAD.NewSession(vad.Config{
		SampleRate:   rate,
		RMSThreshold: e.cfg.RMSThreshold,
		MinSilence:   e.cfg.MinSilence,
		OnSpeechStart: func() {
			speaking = true
			e.vadEvent(ctx, "speech_start", c)
		},
		OnSpeechEnd: func() {
			speaking = false
			ended = true
			e.vadEvent(ctx, "speech_end", c)
			finish()
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("engine: vad session: %w", err)
	}
	defer sess.Close()

	if e.cfg.MaxUtterance > 0 {
		t := time.AfterFunc(e.cfg.MaxUtterance, func() {
			ceiling.Store(true)
			finish()
		})
		defer t.Stop()
	}

	tracker := swara.NewTracker(swara.TrackerConfig{Detector: e.cfg.Detector, BaselineHz: e.cfg.BaselineHz})
	err = audio.CreatePCMStream(capCtx, stream, audio.FramerConfig{
		SampleRate: rate,
		WindowSize: e.cfg.FrameSize,
		OnWindow: func(samples []float32) {
			if ended || ceiling.Load() {
				return
			}
			sess.Process(samples)
		},
		OnChunk: func(f audio.Frame) {
			if ended {
				return
			}
			if speaking {
				pcm = append(pcm, f.PCM...)
			}
			u := tracker.Track(f.Samples)
			e.publish(Update{Kind: KindPitch, State: captureState(c), Context: c, Pitch: &u})
		},
	})

	switch {
	case ctx.Err() != nil:
		return nil, 0, ctx.Err()
	case ended:
	case ceiling.Load():
		e.vadEvent(ctx, "ceiling", c)
		observe.Logger(ctx).Info("engine: utterance ceiling reached",
			"line", c.LineIndex, "repeat", c.RepeatInCycle, "max", e.cfg.MaxUtterance, "speech", speaking)
	case err != nil:
		return nil, 0, fmt.Errorf("engine: capture: %w", err)
	case !speaking:
		return nil, 0, errStreamEnded
	}
	return pcm, rate, nil
}

// transcribe returns the text of pcm and whether it came from a backend.
// Failures yield [UnclearTranscript]; they never stop the run.
func (e *Engine) transcribe(ctx context.Context, pcm []byte, rate int, c practice.Context) (string, bool) {
	if e.stt == nil {
		return UnclearTranscript, false
	}

	ctx, span := observe.StartSpan(ctx, "engine.transcribe")
	defer span.End()

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TranscribeTimeout)
	defer cancel()
	tr, err := e.stt.Transcribe(tctx, stt.Request{
		Audio:      pcm,
		SampleRate: rate,
		Language:   e.cfg.Language,
		Prompt:     e.cfg.Lines[c.LineIndex].Text,
	})
	if ctx.Err() != nil {
		return "", false
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = &stt.TranscriptionError{Provider: "engine", Err: fmt.Errorf("no transcript within %v: %w", e.cfg.TranscribeTimeout, err)}
	}
	if err != nil {
		span.RecordError(err)
		observe.Logger(ctx).Warn("engine: transcription failed, using placeholder",
			"line", c.LineIndex, "repeat", c.RepeatInCycle, "err", err)
		if e.metrics != nil {
			e.metrics.RecordProviderRequest(ctx, "stt", "transcription", "error")
		}
		return UnclearTranscript, false
	}
	if e.metrics != nil {
		e.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		e.metrics.RecordProviderRequest(ctx, "stt", "transcription", "ok")
	}
	return tr.Text, true
}

func (e *Engine) score(c practice.Context, text string) {
	line := e.cfg.Lines[c.LineIndex]
	if line.Text == "" {
		return
	}
	r := e.matcher.Score(text, line.Text)
	if e.metrics != nil {
		e.metrics.MatchScore.Record(e.base, r.Similarity)
	}
	e.publish(Update{
		Kind:    KindScore,
		State:   captureState(c),
		Context: c,
		Score: &Score{
			LineIndex:  c.LineIndex,
			Repeat:     c.RepeatInCycle,
			Transcript: text,
			Similarity: r.Similarity,
			Matched:    r.Matched,
			Total:      r.Total,
		},
	})
}

func (e *Engine) vadEvent(ctx context.Context, kind string, c practice.Context) {
	observe.Logger(ctx).Debug("engine: vad", "type", kind, "line", c.LineIndex, "repeat", c.RepeatInCycle)
	if e.metrics != nil {
		e.metrics.RecordVADEvent(ctx, kind)
	}
}

// captureState names the capture state of c.
func captureState(c practice.Context) practice.State {
	if c.RepeatInCycle == 2 {
		return practice.StateUserRepeat2
	}
	return practice.StateUserRepeat1
}
