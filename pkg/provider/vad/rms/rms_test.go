package rms_test

import (
	"testing"
	"time"

	"github.com/MrWong99/swaracoach/pkg/provider/vad"
	"github.com/MrWong99/swaracoach/pkg/provider/vad/rms"
)

const rate = 16000

// window returns 100 ms of samples at constant amplitude. A constant
// signal's RMS equals its amplitude.
func window(amp float32) []float32 {
	w := make([]float32, rate/10)
	for i := range w {
		w[i] = amp
	}
	return w
}

type counter struct{ starts, ends int }

func newDetector(t *testing.T, c *counter) *rms.Detector {
	t.Helper()
	d, err := rms.NewDetector(vad.Config{
		SampleRate:    rate,
		OnSpeechStart: func() { c.starts++ },
		OnSpeechEnd:   func() { c.ends++ },
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestDetector_QuietNeverStarts(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)
	for range 100 {
		if ev := d.Process(window(0.009)); ev.Type != vad.Silence {
			t.Fatalf("event = %v, want silence", ev.Type)
		}
	}
	if c.starts != 0 || c.ends != 0 {
		t.Errorf("callbacks = %+v, want none", c)
	}
}

func TestDetector_StartThenEnd(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)

	if ev := d.Process(window(0.2)); ev.Type != vad.SpeechStart {
		t.Fatalf("first loud window = %v, want speech_start", ev.Type)
	}
	if ev := d.Process(window(0.2)); ev.Type != vad.SpeechContinue {
		t.Fatalf("second loud window = %v, want speech_continue", ev.Type)
	}

	// 700 ms of silence is not enough.
	for i := range 7 {
		if ev := d.Process(window(0)); ev.Type != vad.SpeechContinue {
			t.Fatalf("quiet window %d = %v, want speech_continue", i, ev.Type)
		}
	}
	st := d.State()
	if !st.Speaking || st.SilenceStart == nil || *st.SilenceStart != 200*time.Millisecond {
		t.Fatalf("state = %+v, want speaking with silence from 200ms", st)
	}

	// The eighth quiet window reaches 800 ms.
	if ev := d.Process(window(0)); ev.Type != vad.SpeechEnd {
		t.Fatalf("window at 800ms silence = %v, want speech_end", ev.Type)
	}
	for range 20 {
		d.Process(window(0))
	}
	if c.starts != 1 || c.ends != 1 {
		t.Errorf("callbacks = %+v, want exactly one start and one end", c)
	}
	if st := d.State(); st.Speaking || st.SilenceStart != nil {
		t.Errorf("state after end = %+v, want silent", st)
	}
}

func TestDetector_BriefPauseDoesNotEnd(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)
	d.Process(window(0.1))
	for range 5 {
		d.Process(window(0))
	}
	// Speech resumes: the pending silence is discarded.
	d.Process(window(0.1))
	if st := d.State(); st.SilenceStart != nil {
		t.Fatalf("silence start should be cleared by a speaking window, got %v", *st.SilenceStart)
	}
	for range 5 {
		d.Process(window(0))
	}
	if c.ends != 0 {
		t.Fatalf("ended after a 500ms pause")
	}
	if c.starts != 1 {
		t.Errorf("starts = %d, want 1", c.starts)
	}
}

func TestDetector_ThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)
	d.Process(window(vad.DefaultRMSThreshold))
	if c.starts != 0 {
		t.Error("RMS equal to the threshold must not count as speech")
	}
}

func TestDetector_CloseSilencesCallbacks(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)
	d.Process(window(0.5))
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	for range 20 {
		if ev := d.Process(window(0)); ev.Type != vad.Silence {
			t.Fatalf("event after close = %v, want silence", ev.Type)
		}
	}
	if c.ends != 0 {
		t.Error("OnSpeechEnd fired after Close")
	}
}

func TestDetector_Reset(t *testing.T) {
	t.Parallel()

	var c counter
	d := newDetector(t, &c)
	d.Process(window(0.5))
	d.Reset()
	if d.State().Speaking {
		t.Fatal("Reset should return to silent")
	}
	d.Process(window(0.5))
	if c.starts != 2 {
		t.Errorf("starts = %d, want 2 after reset", c.starts)
	}
}

func TestNewDetector_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"no rate", vad.Config{}},
		{"threshold too high", vad.Config{SampleRate: rate, RMSThreshold: 1}},
		{"negative silence", vad.Config{SampleRate: rate, MinSilence: -time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := rms.NewDetector(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEngine_FreshSessions(t *testing.T) {
	t.Parallel()

	e := rms.New()
	a, err := e.NewSession(vad.Config{SampleRate: rate})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.NewSession(vad.Config{SampleRate: rate})
	a.Process(window(0.5))
	if b.State().Speaking {
		t.Error("sessions must not share state")
	}
}
