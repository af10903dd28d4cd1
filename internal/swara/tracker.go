package swara

import (
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
)

// DefaultHistory is how many voiced offsets the tracker keeps for its
// stability estimate.
const DefaultHistory = 8

// TrackerConfig configures a [Tracker].
type TrackerConfig struct {
	Detector   DetectorConfig
	BaselineHz float64

	// History is the number of recent voiced frames that feed confidence.
	// Zero means DefaultHistory.
	History int
}

// Update is the tracker's output for one window. Classification is nil
// when the window is unvoiced.
type Update struct {
	Pitch          PitchFrame      `json:"pitch"`
	Classification *Classification `json:"classification,omitempty"`
}

// Tracker classifies successive capture windows live. It is not safe for
// concurrent use; create one per capture.
type Tracker struct {
	det      *Detector
	rate     int
	baseline float64
	size     int
	history  []float64
	elapsed  int
}

// NewTracker returns a Tracker for cfg. A non-positive baseline disables
// classification; pitch is still reported.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	det := NewDetector(cfg.Detector)
	return &Tracker{
		det:      det,
		rate:     det.cfg.SampleRate,
		baseline: cfg.BaselineHz,
		size:     cfg.History,
		history:  make([]float64, 0, cfg.History),
	}
}

// Track estimates pitch for window and, when voiced, classifies it.
func (t *Tracker) Track(window []float32) Update {
	ts := audio.SamplesDuration(t.elapsed, t.rate)
	t.elapsed += len(window)

	hz, clarity := t.det.Detect(window)
	u := Update{Pitch: PitchFrame{FrequencyHz: hz, Clarity: clarity, Timestamp: ts}}
	if hz <= 0 || t.baseline <= 0 {
		return u
	}

	off := Semitones(hz, t.baseline)
	if len(t.history) == t.size {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.size-1]
	}
	t.history = append(t.history, off)
	u.Classification = &Classification{
		Swara:      ClassifyOffset(off),
		OffsetSt:   off,
		Confidence: confidence(off, t.history),
	}
	return u
}

// Elapsed returns the stream time consumed so far.
func (t *Tracker) Elapsed() time.Duration { return audio.SamplesDuration(t.elapsed, t.rate) }

// Reset clears history and the stream clock.
func (t *Tracker) Reset() {
	t.history = t.history[:0]
	t.elapsed = 0
}
