package swara

import (
	"math"
	"time"

	"github.com/MrWong99/swaracoach/pkg/audio"
)

// PitchFrame is one pitch estimate. FrequencyHz is 0 for unvoiced frames.
type PitchFrame struct {
	FrequencyHz float64       `json:"frequency_hz"`
	Clarity     float64       `json:"clarity"`
	Timestamp   time.Duration `json:"timestamp"`
}

// Voiced reports whether a pitch was found.
func (p PitchFrame) Voiced() bool { return p.FrequencyHz > 0 }

// Pitch search defaults, covering chanting voices.
const (
	DefaultMinHz     = 60.0
	DefaultMaxHz     = 500.0
	DefaultThreshold = 0.15

	// silenceRMS gates frames too quiet to carry pitch.
	silenceRMS = 0.005
)

// DetectorConfig configures a [Detector].
type DetectorConfig struct {
	SampleRate int
	MinHz      float64
	MaxHz      float64

	// Threshold is the YIN aperiodicity threshold; lower is stricter.
	Threshold float64
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.DefaultSampleRate
	}
	if c.MinHz <= 0 {
		c.MinHz = DefaultMinHz
	}
	if c.MaxHz <= c.MinHz {
		c.MaxHz = DefaultMaxHz
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	return c
}

// Detector estimates the fundamental frequency of a window with the YIN
// algorithm. It reuses scratch buffers and is not safe for concurrent use.
type Detector struct {
	cfg  DetectorConfig
	diff []float64
}

// NewDetector returns a Detector for cfg.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Detect returns the fundamental of samples and a clarity in [0, 1]. An
// unvoiced window returns frequency 0.
func (d *Detector) Detect(samples []float32) (hz, clarity float64) {
	if audio.RMS(samples) < silenceRMS {
		return 0, 0
	}
	w := len(samples) / 2
	rate := float64(d.cfg.SampleRate)
	tauMin := max(2, int(rate/d.cfg.MaxHz))
	tauMax := min(w-1, int(math.Ceil(rate/d.cfg.MinHz)))
	if tauMax <= tauMin {
		return 0, 0
	}

	if cap(d.diff) < tauMax+1 {
		d.diff = make([]float64, tauMax+1)
	}
	diff := d.diff[:tauMax+1]

	// Difference function.
	for tau := 1; tau <= tauMax; tau++ {
		var sum float64
		for j := range w {
			delta := float64(samples[j]) - float64(samples[j+tau])
			sum += delta * delta
		}
		diff[tau] = sum
	}

	// Cumulative mean normalised difference.
	diff[0] = 1
	var running float64
	for tau := 1; tau <= tauMax; tau++ {
		running += diff[tau]
		if running == 0 {
			diff[tau] = 1
			continue
		}
		diff[tau] *= float64(tau) / running
	}

	tau := -1
	for t := tauMin; t <= tauMax; t++ {
		if diff[t] < d.cfg.Threshold {
			for t+1 <= tauMax && diff[t+1] < diff[t] {
				t++
			}
			tau = t
			break
		}
	}
	if tau < 0 {
		return 0, 0
	}

	better := float64(tau)
	if tau > 1 && tau < tauMax {
		s0, s1, s2 := diff[tau-1], diff[tau], diff[tau+1]
		if den := 2 * (2*s1 - s2 - s0); den != 0 {
			better += (s2 - s0) / den
		}
	}
	return rate / better, math.Max(0, math.Min(1, 1-diff[tau]))
}

// Contour runs the detector over samples with the given frame and hop
// sizes in samples.
func (d *Detector) Contour(samples []float32, frame, hop int) []PitchFrame {
	if frame <= 0 || hop <= 0 || len(samples) < frame {
		return nil
	}
	n := (len(samples)-frame)/hop + 1
	out := make([]PitchFrame, n)
	for i := range n {
		at := i * hop
		hz, c := d.Detect(samples[at : at+frame])
		out[i] = PitchFrame{
			FrequencyHz: hz,
			Clarity:     c,
			Timestamp:   audio.SamplesDuration(at, d.cfg.SampleRate),
		}
	}
	return out
}
