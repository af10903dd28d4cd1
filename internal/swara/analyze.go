package swara

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/swaracoach/pkg/audio"
)

// Syllable is one canonical syllable of a reference line.
type Syllable struct {
	Text           string `yaml:"text" json:"text"`
	Romanization   string `yaml:"romanization" json:"romanization,omitempty"`
	Expected       Swara  `yaml:"swara" json:"expectedSwara"`
	CanonicalIndex int    `yaml:"-" json:"canonicalIndex"`
}

// Boundary is the time span of one syllable within a recording.
type Boundary struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Analysis defaults.
const (
	DefaultToleranceSt    = 0.5
	DefaultMinDuration    = 80 * time.Millisecond
	DefaultMinVoicedRatio = 0.5
	DefaultFrameSize      = 1024
	DefaultHopSize        = 160

	// edgeFrames is how many voiced frames form the start and end pitch.
	edgeFrames = 3
)

// AnalyzeOptions tunes [Analyze]. Zero values select the defaults.
type AnalyzeOptions struct {
	SampleRate int

	// BaselineHz is the learner's base tone. Zero estimates it as the median
	// voiced pitch of the recording.
	BaselineHz float64

	// Boundaries gives one span per syllable. Nil splits the voiced part of
	// the recording evenly.
	Boundaries []Boundary

	ToleranceSt    float64
	MinDuration    time.Duration
	MinVoicedRatio float64
	FrameSize      int
	HopSize        int
	Detector       DetectorConfig
}

func (o AnalyzeOptions) withDefaults() AnalyzeOptions {
	if o.SampleRate <= 0 {
		o.SampleRate = audio.DefaultSampleRate
	}
	if o.ToleranceSt <= 0 {
		o.ToleranceSt = DefaultToleranceSt
	}
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	if o.MinVoicedRatio <= 0 {
		o.MinVoicedRatio = DefaultMinVoicedRatio
	}
	if o.FrameSize <= 0 {
		o.FrameSize = DefaultFrameSize
	}
	if o.HopSize <= 0 {
		o.HopSize = DefaultHopSize
	}
	o.Detector.SampleRate = o.SampleRate
	return o
}

// SegmentResult is the analysis of one syllable.
type SegmentResult struct {
	CanonicalIndex    int     `json:"canonicalIndex"`
	Text              string  `json:"text"`
	ExpectedSwara     Swara   `json:"expectedSwara"`
	DetectedSwara     Swara   `json:"detectedSwara"`
	DetectedCorrected Swara   `json:"detectedSwaraCorrected"`
	Confidence        float64 `json:"confidence"`
	StartTime         float64 `json:"startTime"`
	EndTime           float64 `json:"endTime"`
	F0StartHz         float64 `json:"f0_start_hz"`
	F0EndHz           float64 `json:"f0_end_hz"`
	F0MedianHz        float64 `json:"f0_median_hz"`
	DeltaStart        float64 `json:"delta_start"`
	DeltaEnd          float64 `json:"delta_end"`
	SlopeStPerSec     float64 `json:"slope_st_per_sec"`
	DurationMs        float64 `json:"duration_ms"`
	VoicedRatio       float64 `json:"voicedRatio"`
	Gradable          bool    `json:"gradable"`
	Correct           bool    `json:"correct"`
}

// AnalysisResult is the analysis of a whole recording.
type AnalysisResult struct {
	Segments          []SegmentResult `json:"segments"`
	BaselineHz        float64         `json:"baseline_hz"`
	GradableCount     int             `json:"gradableCount"`
	CorrectCount      int             `json:"correctCount"`
	OverallQuality    float64         `json:"overallQuality"`
	AverageBaselineHz float64         `json:"averageBaseline_hz"`
	DriftAmountSt     float64         `json:"driftAmount_st"`
}

// ErrNoVoicedAudio is returned when a baseline must be estimated from a
// recording that contains no pitch.
var ErrNoVoicedAudio = errors.New("swara: recording has no voiced audio")

// Analyze scores a recording against its canonical syllables. Segments that
// are too short or mostly unvoiced are reported but not graded.
func Analyze(ctx context.Context, samples []float32, syllables []Syllable, opts AnalyzeOptions) (*AnalysisResult, error) {
	if len(syllables) == 0 {
		return nil, errors.New("swara: analyze: no syllables")
	}
	opts = opts.withDefaults()
	if opts.Boundaries != nil && len(opts.Boundaries) != len(syllables) {
		return nil, fmt.Errorf("swara: analyze: %d boundaries for %d syllables", len(opts.Boundaries), len(syllables))
	}
	for i, b := range opts.Boundaries {
		if b.Start < 0 || b.End <= b.Start {
			return nil, fmt.Errorf("swara: analyze: boundary %d: invalid span %v-%v", i, b.Start, b.End)
		}
	}

	frames, err := contour(ctx, samples, opts)
	if err != nil {
		return nil, err
	}

	baseline := opts.BaselineHz
	if baseline <= 0 {
		baseline = MedianVoiced(frames)
		if baseline <= 0 {
			return nil, ErrNoVoicedAudio
		}
	}

	bounds := opts.Boundaries
	if bounds == nil {
		bounds = evenBoundaries(frames, len(syllables), audio.SamplesDuration(len(samples), opts.SampleRate))
	}

	res := &AnalysisResult{
		Segments:   make([]SegmentResult, len(syllables)),
		BaselineHz: baseline,
	}
	for i, syl := range syllables {
		seg, off := segment(frames, bounds[i], baseline, opts)
		seg.CanonicalIndex = syl.CanonicalIndex
		seg.Text = syl.Text
		seg.ExpectedSwara = syl.Expected
		seg.DetectedCorrected = seg.DetectedSwara
		if seg.Gradable {
			seg.DetectedCorrected = snap(seg.DetectedSwara, syl.Expected, off, opts.ToleranceSt)
			seg.Correct = seg.DetectedCorrected == syl.Expected
			res.GradableCount++
			if seg.Correct {
				res.CorrectCount++
			}
		}
		res.Segments[i] = seg
	}
	if res.GradableCount > 0 {
		res.OverallQuality = float64(res.CorrectCount) / float64(res.GradableCount)
	}
	res.AverageBaselineHz, res.DriftAmountSt = baseTone(res.Segments, baseline)
	return res, nil
}

// contour computes the pitch track in parallel chunks.
func contour(ctx context.Context, samples []float32, opts AnalyzeOptions) ([]PitchFrame, error) {
	if len(samples) < opts.FrameSize {
		return nil, nil
	}
	n := (len(samples)-opts.FrameSize)/opts.HopSize + 1
	frames := make([]PitchFrame, n)

	workers := min(runtime.GOMAXPROCS(0), n)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			det := NewDetector(opts.Detector)
			for i := lo; i < hi; i++ {
				if i%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				at := i * opts.HopSize
				hz, c := det.Detect(samples[at : at+opts.FrameSize])
				frames[i] = PitchFrame{
					FrequencyHz: hz,
					Clarity:     c,
					Timestamp:   audio.SamplesDuration(at+opts.FrameSize/2, opts.SampleRate),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("swara: pitch contour: %w", err)
	}
	return frames, nil
}

// MedianVoiced returns the median frequency of the voiced frames, 0 if
// there are none.
func MedianVoiced(frames []PitchFrame) float64 {
	var hz []float64
	for _, f := range frames {
		if f.Voiced() {
			hz = append(hz, f.FrequencyHz)
		}
	}
	return median(hz)
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := slices.Clone(v)
	slices.Sort(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}

func within(frames []PitchFrame, b Boundary) []PitchFrame {
	lo, _ := slices.BinarySearchFunc(frames, b.Start, func(f PitchFrame, t time.Duration) int {
		return cmpDur(f.Timestamp, t)
	})
	hi, _ := slices.BinarySearchFunc(frames, b.End, func(f PitchFrame, t time.Duration) int {
		return cmpDur(f.Timestamp, t)
	})
	return frames[lo:max(lo, hi)]
}

func cmpDur(a, b time.Duration) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func voicedOffsets(frames []PitchFrame, baseline float64) []float64 {
	var out []float64
	for _, f := range frames {
		if f.Voiced() {
			out = append(out, Semitones(f.FrequencyHz, baseline))
		}
	}
	return out
}

// segment measures one syllable span and returns it with its median offset.
func segment(all []PitchFrame, b Boundary, baseline float64, opts AnalyzeOptions) (SegmentResult, float64) {
	seg := SegmentResult{
		StartTime:  b.Start.Seconds(),
		EndTime:    b.End.Seconds(),
		DurationMs: float64(b.End-b.Start) / float64(time.Millisecond),
	}
	frames := within(all, b)
	var voiced []PitchFrame
	for _, f := range frames {
		if f.Voiced() {
			voiced = append(voiced, f)
		}
	}
	if len(frames) > 0 {
		seg.VoicedRatio = float64(len(voiced)) / float64(len(frames))
	}
	if len(voiced) == 0 {
		return seg, math.NaN()
	}

	k := min(edgeFrames, len(voiced))
	seg.F0StartHz = MedianVoiced(voiced[:k])
	seg.F0EndHz = MedianVoiced(voiced[len(voiced)-k:])
	seg.F0MedianHz = MedianVoiced(voiced)
	seg.DeltaStart = Semitones(seg.F0StartHz, baseline)
	seg.DeltaEnd = Semitones(seg.F0EndHz, baseline)
	if span := (voiced[len(voiced)-1].Timestamp - voiced[0].Timestamp).Seconds(); span > 0 {
		seg.SlopeStPerSec = (seg.DeltaEnd - seg.DeltaStart) / span
	}

	offsets := voicedOffsets(voiced, baseline)
	off := median(offsets)
	seg.DetectedSwara = ClassifyOffset(off)
	seg.Confidence = confidence(off, offsets)
	seg.Gradable = b.End-b.Start >= opts.MinDuration &&
		seg.VoicedRatio >= opts.MinVoicedRatio &&
		len(voiced) >= 2
	return seg, off
}

// evenBoundaries splits the voiced span of the recording into n equal
// syllables. Without voiced frames the whole recording is split.
func evenBoundaries(frames []PitchFrame, n int, total time.Duration) []Boundary {
	start, end := time.Duration(0), total
	first := slices.IndexFunc(frames, PitchFrame.Voiced)
	if first >= 0 {
		last := len(frames) - 1
		for !frames[last].Voiced() {
			last--
		}
		start = frames[first].Timestamp
		end = frames[last].Timestamp + time.Millisecond
	}
	step := (end - start) / time.Duration(n)
	out := make([]Boundary, n)
	for i := range out {
		out[i] = Boundary{Start: start + time.Duration(i)*step, End: start + time.Duration(i+1)*step}
	}
	out[n-1].End = end
	return out
}

// baseTone averages the pitch of gradable udhaatha syllables and reports how
// far the base tone moved between the first and last of them.
func baseTone(segs []SegmentResult, baseline float64) (avgHz, driftSt float64) {
	var hz []float64
	for _, s := range segs {
		if s.Gradable && s.ExpectedSwara == Udhaatha && s.F0MedianHz > 0 {
			hz = append(hz, s.F0MedianHz)
		}
	}
	if len(hz) == 0 {
		return baseline, 0
	}
	var logSum float64
	for _, f := range hz {
		logSum += math.Log(f)
	}
	avgHz = math.Exp(logSum / float64(len(hz)))
	if len(hz) > 1 {
		driftSt = Semitones(hz[len(hz)-1], hz[0])
	}
	return avgHz, driftSt
}
