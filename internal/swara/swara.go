// Package swara turns pitch into Vedic accent categories.
//
// A pitch is classified by its offset from the learner's base tone in
// semitones:
//
//	anudhaatha   offset < -0.5
//	udhaatha     -0.5 <= offset <= 0.8
//	swarita      0.8 < offset <= 2.0
//	dheerga      offset > 2.0
//
// The same classification backs the live [Tracker] used while the learner
// repeats a line and the offline [Analyze] pass over a full recording.
package swara

import (
	"fmt"
	"math"
)

// Swara is a tonal accent category.
type Swara string

const (
	Anudhaatha Swara = "anudhaatha"
	Udhaatha   Swara = "udhaatha"
	Swarita    Swara = "swarita"
	Dheerga    Swara = "dheerga"
)

// Category bounds in semitones relative to the base tone.
const (
	lowerBound  = -0.5
	swaritaFrom = 0.8
	dheergaFrom = 2.0
)

// boundaries are the three bucket edges in ascending order.
var boundaries = [...]float64{lowerBound, swaritaFrom, dheergaFrom}

// Valid reports whether s is one of the four categories.
func (s Swara) Valid() bool {
	switch s {
	case Anudhaatha, Udhaatha, Swarita, Dheerga:
		return true
	}
	return false
}

// ParseSwara returns the category named s.
func ParseSwara(s string) (Swara, error) {
	v := Swara(s)
	if !v.Valid() {
		return "", fmt.Errorf("swara: unknown category %q", s)
	}
	return v, nil
}

// Range returns the closed offset interval covered by s. Open ends are
// reported as ±Inf.
func (s Swara) Range() (lo, hi float64) {
	switch s {
	case Anudhaatha:
		return math.Inf(-1), lowerBound
	case Udhaatha:
		return lowerBound, swaritaFrom
	case Swarita:
		return swaritaFrom, dheergaFrom
	case Dheerga:
		return dheergaFrom, math.Inf(1)
	}
	return math.NaN(), math.NaN()
}

// Classification is the result of classifying one pitch.
type Classification struct {
	Swara      Swara   `json:"swara"`
	OffsetSt   float64 `json:"offset_st"`
	Confidence float64 `json:"confidence"`
}

// Semitones returns 12·log2(f/base), rounded to 1e-9 so that values meant
// to sit on a bucket edge classify deterministically. Non-positive inputs
// yield NaN.
func Semitones(f, base float64) float64 {
	if f <= 0 || base <= 0 {
		return math.NaN()
	}
	return math.Round(12*math.Log2(f/base)*1e9) / 1e9
}

// Classify buckets frequencyHz against baselineHz. Confidence here depends
// only on the distance to the nearest bucket edge; [Tracker] adds history
// stability.
func Classify(frequencyHz, baselineHz float64) (Classification, error) {
	off := Semitones(frequencyHz, baselineHz)
	if math.IsNaN(off) {
		return Classification{}, fmt.Errorf("swara: classify %.2f Hz against %.2f Hz: frequencies must be positive", frequencyHz, baselineHz)
	}
	return Classification{
		Swara:      ClassifyOffset(off),
		OffsetSt:   off,
		Confidence: confidence(off, nil),
	}, nil
}

// ClassifyOffset buckets a semitone offset.
func ClassifyOffset(off float64) Swara {
	switch {
	case off < lowerBound:
		return Anudhaatha
	case off <= swaritaFrom:
		return Udhaatha
	case off <= dheergaFrom:
		return Swarita
	default:
		return Dheerga
	}
}

// edgeScale is the distance from an edge (st) at which boundary confidence
// saturates.
const edgeScale = 0.5

// confidence blends edge distance with the spread of recent offsets. With
// no history only the edge term counts.
func confidence(off float64, history []float64) float64 {
	d := math.Inf(1)
	for _, b := range boundaries {
		d = min(d, math.Abs(off-b))
	}
	edge := 0.5 + 0.5*min(1, d/edgeScale)
	if len(history) < 2 {
		return edge
	}
	stability := 1 / (1 + stddev(history))
	return 0.6*edge + 0.4*stability
}

func stddev(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(v)))
}

// snap returns expected when off lies within tol semitones of expected's
// range, raw otherwise.
func snap(raw, expected Swara, off, tol float64) Swara {
	if !expected.Valid() || raw == expected {
		return raw
	}
	lo, hi := expected.Range()
	var dist float64
	switch {
	case off < lo:
		dist = lo - off
	case off > hi:
		dist = off - hi
	}
	if dist <= tol {
		return expected
	}
	return raw
}
