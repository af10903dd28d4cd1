package practice

import (
	"fmt"
	"slices"
)

// Mode is the practice granularity.
type Mode string

const (
	ModeLine      Mode = "line"
	ModeParagraph Mode = "paragraph"
	ModeFull      Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeLine || m == ModeParagraph || m == ModeFull
}

// ValidCycles lists the allowed TotalCyclesTarget values.
var ValidCycles = []int{3, 5, 9, 11}

// DefaultCycles is the target used when none is set.
const DefaultCycles = 3

// ValidateCycles returns an error unless n is in ValidCycles.
func ValidateCycles(n int) error {
	if !slices.Contains(ValidCycles, n) {
		return fmt.Errorf("practice: repeat cycles must be one of %v, got %d", ValidCycles, n)
	}
	return nil
}

// Failure is the payload of the error state.
type Failure struct {
	Message string `json:"message"`
}

// Context is the progress of one practice run.
type Context struct {
	LineIndex         int      `json:"lineIndex"`
	RepeatInCycle     int      `json:"repeatInCycle"`
	CurrentCycle      int      `json:"currentCycle"`
	TotalCyclesTarget int      `json:"totalCyclesTarget"`
	Mode              Mode     `json:"mode"`
	RefAudioURL       string   `json:"refAudioUrl,omitempty"`
	TotalLines        int      `json:"totalLines"`
	Transcripts       []string `json:"transcripts"`

	// Failure is non-nil exactly in StateError.
	Failure *Failure `json:"error,omitempty"`
}

// Snapshot is the machine's complete observable state. Snapshots are
// values; Transition never mutates its input.
type Snapshot struct {
	State   State   `json:"state"`
	Context Context `json:"context"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Context.Transcripts = slices.Clone(s.Context.Transcripts)
	if s.Context.Failure != nil {
		f := *s.Context.Failure
		c.Context.Failure = &f
	}
	return c
}
