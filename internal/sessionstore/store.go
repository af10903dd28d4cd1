// Package sessionstore persists practice progress so a learner can resume
// after a reload.
//
// Only the position within a section is stored, never audio or
// transcripts. A snapshot is valid for [DefaultWindow] after it was taken;
// older snapshots load as absent.
//
// Three backends are provided: [MemoryStore] for tests and single-process
// use, [FileStore] for a JSON file per key, and [PostgresStore].
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/swaracoach/internal/practice"
)

// DefaultWindow is how long a snapshot stays resumable.
const DefaultWindow = 24 * time.Hour

// Snapshot is the persisted layout of a practice run.
type Snapshot struct {
	LineIndex         int    `json:"lineIndex"`
	CurrentCycle      int    `json:"currentCycle"`
	RepeatInCycle     int    `json:"repeatInCycle"`
	TotalCyclesTarget int    `json:"totalCyclesTarget"`
	Mode              string `json:"mode"`

	// Timestamp is when the snapshot was taken, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Capture builds a snapshot of c taken at at.
func Capture(c practice.Context, at time.Time) Snapshot {
	return Snapshot{
		LineIndex:         c.LineIndex,
		CurrentCycle:      c.CurrentCycle,
		RepeatInCycle:     c.RepeatInCycle,
		TotalCyclesTarget: c.TotalCyclesTarget,
		Mode:              string(c.Mode),
		Timestamp:         at.UnixMilli(),
	}
}

// Time returns Timestamp as a time.Time.
func (s Snapshot) Time() time.Time { return time.UnixMilli(s.Timestamp) }

// Fresh reports whether s is younger than window at now.
func (s Snapshot) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(s.Time()) <= window
}

// Validate checks that s describes a reachable position.
func (s Snapshot) Validate() error {
	var errs []error
	if s.LineIndex < 0 {
		errs = append(errs, fmt.Errorf("lineIndex %d is negative", s.LineIndex))
	}
	if err := practice.ValidateCycles(s.TotalCyclesTarget); err != nil {
		errs = append(errs, err)
	}
	if s.CurrentCycle < 1 || (s.TotalCyclesTarget > 0 && s.CurrentCycle > s.TotalCyclesTarget) {
		errs = append(errs, fmt.Errorf("currentCycle %d outside [1, %d]", s.CurrentCycle, s.TotalCyclesTarget))
	}
	if s.RepeatInCycle != 1 && s.RepeatInCycle != 2 {
		errs = append(errs, fmt.Errorf("repeatInCycle %d not in {1, 2}", s.RepeatInCycle))
	}
	if !practice.Mode(s.Mode).Valid() {
		errs = append(errs, fmt.Errorf("unknown mode %q", s.Mode))
	}
	return errors.Join(errs...)
}

// Encode serialises s.
func Encode(s Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("sessionstore: encode: %w", err)
	}
	return json.Marshal(s)
}

// Decode parses data. A snapshot older than window at now yields (nil, nil).
func Decode(data []byte, now time.Time, window time.Duration) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sessionstore: decode: %w", err)
	}
	if !s.Fresh(now, window) {
		return nil, nil
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("sessionstore: decode: %w", err)
	}
	return &s, nil
}

// Store persists one snapshot per key. Writes are last-write-wins.
type Store interface {
	// Save replaces the snapshot for key.
	Save(ctx context.Context, key string, s Snapshot) error

	// Load returns the snapshot for key, or (nil, nil) when there is none
	// or it is stale.
	Load(ctx context.Context, key string) (*Snapshot, error)

	// Clear removes the snapshot for key. Clearing a missing key is not an
	// error.
	Clear(ctx context.Context, key string) error
}

// PersistenceError reports a failed store operation.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("sessionstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}

// Option configures a store.
type Option func(*options)

type options struct {
	window time.Duration
	now    func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{window: DefaultWindow, now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithWindow overrides the freshness window.
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
