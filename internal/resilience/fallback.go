package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// ErrAttemptTimeout marks a call that exceeded
// [FallbackConfig.AttemptTimeout]. Unlike a caller deadline it counts
// against the entry's breaker.
var ErrAttemptTimeout = errors.New("provider attempt timed out")

// FallbackConfig is the breaker template applied to every entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds each call to an entry. Zero means no bound
	// beyond the caller's context.
	AttemptTimeout time.Duration
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries backends of the same type in registration order.
// Register all entries before first use; Add is not safe concurrently with
// Execute.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup returns an empty group.
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends a backend.
func (fg *FallbackGroup[T]) Add(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// States reports each entry's breaker state, keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// ExecuteWithResult calls fn on each entry until one succeeds and returns
// its result together with the entry name. Cancellation of ctx stops the
// walk immediately and returns ctx.Err().
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var res R
		err := e.breaker.Execute(func() error {
			actx, cancel := fg.attemptContext(ctx)
			defer cancel()
			var inner error
			res, inner = fn(actx, e.value)
			if inner != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %v", ErrAttemptTimeout, fg.cfg.AttemptTimeout)
			}
			return inner
		})
		if err == nil {
			return res, e.name, nil
		}
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
	}
	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no providers registered", ErrAllFailed)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (fg *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fg.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fg.cfg.AttemptTimeout)
}
