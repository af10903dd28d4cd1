package resilience

import (
	"context"

	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

// TranscriberFallback implements stt.Provider over an ordered list of
// backends, each with its own circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback returns an empty fallback chain.
func NewTranscriberFallback(cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup[stt.Provider](cfg)}
}

// Add registers a backend after the ones already present.
func (f *TranscriberFallback) Add(name string, p stt.Provider) {
	f.group.Add(name, p)
}

// Transcribe implements stt.Provider. On total failure the error wraps
// [ErrAllFailed] inside an *stt.TranscriptionError.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	tr, _, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
	if err != nil && ctx.Err() == nil {
		return stt.Transcript{}, &stt.TranscriptionError{Provider: "fallback", Err: err}
	}
	return tr, err
}

// States reports each backend's breaker state.
func (f *TranscriberFallback) States() map[string]State {
	return f.group.States()
}

// Healthy reports whether at least one backend is not open.
func (f *TranscriberFallback) Healthy() bool {
	for _, s := range f.group.States() {
		if s != StateOpen {
			return true
		}
	}
	return false
}
