// Package mock provides a scripted stt.Provider for tests.
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{{Transcript: stt.Transcript{Text: "om"}}}}
//	tr, err := p.Transcribe(ctx, stt.Request{Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/swaracoach/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order. When exhausted, Default is returned.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// Block makes every call wait for ctx to end and return ctx.Err(),
	// like a backend that accepts audio and never answers.
	Block bool

	// Calls records every request in order.
	Calls []stt.Request
}

// Transcribe records req and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	block := p.Block
	p.mu.Unlock()
	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	r := p.Default
	if len(p.Results) > 0 {
		r = p.Results[0]
		p.Results = p.Results[1:]
	}
	return r.Transcript, r.Err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
