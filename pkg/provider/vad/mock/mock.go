// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script per-window events; it fires the callbacks of the
// Config it was created with when a scripted SpeechStart or SpeechEnd is
// returned.
//
// Example:
//
//	sess := &mock.Session{Script: []vad.EventType{vad.SpeechStart, vad.SpeechEnd}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/swaracoach/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new Session with an empty
	// script is returned.
	Session *Session

	// NewSessionErr, if non-nil, is returned by NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every call in order.
	NewSessionCalls []vad.Config
}

// NewSession records the call and binds cfg's callbacks to the session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := e.Session
	if s == nil {
		s = &Session{}
	}
	s.bind(cfg)
	return s, nil
}

// CallCount returns the number of NewSession calls.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewSessionCalls)
}

var _ vad.Engine = (*Engine)(nil)

// Session is a scripted vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script lists the event types returned by successive Process calls.
	// Once exhausted Process returns Silence.
	Script []vad.EventType

	// ProcessCalls counts Process invocations.
	ProcessCalls int

	// ResetCallCount and CloseCallCount count the respective calls.
	ResetCallCount int
	CloseCallCount int

	cfg      vad.Config
	speaking bool
	closed   bool
}

func (s *Session) bind(cfg vad.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.closed = false
}

// Process returns the next scripted event.
func (s *Session) Process(samples []float32) vad.Event {
	s.mu.Lock()
	s.ProcessCalls++
	if s.closed || len(s.Script) == 0 {
		s.mu.Unlock()
		return vad.Event{Type: vad.Silence}
	}
	typ := s.Script[0]
	s.Script = s.Script[1:]
	var cb func()
	switch typ {
	case vad.SpeechStart:
		s.speaking = true
		cb = s.cfg.OnSpeechStart
	case vad.SpeechEnd:
		s.speaking = false
		cb = s.cfg.OnSpeechEnd
	}
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
	return vad.Event{Type: typ}
}

// State implements vad.SessionHandle.
func (s *Session) State() vad.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return vad.State{Speaking: s.speaking}
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.speaking = false
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)
