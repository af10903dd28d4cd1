// Package events publishes practice updates to NATS so other services can
// follow a session without holding a websocket open.
//
// State updates go to "<prefix>.<session>.state" and transcript scores to
// "<prefix>.<session>.score". Pitch updates are not published; they arrive
// several times a second and only matter to a live display.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/swaracoach/internal/engine"
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher is an [engine.Observer] that forwards updates to NATS.
// OnUpdate never blocks on the network: nats.go buffers publishes and flushes
// them from its own goroutine.
type Publisher struct {
	conn   Conn
	prefix string

	published atomic.Int64
	failed    atomic.Int64
}

var _ engine.Observer = (*Publisher)(nil)

// NewPublisher returns a Publisher writing below prefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an update of kind for session goes to.
func (p *Publisher) Subject(session string, kind engine.UpdateKind) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, session, kind)
}

// OnUpdate implements [engine.Observer].
func (p *Publisher) OnUpdate(u engine.Update) {
	if u.Kind != engine.KindState && u.Kind != engine.KindScore {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		p.failed.Add(1)
		slog.Warn("events: cannot encode update", "session_id", u.SessionID, "kind", u.Kind, "err", err)
		return
	}
	subject := p.Subject(u.SessionID, u.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		p.failed.Add(1)
		slog.Warn("events: publish failed", "subject", subject, "seq", u.Seq, "err", err)
		return
	}
	p.published.Add(1)
}

// Stats returns the number of published and failed updates.
func (p *Publisher) Stats() (published, failed int64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("events: drain: %w", err)
	}
	return nil
}
