package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Default connection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// ConnectConfig configures [Connect].
type ConnectConfig struct {
	// URL of the NATS server, e.g. "nats://localhost:4222".
	URL string

	// Name identifies this client to the server.
	Name string

	// MaxRetries bounds the initial connection attempts. Defaults to 5.
	MaxRetries int

	// Backoff is the wait after the first failed attempt. It doubles per
	// attempt up to MaxBackoff. Defaults to 500ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// dial replaces nats.Connect in tests.
	dial func(url string, opts ...nats.Option) (*nats.Conn, error)
}

// Connect dials NATS, retrying the initial connection with exponential
// backoff. Once connected, nats.go reconnects on its own; drops and
// recoveries are logged.
func Connect(ctx context.Context, cfg ConnectConfig) (*nats.Conn, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.dial == nil {
		cfg.dial = nats.Connect
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("events: nats disconnected", "url", cfg.URL, "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("events: nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	backoff := cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		nc, err := cfg.dial(cfg.URL, opts...)
		if err == nil {
			slog.Info("events: connected to nats", "url", cfg.URL, "attempt", attempt)
			return nc, nil
		}
		lastErr = err
		slog.Warn("events: nats connect failed",
			"url", cfg.URL,
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"backoff", backoff,
			"err", err,
		)
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cfg.MaxBackoff)
	}
	return nil, fmt.Errorf("events: connect to %s after %d attempts: %w", cfg.URL, cfg.MaxRetries, lastErr)
}
