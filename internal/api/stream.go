package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/observe"
)

const (
	// streamBuffer is how many updates a slow client may fall behind before
	// updates are dropped for it.
	streamBuffer = 64

	writeTimeout = 5 * time.Second
)

// queue is a per-client observer. OnUpdate never blocks the engine.
type queue struct {
	ch      chan engine.Update
	dropped atomic.Int64
}

func (q *queue) OnUpdate(u engine.Update) {
	select {
	case q.ch <- u:
	default:
		q.dropped.Add(1)
	}
}

// handleStream upgrades to a websocket and forwards every update of the
// session as a JSON text message, starting with the current snapshot.
// Messages from the client are ignored.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	log := observe.Logger(observe.WithSession(r.Context(), c.ID()))
	ctx := conn.CloseRead(r.Context())

	q := &queue{ch: make(chan engine.Update, streamBuffer)}
	unsubscribe := c.Subscribe(q)
	defer unsubscribe()

	s.cfg.Metrics.StreamSubscribers.Add(ctx, 1)
	defer s.cfg.Metrics.StreamSubscribers.Add(context.Background(), -1)
	log.Debug("api: stream subscriber connected")

	snap := c.Snapshot()
	first := engine.Update{Kind: engine.KindState, SessionID: c.ID(), Time: time.Now(), State: snap.State, Context: snap.Context}
	if err := write(ctx, conn, first); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug("api: stream subscriber gone", "dropped", q.dropped.Load())
			return
		case u := <-q.ch:
			if err := write(ctx, conn, u); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("api: stream write failed", "err", err)
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
