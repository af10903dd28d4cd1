// Package api exposes the practice engine over HTTP.
//
// Sessions are created, driven and discarded through JSON endpoints under
// /v1/sessions. Every update of a session is streamed to websocket clients
// of /v1/sessions/{id}/stream. /v1/analyze scores an uploaded recording
// offline, and the ops endpoints (/metrics, /healthz, /readyz) sit beside
// them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/health"
	"github.com/MrWong99/swaracoach/internal/mantra"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/swara"
)

var (
	// ErrSessionActive is returned by [Sessions.Create] while another
	// session holds the audio devices.
	ErrSessionActive = errors.New("a practice session is already active")

	// ErrUnknownSession is returned for ids that name no live session.
	ErrUnknownSession = errors.New("unknown session")
)

// CreateRequest is the body of POST /v1/sessions.
type CreateRequest struct {
	Section    string  `json:"section"`
	Cycles     int     `json:"cycles,omitempty"`
	BaselineHz float64 `json:"baseline_hz,omitempty"`
}

// Sessions hosts practice sessions.
type Sessions interface {
	Create(ctx context.Context, req CreateRequest) (engine.Controller, error)
	Get(id string) (engine.Controller, bool)
	Close(id string) error
}

// Config holds the collaborators of a [Server]. Sessions is required.
type Config struct {
	Sessions Sessions

	// Library resolves sections for /v1/analyze. Nil disables the endpoint.
	Library *mantra.Library

	// AnalyzeDefaults returns the analysis settings in effect. It is read
	// per request so configuration reloads apply.
	AnalyzeDefaults func() swara.AnalyzeOptions

	// MaxUploadBytes caps /v1/analyze bodies. Zero means 32 MiB.
	MaxUploadBytes int64

	Metrics  *observe.Metrics
	Health   *health.Handler
	Gatherer prometheus.Gatherer
}

const defaultMaxUpload = 32 << 20

// Server is the HTTP front of the practice engine.
type Server struct {
	cfg Config
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.AnalyzeDefaults == nil {
		cfg.AnalyzeDefaults = func() swara.AnalyzeOptions { return swara.AnalyzeOptions{} }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{cfg: cfg}
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.cfg.Metrics))

	if s.cfg.Health != nil {
		s.cfg.Health.Register(r)
	}
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.command(engine.Controller.Stop))
			r.Post("/pause", s.command(engine.Controller.Pause))
			r.Post("/resume", s.command(engine.Controller.Resume))
			r.Put("/cycles", s.handleCycles)
			r.Get("/stream", s.handleStream)
		})
	})
	r.Post("/v1/analyze", s.handleAnalyze)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
