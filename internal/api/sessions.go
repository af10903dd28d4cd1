package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/swaracoach/internal/engine"
	"github.com/MrWong99/swaracoach/internal/mantra"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/practice"
)

type createResponse struct {
	ID string `json:"id"`
}

type startRequest struct {
	Line int `json:"line"`
}

type cyclesRequest struct {
	Cycles int `json:"cycles"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Section == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "section is required")
		return
	}
	if req.Cycles != 0 {
		if err := practice.ValidateCycles(req.Cycles); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_cycles", err.Error())
			return
		}
	}
	if req.BaselineHz < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "baseline_hz must not be negative")
		return
	}

	c, err := s.cfg.Sessions.Create(r.Context(), req)
	switch {
	case errors.Is(err, ErrSessionActive):
		respondError(w, http.StatusConflict, "session_active", err.Error())
		return
	case errors.Is(err, mantra.ErrSectionNotFound):
		respondError(w, http.StatusNotFound, "section_not_found", err.Error())
		return
	case err != nil:
		observe.Logger(r.Context()).Error("api: create session failed", "section", req.Section, "err", err)
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	observe.Logger(r.Context()).Info("api: session created", "session_id", c.ID(), "section", req.Section)
	respondJSON(w, http.StatusCreated, createResponse{ID: c.ID()})
}

// session resolves {id} or writes a 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (engine.Controller, bool) {
	id := chi.URLParam(r, "id")
	c, ok := s.cfg.Sessions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session_not_found", ErrUnknownSession.Error()+": "+id)
	}
	return c, ok
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.cfg.Sessions.Close(id)
	switch {
	case errors.Is(err, ErrUnknownSession):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "close_failed", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.run(w, r, c, func() error { return c.Start(req.Line) })
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	c, ok := s.session(w, r)
	if !ok {
		return
	}
	var req cyclesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.run(w, r, c, func() error { return c.SetRepeatCycles(req.Cycles) })
}

// command adapts a body-less controller method to a handler.
func (s *Server) command(fn func(engine.Controller) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.session(w, r)
		if !ok {
			return
		}
		s.run(w, r, c, func() error { return fn(c) })
	}
}

// run executes a command and answers with the resulting snapshot.
func (s *Server) run(w http.ResponseWriter, r *http.Request, c engine.Controller, fn func() error) {
	err := fn()
	switch {
	case errors.Is(err, engine.ErrInvalidCycles):
		respondError(w, http.StatusBadRequest, "invalid_cycles", err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		respondError(w, http.StatusGone, "session_closed", err.Error())
	case err != nil:
		observe.Logger(r.Context()).Warn("api: command failed", "session_id", c.ID(), "path", r.URL.Path, "err", err)
		respondError(w, http.StatusInternalServerError, "command_failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, c.Snapshot())
	}
}
