package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/swaracoach/internal/mantra"
	"github.com/MrWong99/swaracoach/internal/observe"
	"github.com/MrWong99/swaracoach/internal/swara"
	"github.com/MrWong99/swaracoach/pkg/audio"
	"github.com/MrWong99/swaracoach/pkg/audio/codec"
)

// AnalyzeRequest names the canonical line a recording is scored against.
type AnalyzeRequest struct {
	Section string
	Line    int

	// BaselineHz is the learner's base tone. Zero estimates it.
	BaselineHz float64

	// Boundaries optionally gives one span per syllable.
	Boundaries []swara.Boundary
}

// AnalyzeRecording decodes a WAV or MP3 recording and runs the swara
// analysis against the syllables of the requested line. name is used only
// to detect the container.
func AnalyzeRecording(ctx context.Context, lib *mantra.Library, req AnalyzeRequest, name string, data []byte, opts swara.AnalyzeOptions) (*swara.AnalysisResult, error) {
	sec, err := lib.Section(req.Section)
	if err != nil {
		return nil, err
	}
	if _, err := sec.Line(req.Line); err != nil {
		return nil, err
	}
	syllables := sec.Syllables(req.Line)
	if len(syllables) == 0 {
		return nil, fmt.Errorf("api: section %q line %d has no syllables", req.Section, req.Line)
	}

	samples, err := codec.ReadMono(name, data, audio.DefaultSampleRate)
	if err != nil {
		return nil, fmt.Errorf("api: decode recording: %w", err)
	}
	opts.SampleRate = audio.DefaultSampleRate
	opts.BaselineHz = req.BaselineHz
	opts.Boundaries = req.Boundaries
	return swara.Analyze(ctx, samples, syllables, opts)
}

// ParseBoundaries parses "start-end" second pairs separated by commas, e.g.
// "0-0.25,0.25-0.6".
func ParseBoundaries(s string) ([]swara.Boundary, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []swara.Boundary
	for i, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), "-")
		if !ok {
			return nil, fmt.Errorf("boundary %d: want start-end, got %q", i, part)
		}
		start, err1 := strconv.ParseFloat(lo, 64)
		end, err2 := strconv.ParseFloat(hi, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("boundary %d: %w", i, err)
		}
		if !finiteSeconds(start) || !finiteSeconds(end) {
			return nil, fmt.Errorf("boundary %d: span %q out of range", i, part)
		}
		if start < 0 || end <= start {
			return nil, fmt.Errorf("boundary %d: invalid span %g-%g", i, start, end)
		}
		out = append(out, swara.Boundary{Start: seconds(start), End: seconds(end)})
	}
	return out, nil
}

// maxSeconds is the longest span a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

func finiteSeconds(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v <= maxSeconds
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Library == nil {
		respondError(w, http.StatusServiceUnavailable, "no_library", "no mantra library loaded")
		return
	}
	q := r.URL.Query()
	req := AnalyzeRequest{Section: q.Get("section")}
	if req.Section == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "section is required")
		return
	}
	var err error
	if v := q.Get("line"); v != "" {
		if req.Line, err = strconv.Atoi(v); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "line: "+err.Error())
			return
		}
	}
	if v := q.Get("baseline_hz"); v != "" {
		if req.BaselineHz, err = strconv.ParseFloat(v, 64); err != nil || req.BaselineHz < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "baseline_hz must be a non-negative number")
			return
		}
	}
	if req.Boundaries, err = ParseBoundaries(q.Get("boundaries")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "too_large", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "empty recording")
		return
	}

	name := "upload"
	if strings.Contains(r.Header.Get("Content-Type"), "mpeg") {
		name = "upload.mp3"
	}
	res, err := AnalyzeRecording(r.Context(), s.cfg.Library, req, name, data, s.cfg.AnalyzeDefaults())
	switch {
	case errors.Is(err, mantra.ErrSectionNotFound):
		respondError(w, http.StatusNotFound, "section_not_found", err.Error())
		return
	case errors.Is(err, codec.ErrUnsupported):
		respondError(w, http.StatusUnsupportedMediaType, "unsupported_audio", err.Error())
		return
	case errors.Is(err, swara.ErrNoVoicedAudio):
		respondError(w, http.StatusUnprocessableEntity, "no_voice", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "analysis_failed", err.Error())
		return
	}

	s.cfg.Metrics.SwaraQuality.Record(r.Context(), res.OverallQuality)
	observe.Logger(r.Context()).Info("api: recording analysed",
		"section", req.Section,
		"line", req.Line,
		"gradable", res.GradableCount,
		"correct", res.CorrectCount,
		"baseline_hz", res.BaselineHz,
	)
	respondJSON(w, http.StatusOK, res)
}
