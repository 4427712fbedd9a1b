package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/internal/profiler"
	"github.com/labviz/molcache/internal/quality"
)

// FrameRequest is the body of POST /v1/frames. A client that measures
// compute and render separately sends both; one that only knows the total
// sends frame_ms and the render share is estimated.
type FrameRequest struct {
	FrameMs     float64 `json:"frame_ms" validate:"gte=0"`
	ComputeMs   float64 `json:"compute_ms" validate:"gte=0"`
	RenderMs    float64 `json:"render_ms" validate:"gte=0"`
	MemoryBytes *int64  `json:"memory_bytes,omitempty" validate:"omitempty,gte=0"`
	DrawCalls   int     `json:"draw_calls" validate:"gte=0"`
	Primitives  int     `json:"primitives" validate:"gte=0"`
}

// FrameResponse is the recorded profile and the controller's decision.
type FrameResponse struct {
	Profile  profiler.PerformanceProfile `json:"profile"`
	Decision quality.Decision            `json:"decision"`
	Level    quality.Level               `json:"level"`
	Settings quality.Settings            `json:"settings"`
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiler == nil || s.deps.Quality == nil {
		s.respondError(w, http.StatusServiceUnavailable, "rendering feedback is not configured")
		return
	}

	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	measured := req.ComputeMs > 0 || req.RenderMs > 0
	if !measured && req.FrameMs <= 0 {
		s.respondError(w, http.StatusBadRequest, "frame_ms or compute_ms/render_ms is required")
		return
	}

	var memory int64
	if req.MemoryBytes != nil {
		memory = *req.MemoryBytes
	} else if s.deps.Memory != nil {
		memory = s.deps.Memory.MemoryBytes()
	}

	s.frameMu.Lock()
	var profile profiler.PerformanceProfile
	if measured {
		profile = s.deps.Profiler.RecordSample(profiler.Sample{
			ComputeMs:   req.ComputeMs,
			RenderMs:    req.RenderMs,
			MemoryBytes: memory,
			DrawCalls:   req.DrawCalls,
			Primitives:  req.Primitives,
		})
	} else {
		profile = s.deps.Profiler.RecordFrame(req.FrameMs, memory, req.DrawCalls, req.Primitives)
	}
	decision := s.deps.Quality.ObserveProfile(profile)
	s.frameMu.Unlock()

	s.respondJSON(w, http.StatusOK, FrameResponse{
		Profile:  profile,
		Decision: decision,
		Level:    decision.To,
		Settings: s.deps.Quality.SettingsFor(decision.To),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiler == nil {
		s.respondError(w, http.StatusServiceUnavailable, "profiler is not configured")
		return
	}
	report := s.deps.Profiler.GenerateReport()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(report.String()))
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quality == nil {
		s.respondError(w, http.StatusServiceUnavailable, "quality controller is not configured")
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Quality.State())
}

// handleQualityEvents waits for the next level change. It answers 204 when
// none arrives within the timeout, which a ?timeout= duration may shorten.
func (s *Server) handleQualityEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quality == nil {
		s.respondError(w, http.StatusServiceUnavailable, "quality controller is not configured")
		return
	}

	timeout := s.config.LongPollTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.respondError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		if d < timeout {
			timeout = d
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case change, ok := <-s.deps.Quality.Events():
		if !ok {
			s.respondError(w, http.StatusGone, "quality controller is closed")
			return
		}
		s.deliverChange(w, r, change)
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

// deliverChange writes change to the long-poll client. A change that cannot
// be written, or whose client has gone, is requeued for the next poll.
func (s *Server) deliverChange(w http.ResponseWriter, r *http.Request, change quality.Change) {
	body, err := json.Marshal(change)
	if err != nil {
		s.deps.Quality.Requeue(change)
		s.respondError(w, http.StatusInternalServerError, "failed to encode change")
		return
	}
	if r.Context().Err() != nil {
		s.deps.Quality.Requeue(change)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("quality change not delivered, requeued",
			zap.Stringer("to", change.To), zap.Error(err))
		s.deps.Quality.Requeue(change)
	}
}
