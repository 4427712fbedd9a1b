package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/labviz/molcache/internal/orchestrator"
	"github.com/labviz/molcache/pkg/health"
	"github.com/labviz/molcache/pkg/types"
)

var validate = validator.New()

// HeaderCacheSource names the tier that answered an asset request.
const HeaderCacheSource = "X-Cache-Source"

// PrefetchRequest is the body of POST /v1/prefetch.
type PrefetchRequest struct {
	Keys []string `json:"keys" validate:"required,min=1,max=1000,dive,required"`
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	opts := orchestrator.FetchOptions{}
	if v := r.URL.Query().Get("refresh"); v != "" {
		refresh, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "refresh must be a boolean")
			return
		}
		opts.ForceRefresh = refresh
	}
	if v := r.URL.Query().Get("skip"); v != "" {
		for _, name := range strings.Split(v, ",") {
			tier, err := types.ParseTier(name)
			if err != nil || tier == types.TierOrigin {
				s.respondError(w, http.StatusBadRequest, "skip takes fast, edge or durable")
				return
			}
			opts.SkipTiers = append(opts.SkipTiers, tier)
		}
	}

	res, err := s.deps.Cache.Fetch(r.Context(), key, opts)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set(HeaderCacheSource, res.Source.String())
	if res.Coalesced {
		w.Header().Set("X-Cache-Coalesced", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	s.deps.Cache.Invalidate(r.Context(), chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	var req PrefetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.deps.Cache.Prefetch(r.Context(), req.Keys))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.respondJSON(w, http.StatusOK, map[string]string{"state": health.StateHealthy.String()})
		return
	}
	summary := s.deps.Health.Summary()
	status := http.StatusOK
	if summary.State == health.StateUnavailable {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, summary)
}
