package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/labviz/molcache/pkg/errors"
)

type errorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, errorResponse{Error: message, Timestamp: time.Now()})
}

// respondErr maps a component error to its HTTP status.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Timestamp: time.Now()}
	if ce, ok := errors.As(err); ok {
		resp.Code = string(ce.Code)
	}
	s.respondJSON(w, errors.HTTPStatus(err), resp)
}
