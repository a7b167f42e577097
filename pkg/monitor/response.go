package monitor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Response is the envelope of every read endpoint.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any, meta map[string]any) {
	writeJSON(w, http.StatusOK, Response{Data: data, Meta: meta})
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, Response{Error: &ErrorDetail{Code: code, Message: err.Error()}})
}

// writeResult answers a mutation with {success, message} whether it failed or not.
func writeResult(w http.ResponseWriter, r *http.Request, log *slog.Logger, res Result, err error) {
	if err != nil {
		status, _ := classify(err)
		if status >= http.StatusInternalServerError {
			log.ErrorContext(r.Context(), "admin mutation failed",
				slog.String("path", r.URL.Path),
				logger.Error(err),
			)
		}
		writeJSON(w, status, Result{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// classify maps domain errors to HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrUnknownQueue):
		return http.StatusBadRequest, "unknown_queue"
	case errors.Is(err, ErrInvalidParameter), errors.Is(err, queue.ErrInvalidState):
		return http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, queue.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, ErrAuditUnavailable):
		return http.StatusNotImplemented, "audit_unavailable"
	case errors.Is(err, queue.ErrBrokerUnavailable):
		return http.StatusInternalServerError, "broker_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
