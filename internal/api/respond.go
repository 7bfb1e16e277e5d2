// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
)

// writeJSON marshals payload and writes it with the given status. Marshal
// failures become a 500 envelope; write failures are logged only, because the
// status line is already on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
}

// decodeJSON reads the request body into dst, bounded by the configured max
// request size. An empty body leaves dst untouched so endpoints with
// all-optional fields accept bare POSTs. Returns false after writing the
// error response when decoding fails.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !hasJSONContentType(contentType) {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("Content-Type must be application/json"))

		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger,
				BadRequest("Request body exceeds the size limit"))

			return false
		}

		WriteErrorResponse(w, r, s.logger,
			BadRequest("Invalid JSON payload: "+err.Error()))

		return false
	}

	return true
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
