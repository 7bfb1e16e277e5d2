// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
)

// FieldError pinpoints one invalid field in a request payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the uniform error envelope returned by every endpoint.
//
// Details is null unless the error is a validation failure with per-field
// causes. Error carries the standard HTTP status text; Message the specific
// cause. The correlation ID matches the X-Correlation-ID response header.
type ErrorResponse struct {
	Status        string       `json:"status"`
	Error         string       `json:"error"`
	Message       string       `json:"message"`
	Details       []FieldError `json:"details"`
	Timestamp     string       `json:"timestamp"`
	CorrelationID string       `json:"correlationId"`

	// code is the HTTP status the envelope was built for. Not serialized;
	// the wire form carries the status text instead.
	code int
}

// NewErrorResponse creates an error envelope for the given HTTP status.
func NewErrorResponse(status int, message string) *ErrorResponse {
	return &ErrorResponse{
		Status:    "error",
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		code:      status,
	}
}

// WithDetails attaches per-field validation causes to the envelope.
func (e *ErrorResponse) WithDetails(details ...FieldError) *ErrorResponse {
	e.Details = append(e.Details, details...)

	return e
}

// WriteErrorResponse writes the error envelope with the status it was built
// for, stamping in the request's correlation ID.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, errResp *ErrorResponse) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if errResp.CorrelationID == "" {
		errResp.CorrelationID = correlationID
	}

	status := errResp.code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", status),
		)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error envelope.
func InternalServerError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusInternalServerError, message)
}

// BadRequest creates a 400 Bad Request envelope.
func BadRequest(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

// NotFound creates a 404 Not Found envelope.
func NotFound(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

// Conflict creates a 409 Conflict envelope.
func Conflict(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusConflict, message)
}

// BadGateway creates a 502 Bad Gateway envelope for upstream failures.
func BadGateway(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadGateway, message)
}

// MethodNotAllowed creates a 405 Method Not Allowed envelope.
func MethodNotAllowed(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusMethodNotAllowed, message)
}
