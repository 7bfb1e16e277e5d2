// Package middleware provides HTTP middleware components for the QuantLab API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// errorBody mirrors the api package's error envelope. It is duplicated here
// because the api package imports middleware; importing it back would cycle.
type errorBody struct {
	Status        string `json:"status"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	Details       any    `json:"details"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlationId"`
}

// writeError emits the standard error envelope from inside a middleware.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, message string) {
	correlationID := GetCorrelationID(r.Context())

	body := errorBody{
		Status:        "error",
		Error:         http.StatusText(status),
		Message:       message,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		CorrelationID: correlationID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode error response",
			slog.Any("error", err),
			slog.String("correlation_id", correlationID),
		)
	}
}
