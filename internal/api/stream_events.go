// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/jobs"
)

// heartbeatInterval is the idle spacing of keep-alive frames on an event
// stream. Proxies with shorter idle timeouts need it raised there, not here.
const heartbeatInterval = 30 * time.Second

// handleJobEvents streams job lifecycle frames over server-sent events.
//
// Frame protocol:
//   - every status or progress change arrives as `event: <status>` with the
//     job event JSON in data
//   - an unknown job ID yields exactly one `event: error` frame, then the
//     stream closes
//   - a job already terminal at subscription yields exactly one snapshot
//     frame, then the stream closes
//   - `event: heartbeat` frames with an empty object keep idle connections
//     alive
//
// The stream ends when the job reaches a terminal status, the client
// disconnects, or the server shuts down.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	correlationID := middleware.GetCorrelationID(r.Context())

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Nginx buffers responses by default, which would hold frames back.
	w.Header().Set("X-Accel-Buffering", "no")

	events, err := s.deps.Registry.Subscribe(id)
	if err != nil {
		if !errors.Is(err, jobs.ErrJobNotFound) {
			s.logger.Error("Failed to subscribe to job events",
				slog.String("job_id", id),
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
		}

		w.WriteHeader(http.StatusOK)
		s.writeSSEFrame(w, rc, "error", map[string]string{
			"id":      id,
			"message": "job not found",
		})

		return
	}

	defer s.deps.Registry.Unsubscribe(id, events)

	if s.deps.Metrics != nil {
		s.deps.Metrics.SSEStreamOpened()
		defer s.deps.Metrics.SSEStreamClosed()
	}

	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		s.logger.Warn("Event stream does not support flushing",
			slog.String("job_id", id),
			slog.String("correlation_id", correlationID),
		)

		return
	}

	s.logger.Debug("Event stream opened",
		slog.String("job_id", id),
		slog.String("correlation_id", correlationID),
	)

	heartbeat := time.NewTimer(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Channel closed after the terminal frame; the stream is done.
				return
			}

			if !s.writeSSEFrame(w, rc, ev.Status.String(), ev) {
				return
			}

			resetTimer(heartbeat, heartbeatInterval)

		case <-heartbeat.C:
			if !s.writeSSEFrame(w, rc, "heartbeat", struct{}{}) {
				return
			}

			heartbeat.Reset(heartbeatInterval)

		case <-r.Context().Done():
			s.logger.Debug("Event stream client disconnected",
				slog.String("job_id", id),
				slog.String("correlation_id", correlationID),
			)

			return
		}
	}
}

// writeSSEFrame writes one named frame and flushes it. Returns false when the
// connection is gone and the stream loop should stop.
func (s *Server) writeSSEFrame(w http.ResponseWriter, rc *http.ResponseController, event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode event frame",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)

		return false
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}

	return rc.Flush() == nil
}

// resetTimer drains and rearms a timer so a stale tick cannot fire between
// an event write and the next select.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	t.Reset(d)
}
