// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/jobs"
)

// handleListJobs returns a snapshot of every job the registry still holds,
// newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Registry.List()

	s.writeJSON(w, r, http.StatusOK, JobListResponse{
		Jobs:  list,
		Count: len(list),
	})
}

// handleGetJob returns the current snapshot of one job.
//
// Response codes:
//   - 200 OK: snapshot in the body
//   - 404 Not Found: unknown or already cleaned-up job ID
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.deps.Registry.Get(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Job not found: "+id))

			return
		}

		s.logger.Error("Failed to load job",
			slog.String("job_id", id),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load job"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, snap)
}

// handleCancelJob requests cancellation of one job and returns the snapshot
// taken right after the request. Cancelling a job that already reached a
// terminal status is a no-op that returns the terminal snapshot.
//
// Response codes:
//   - 200 OK: cancellation requested, snapshot in the body
//   - 404 Not Found: unknown or already cleaned-up job ID
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	snap, err := s.deps.Registry.Cancel(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Job not found: "+id))

			return
		}

		s.logger.Error("Failed to cancel job",
			slog.String("job_id", id),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to cancel job"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, snap)
}
