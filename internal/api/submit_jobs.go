// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quantlab-io/quantlab/internal/api/middleware"
	"github.com/quantlab-io/quantlab/internal/codes"
	"github.com/quantlab-io/quantlab/internal/datasets"
	"github.com/quantlab-io/quantlab/internal/engine"
	"github.com/quantlab-io/quantlab/internal/jobs"
)

// submitJob registers a pending job of the given kind, hands its body to the
// executor, and answers 202 with the job ID. The submitting request's
// correlation ID is stamped on the job so stream frames and logs line up
// with the original submission.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, kind jobs.Kind, body jobs.Body) {
	snap := s.deps.Registry.Create(kind, middleware.GetCorrelationID(r.Context()))

	if err := s.deps.Executor.Submit(snap.ID, body); err != nil {
		s.logger.Error("Failed to schedule job",
			slog.String("job_id", snap.ID),
			slog.String("kind", kind.String()),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to schedule the job"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, JobAccepted{
		JobID:  snap.ID,
		Status: jobs.StatusPending.String(),
	})
}

// resolveQuoteSource picks the engine's read surface for a run: the live
// market database when no dataset is named, otherwise the named snapshot.
func (s *Server) resolveQuoteSource(dataset string) (engine.QuoteSource, *ErrorResponse) {
	if dataset == "" {
		return s.deps.Market, nil
	}

	store, err := s.deps.Datasets.Store(dataset)
	if err != nil {
		return nil, datasetErrorResponse(dataset, err)
	}

	return store, nil
}

// datasetErrorResponse maps dataset router failures onto the error taxonomy.
func datasetErrorResponse(name string, err error) *ErrorResponse {
	switch {
	case errors.Is(err, datasets.ErrInvalidName), errors.Is(err, datasets.ErrPathTraversal):
		return BadRequest("Invalid dataset name: " + name).
			WithDetails(FieldError{Field: "dataset", Message: err.Error()})
	case errors.Is(err, datasets.ErrNotFound):
		return NotFound("Dataset not found: " + name)
	case errors.Is(err, datasets.ErrExists):
		return Conflict("Dataset already exists: " + name)
	default:
		return InternalServerError("Failed to open dataset: " + name)
	}
}

// engineParamError maps engine parameter rejections to 400 envelopes with
// the offending field named.
func engineParamError(err error) *ErrorResponse {
	resp := BadRequest("Invalid job parameters")

	switch {
	case errors.Is(err, engine.ErrUnknownStrategy):
		return resp.WithDetails(FieldError{Field: "strategy", Message: err.Error()})
	case errors.Is(err, engine.ErrInvalidWindows):
		return resp.WithDetails(FieldError{Field: "windows", Message: err.Error()})
	case errors.Is(err, engine.ErrInvalidFilter):
		return resp.WithDetails(FieldError{Field: "filters", Message: err.Error()})
	default:
		return resp.WithDetails(FieldError{Field: "params", Message: err.Error()})
	}
}

// canonicalCode validates one stock code, returning a 400 envelope naming
// the field when it is malformed.
func canonicalCode(field, code string) (string, *ErrorResponse) {
	canonical, err := codes.Canonicalize(code)
	if err != nil {
		return "", BadRequest("Invalid stock code").
			WithDetails(FieldError{Field: field, Message: err.Error()})
	}

	return canonical, nil
}

// canonicalCodeList validates an optional list of stock codes.
func canonicalCodeList(field string, list []string) ([]string, *ErrorResponse) {
	if len(list) == 0 {
		return nil, nil
	}

	out := make([]string, len(list))

	for i, code := range list {
		canonical, err := codes.Canonicalize(code)
		if err != nil {
			return nil, BadRequest("Invalid stock code").
				WithDetails(FieldError{Field: field, Message: err.Error()})
		}

		out[i] = canonical
	}

	return out, nil
}

// stageProgress adapts the engine's (done, total) callbacks onto registry
// progress records for one named stage. Percent is a fraction in [0, 1].
func stageProgress(stage string, report func(jobs.Progress)) func(done, total int) {
	return func(done, total int) {
		p := jobs.Progress{Stage: stage, Step: done, Total: total}

		if total > 0 {
			p.Percent = float64(done) / float64(total)
		}

		report(p)
	}
}

// handleSubmitBacktest accepts a strategy simulation over one stock.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload, bad stock code, or bad parameters
//   - 404 Not Found: the named dataset does not exist
func (s *Server) handleSubmitBacktest(w http.ResponseWriter, r *http.Request) {
	var p engine.BacktestParams
	if !s.decodeJSON(w, r, &p) {
		return
	}

	code, errResp := canonicalCode("code", p.Code)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	p.Code = code

	if err := p.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, engineParamError(err))

		return
	}

	source, errResp := s.resolveQuoteSource(p.Dataset)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	s.submitJob(w, r, jobs.KindBacktest, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return s.deps.Engine.Backtest(ctx, source, p, stageProgress("simulating", report))
	})
}

// handleSubmitOptimize accepts a moving-average window grid search.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload, bad stock code, or bad windows
//   - 404 Not Found: the named dataset does not exist
func (s *Server) handleSubmitOptimize(w http.ResponseWriter, r *http.Request) {
	var p engine.OptimizeParams
	if !s.decodeJSON(w, r, &p) {
		return
	}

	code, errResp := canonicalCode("code", p.Code)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	p.Code = code

	if err := p.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, engineParamError(err))

		return
	}

	source, errResp := s.resolveQuoteSource(p.Dataset)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	s.submitJob(w, r, jobs.KindOptimization, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return s.deps.Engine.Optimize(ctx, source, p, stageProgress("optimizing", report))
	})
}

// handleSubmitScreening accepts a filter pass over the stock universe.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload, bad stock codes, or bad filters
//   - 404 Not Found: the named dataset does not exist
func (s *Server) handleSubmitScreening(w http.ResponseWriter, r *http.Request) {
	var p engine.ScreenParams
	if !s.decodeJSON(w, r, &p) {
		return
	}

	list, errResp := canonicalCodeList("codes", p.Codes)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	p.Codes = list

	if err := p.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, engineParamError(err))

		return
	}

	source, errResp := s.resolveQuoteSource(p.Dataset)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	s.submitJob(w, r, jobs.KindScreening, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return s.deps.Engine.Screen(ctx, source, p, stageProgress("screening", report))
	})
}

// handleSubmitLab accepts a return-statistics experiment for one stock.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload or bad stock code
//   - 404 Not Found: the named dataset does not exist
func (s *Server) handleSubmitLab(w http.ResponseWriter, r *http.Request) {
	var p engine.LabParams
	if !s.decodeJSON(w, r, &p) {
		return
	}

	code, errResp := canonicalCode("code", p.Code)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	p.Code = code

	source, errResp := s.resolveQuoteSource(p.Dataset)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	s.submitJob(w, r, jobs.KindLab, func(ctx context.Context, _ func(jobs.Progress)) (any, error) {
		return s.deps.Engine.Analyze(ctx, source, p)
	})
}

// handleSubmitSync accepts a market-data sync against the upstream API.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload, unknown mode, or bad stock codes
func (s *Server) handleSubmitSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	switch req.Mode {
	case "":
		req.Mode = SyncModeIncremental
	case SyncModeIncremental, SyncModeFull:
	default:
		WriteErrorResponse(w, r, s.logger, BadRequest("Unknown sync mode: "+req.Mode).
			WithDetails(FieldError{Field: "mode", Message: "must be incremental or full"}))

		return
	}

	if errResp := validateDateRange(req.From, req.To); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	list, errResp := canonicalCodeList("codes", req.Codes)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	req.Codes = list

	s.submitJob(w, r, jobs.KindSync, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return s.runSync(ctx, req, report)
	})
}

// handleSubmitDatasetBuild accepts a dataset snapshot build from the live
// market database.
//
// Response codes:
//   - 202 Accepted: job created, body carries the job ID
//   - 400 Bad Request: malformed payload, bad name, or bad stock codes
//   - 409 Conflict: dataset exists and overwrite was not requested
func (s *Server) handleSubmitDatasetBuild(w http.ResponseWriter, r *http.Request) {
	var req DatasetBuildRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if _, err := datasets.Normalize(req.Name); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid dataset name").
			WithDetails(FieldError{Field: "name", Message: err.Error()}))

		return
	}

	if errResp := validateDateRange(req.From, req.To); errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	// The builder re-checks under the final rename, but rejecting the
	// obvious collision here spares the client a failed job.
	if !req.Overwrite {
		if _, err := s.deps.Datasets.Resolve(req.Name); err == nil {
			WriteErrorResponse(w, r, s.logger, Conflict("Dataset already exists: "+req.Name))

			return
		}
	}

	list, errResp := canonicalCodeList("codes", req.Codes)
	if errResp != nil {
		WriteErrorResponse(w, r, s.logger, errResp)

		return
	}

	spec := datasets.BuildSpec{
		Name:      req.Name,
		Codes:     list,
		From:      req.From,
		To:        req.To,
		Overwrite: req.Overwrite,
	}

	s.submitJob(w, r, jobs.KindDatasetBuild, func(ctx context.Context, report func(jobs.Progress)) (any, error) {
		return datasets.Build(ctx, s.deps.Datasets, s.deps.Market, spec,
			s.logger, stageProgress("storing", report))
	})
}
