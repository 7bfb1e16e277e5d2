// Package api provides the HTTP API server for the QuantLab service.
package api

import (
	"github.com/quantlab-io/quantlab/internal/datasets"
	"github.com/quantlab-io/quantlab/internal/ingestion"
	"github.com/quantlab-io/quantlab/internal/jobs"
	"github.com/quantlab-io/quantlab/internal/storage"
)

// Sync modes accepted by POST /api/db/sync.
const (
	// SyncModeIncremental resumes from the newest stored trade date. That day
	// is refetched because its stored rows may cover a partial session.
	SyncModeIncremental = "incremental"

	// SyncModeFull refetches the whole window the upstream plan allows.
	SyncModeFull = "full"
)

type (
	// JobAccepted is the 202 response for every job submission endpoint.
	JobAccepted struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}

	// HealthStatus represents the health check response.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime"`
	}

	// SyncRequest is the payload for POST /api/db/sync.
	//
	// Mode defaults to incremental. Codes restricts the sync to specific
	// stocks; empty means every code already present in the market database,
	// or the upstream-provided universe on first sync. From and To bound the
	// fetched window (YYYY-MM-DD) and apply to full syncs only.
	SyncRequest struct {
		Mode  string   `json:"mode,omitempty"`
		Codes []string `json:"codes,omitempty"`
		From  string   `json:"from,omitempty"`
		To    string   `json:"to,omitempty"`
	}

	// DatasetBuildRequest is the payload for POST /api/datasets.
	//
	// Overwrite permits replacing an existing dataset of the same name;
	// without it a name collision is a conflict.
	DatasetBuildRequest struct {
		Name      string   `json:"name"`
		Codes     []string `json:"codes,omitempty"`
		From      string   `json:"from,omitempty"`
		To        string   `json:"to,omitempty"`
		Overwrite bool     `json:"overwrite,omitempty"`
	}

	// TradeRequest is the payload for POST /api/portfolio/trades.
	// ExecutedAt defaults to the current time when omitted.
	TradeRequest struct {
		Code       string  `json:"code"`
		Side       string  `json:"side"`
		Quantity   int64   `json:"quantity"`
		Price      float64 `json:"price"`
		ExecutedAt string  `json:"executedAt,omitempty"`
	}

	// JobListResponse is the response for GET /api/jobs.
	JobListResponse struct {
		Jobs  []jobs.Snapshot `json:"jobs"`
		Count int             `json:"count"`
	}

	// DatasetListResponse is the response for GET /api/datasets.
	DatasetListResponse struct {
		Datasets []datasets.Dataset `json:"datasets"`
		Count    int                `json:"count"`
	}

	// StockListResponse is the response for dataset and market stock listings.
	StockListResponse struct {
		Dataset string   `json:"dataset,omitempty"`
		Stocks  []string `json:"stocks"`
		Count   int      `json:"count"`
	}

	// OHLCVResponse is the response for the OHLCV history endpoints.
	OHLCVResponse struct {
		Code    string            `json:"code"`
		Dataset string            `json:"dataset,omitempty"`
		From    string            `json:"from,omitempty"`
		To      string            `json:"to,omitempty"`
		Count   int               `json:"count"`
		Quotes  []ingestion.Quote `json:"quotes"`
	}

	// TopixResponse is the response for GET /api/market/topix.
	TopixResponse struct {
		From  string               `json:"from,omitempty"`
		To    string               `json:"to,omitempty"`
		Count int                  `json:"count"`
		Bars  []ingestion.TopixBar `json:"bars"`
	}

	// SyncRunListResponse is the response for GET /api/db/sync/runs.
	SyncRunListResponse struct {
		Runs  []storage.SyncRun `json:"runs"`
		Count int               `json:"count"`
	}

	// PositionListResponse is the response for GET /api/portfolio/positions.
	PositionListResponse struct {
		Positions []storage.Position `json:"positions"`
		Count     int                `json:"count"`
	}

	// TradeListResponse is the response for GET /api/portfolio/trades.
	TradeListResponse struct {
		Trades []storage.Trade `json:"trades"`
		Count  int             `json:"count"`
	}
)
