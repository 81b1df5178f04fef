package models

import "time"

// DataResponse is the response for GET /api/v1/data and POST /api/v1/refresh.
type DataResponse struct {
	// Success indicates whether a snapshot is available.
	Success bool `json:"success"`

	// Data is the latest snapshot. A stale snapshot (the latest cycle failed)
	// has the same shape as a fresh one; compare AgeMs to tell them apart.
	Data *Snapshot `json:"data,omitempty"`

	// AgeMs is the snapshot age at response time in milliseconds.
	AgeMs int64 `json:"age_ms"`

	// Timing is only populated for refresh requests.
	Timing *TimingInfo `json:"timing,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent serving a refresh.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"` // "healthy", "degraded" or "starting"
	Uptime  string `json:"uptime"`
	Session string `json:"session"`

	// LastUpdate is the timestamp of the latest snapshot, if any.
	LastUpdate *time.Time `json:"last_update,omitempty"`
	Version    string     `json:"version"`
}
