package api

import (
	"github.com/bluesentinel/bluesentinel/pkg/types"
	"github.com/bluesentinel/bluesentinel/server/internal/series"
	"github.com/bluesentinel/bluesentinel/server/internal/store"
)

// IngestResponse is the payload for a successful POST /api/v1/readings.
type IngestResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// HistoryResponse is the payload for GET /api/v1/readings.
type HistoryResponse struct {
	Count   int           `json:"count"`
	Entries []store.Entry `json:"entries"`
}

// SeriesResponse is the payload for GET /api/v1/series.
type SeriesResponse struct {
	Capacity int            `json:"capacity"`
	Points   []series.Point `json:"points"`
}

// Snapshot is the full dashboard state: latest reading, current health
// record and chart series. It is the "data" of a stream snapshot event.
type Snapshot struct {
	Latest      *types.SensorReading `json:"latest"`
	Health      *types.HealthRecord  `json:"health"`
	Series      []series.Point       `json:"series"`
	GeneratedAt string               `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
