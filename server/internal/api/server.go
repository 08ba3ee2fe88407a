package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesentinel/bluesentinel/pkg/types"
	"github.com/bluesentinel/bluesentinel/server/internal/alerts"
	"github.com/bluesentinel/bluesentinel/server/internal/config"
	"github.com/bluesentinel/bluesentinel/server/internal/health"
	"github.com/bluesentinel/bluesentinel/server/internal/metrics"
	"github.com/bluesentinel/bluesentinel/server/internal/series"
	"github.com/bluesentinel/bluesentinel/server/internal/store"
	"github.com/bluesentinel/bluesentinel/server/internal/ws"
)

// ErrNoData is returned by ComputeHealth when no reading has been stored yet.
var ErrNoData = errors.New("api: no sensor data available")

// Options wires a Server to its collaborators. Store and Series are
// required; the rest may be nil.
type Options struct {
	Store   store.Store
	Series  *series.Buffer
	Hub     *ws.Hub
	Alerts  *alerts.Engine
	Metrics *metrics.Registry

	// Auth guards the ingest endpoint.
	Auth config.AuthConfig

	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string

	// ComputeOnIngest refreshes the current health record after each
	// accepted reading.
	ComputeOnIngest bool
}

// Server owns the ingest and health flows behind the HTTP API.
type Server struct {
	opts Options

	// healthMu serialises read-latest, compute, write-current so two
	// concurrent computations cannot store records out of order.
	healthMu sync.Mutex

	now func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{opts: opts, now: time.Now}
}

// Ingest stores r as the latest reading, appends it to history and fans it
// out to the chart series, stream, metrics and alert rules. When
// ComputeOnIngest is set the health record is refreshed as well.
func (s *Server) Ingest(ctx context.Context, r types.SensorReading) (store.Entry, error) {
	e, err := s.opts.Store.PutReading(ctx, r)
	if err != nil {
		return store.Entry{}, fmt.Errorf("api: store reading: %w", err)
	}

	s.opts.Series.Push(series.FromReading(r))
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveReading(r)
	}
	if s.opts.Hub != nil {
		s.opts.Hub.Publish(ws.EventReading, e.Reading)
	}

	subjects := []alerts.Subject{{Reading: &e.Reading}}
	if s.opts.ComputeOnIngest {
		scored, rec, err := s.ComputeHealth(ctx)
		switch {
		case err != nil:
			// The reading itself is stored; a failed refresh only leaves
			// the previous record in place.
			slog.Warn("api: health refresh after ingest failed", "err", err)
		case sameReading(scored, e.Reading):
			subjects[0].Health = &rec
		default:
			// A concurrent ingest replaced the latest slot first. The record
			// belongs to that reading, not to e.Reading.
			subjects = append(subjects, alerts.Subject{Reading: &scored, Health: &rec})
		}
	}
	if s.opts.Alerts != nil {
		for _, subj := range subjects {
			s.opts.Alerts.Evaluate(subj)
		}
	}

	slog.Debug("api: reading ingested", "id", e.ID, "device", r.DeviceID, "timestamp", r.Timestamp)
	return e, nil
}

// ComputeHealth reads the latest reading, scores it and stores the result
// as the current health record. It returns the reading that was scored with
// the record. Errors: ErrNoData when nothing has been ingested,
// *health.IncompleteReadingError when the latest reading cannot be scored,
// and a wrapped *store.UnavailableError on storage failure.
func (s *Server) ComputeHealth(ctx context.Context) (types.SensorReading, types.HealthRecord, error) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	latest, ok, err := s.opts.Store.Latest(ctx)
	if err != nil {
		return types.SensorReading{}, types.HealthRecord{}, fmt.Errorf("api: load latest reading: %w", err)
	}
	if !ok {
		return types.SensorReading{}, types.HealthRecord{}, ErrNoData
	}

	rec, err := health.Compute(latest, s.now())
	if err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.IncComputeFailed()
		}
		return types.SensorReading{}, types.HealthRecord{}, err
	}

	if err := s.opts.Store.SetCurrentHealth(ctx, rec); err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.IncComputeFailed()
		}
		return types.SensorReading{}, types.HealthRecord{}, fmt.Errorf("api: store health record: %w", err)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveHealth(rec)
	}
	if s.opts.Hub != nil {
		s.opts.Hub.Publish(ws.EventHealth, rec)
	}
	slog.Debug("api: health computed", "score", rec.Score, "status", rec.Status, "device", latest.DeviceID)
	return latest, rec, nil
}

// sameReading reports whether a and b are the same ingested reading.
func sameReading(a, b types.SensorReading) bool {
	return a.Timestamp == b.Timestamp && a.DeviceID == b.DeviceID &&
		sameValue(a.Temperature, b.Temperature) && sameValue(a.PH, b.PH) &&
		sameValue(a.Turbidity, b.Turbidity) && sameValue(a.DissolvedOxygen, b.DissolvedOxygen) &&
		sameValue(a.Salinity, b.Salinity)
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// BuildSnapshot assembles the dashboard state pushed to stream clients.
func BuildSnapshot(ctx context.Context, st store.Store, buf *series.Buffer) (Snapshot, error) {
	snap := Snapshot{
		Series:      buf.Points(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	latest, ok, err := st.Latest(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("api: snapshot latest: %w", err)
	}
	if ok {
		snap.Latest = &latest
	}
	rec, ok, err := st.CurrentHealth(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("api: snapshot health: %w", err)
	}
	if ok {
		snap.Health = &rec
	}
	return snap, nil
}
