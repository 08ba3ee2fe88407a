package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bluesentinel/bluesentinel/server/internal/alerts"
	"github.com/bluesentinel/bluesentinel/server/internal/health"
	"github.com/bluesentinel/bluesentinel/server/internal/metrics"
	"github.com/bluesentinel/bluesentinel/pkg/reading"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Response messages shared with existing dashboard and firmware clients.
const (
	msgIngested       = "Sensor data processed successfully"
	msgMissing        = "Missing required sensor data"
	msgNoData         = "No sensor data available"
	msgNoHealth       = "No health record available"
	msgInsufficient   = "Insufficient sensor data"
	msgInternal       = "Internal server error"
	msgInvalidPayload = "Invalid sensor data"
	msgTooLarge       = "Request body too large"
)

// ingest handles POST /api/v1/readings.
func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	rd, err := reading.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), s.now())
	if err != nil {
		s.reject(metrics.ReasonBadRequest)
		var (
			fe      *reading.FieldError
			tooLong *http.MaxBytesError
		)
		if errors.As(err, &tooLong) {
			jsonErr(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		if errors.As(err, &fe) {
			jsonErr(w, http.StatusBadRequest, msgInvalidPayload+": "+fe.Field)
			return
		}
		slog.Debug("api: undecodable ingest body", "err", err)
		jsonErr(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}
	if rd.Temperature == nil || rd.PH == nil {
		s.reject(metrics.ReasonMissing)
		jsonErr(w, http.StatusBadRequest, msgMissing)
		return
	}

	e, err := s.Ingest(r.Context(), rd)
	if err != nil {
		s.reject(metrics.ReasonStore)
		slog.Error("api: ingest failed", "err", err)
		jsonErr(w, http.StatusInternalServerError, msgInternal)
		return
	}
	jsonResp(w, http.StatusOK, IngestResponse{
		Success:   true,
		Message:   msgIngested,
		ID:        e.ID,
		Timestamp: e.Reading.Timestamp,
	})
}

// history handles GET /api/v1/readings.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.opts.Store.History(r.Context(), limit)
	if err != nil {
		slog.Error("api: load history", "err", err)
		jsonErr(w, http.StatusInternalServerError, msgInternal)
		return
	}
	jsonResp(w, http.StatusOK, HistoryResponse{Count: len(entries), Entries: entries})
}

// latest handles GET /api/v1/readings/latest.
func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	rd, ok, err := s.opts.Store.Latest(r.Context())
	if err != nil {
		slog.Error("api: load latest reading", "err", err)
		jsonErr(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, msgNoData)
		return
	}
	jsonResp(w, http.StatusOK, rd)
}

// health handles GET /api/v1/health: score the latest reading, store the
// record and return it.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	rd, rec, err := s.ComputeHealth(r.Context())
	var incomplete *health.IncompleteReadingError
	switch {
	case err == nil:
		if s.opts.Alerts != nil {
			s.opts.Alerts.Evaluate(alerts.Subject{Reading: &rd, Health: &rec})
		}
		jsonResp(w, http.StatusOK, rec)
	case errors.Is(err, ErrNoData):
		jsonErr(w, http.StatusNotFound, msgNoData)
	case errors.As(err, &incomplete):
		slog.Warn("api: latest reading cannot be scored", "missing", incomplete.Missing)
		jsonErr(w, http.StatusUnprocessableEntity, msgInsufficient)
	default:
		slog.Error("api: compute health", "err", err)
		jsonErr(w, http.StatusInternalServerError, msgInternal)
	}
}

// currentHealth handles GET /api/v1/health/current.
func (s *Server) currentHealth(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := s.opts.Store.CurrentHealth(r.Context())
	if err != nil {
		slog.Error("api: load current health", "err", err)
		jsonErr(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if !ok {
		jsonErr(w, http.StatusNotFound, msgNoHealth)
		return
	}
	jsonResp(w, http.StatusOK, rec)
}

// series handles GET /api/v1/series.
func (s *Server) series(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, SeriesResponse{
		Capacity: s.opts.Series.Capacity(),
		Points:   s.opts.Series.Points(),
	})
}

// alerts handles GET /api/v1/alerts.
func (s *Server) alerts(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Alerts == nil {
		jsonResp(w, http.StatusOK, []alerts.Alert{})
		return
	}
	jsonResp(w, http.StatusOK, s.opts.Alerts.Active())
}

func (s *Server) reject(reason string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncRejected(reason)
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
