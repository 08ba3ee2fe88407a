// Package metrics exposes the server's sensor values, health score and
// request counters in the Prometheus text exposition format.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/bluesentinel/bluesentinel/pkg/types"
)

const namespace = "bluesentinel_"

// Reject reasons recorded by IncRejected.
const (
	ReasonBadRequest = "bad_request"
	ReasonMissing    = "missing_fields"
	ReasonStore      = "store_error"
)

// Registry accumulates the values rendered at /metrics. The zero value is
// not usable; call New.
type Registry struct {
	mu         sync.Mutex
	sensors    map[string]float64
	hasHealth  bool
	score      float64
	status     string
	ingested   float64
	computed   float64
	computeErr float64
	rejected   map[string]float64
	clients    func() int
}

// New creates an empty Registry. clients, when non-nil, reports the number
// of connected WebSocket clients at scrape time.
func New(clients func() int) *Registry {
	return &Registry{
		sensors:  make(map[string]float64),
		rejected: make(map[string]float64),
		clients:  clients,
	}
}

// ObserveReading records an accepted reading and its sensor values. A sensor
// the reading omits is dropped from the gauge rather than left stale.
func (r *Registry) ObserveReading(rd types.SensorReading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested++
	set := func(name string, v *float64) {
		if v == nil {
			delete(r.sensors, name)
			return
		}
		r.sensors[name] = *v
	}
	set("temperature", rd.Temperature)
	set("ph", rd.PH)
	set("turbidity", rd.Turbidity)
	set("dissolved_oxygen", rd.DissolvedOxygen)
	set("salinity", rd.Salinity)
}

// ObserveHealth records a computed health record.
func (r *Registry) ObserveHealth(rec types.HealthRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.computed++
	r.hasHealth = true
	r.score = float64(rec.Score)
	r.status = rec.Status
}

// IncComputeFailed counts a health computation that returned an error.
func (r *Registry) IncComputeFailed() {
	r.mu.Lock()
	r.computeErr++
	r.mu.Unlock()
}

// IncRejected counts an ingest request that was refused.
func (r *Registry) IncRejected(reason string) {
	r.mu.Lock()
	r.rejected[reason]++
	r.mu.Unlock()
}

// Gather snapshots the registry as metric families sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*dto.MetricFamily

	if len(r.sensors) > 0 {
		mf := family("sensor_value", "Latest reported sensor value.", dto.MetricType_GAUGE)
		for _, name := range sortedKeys(r.sensors) {
			mf.Metric = append(mf.Metric, gauge(r.sensors[name], label("sensor", name)))
		}
		out = append(out, mf)
	}

	if r.hasHealth {
		score := family("health_score", "Most recently computed water health score (0-100).", dto.MetricType_GAUGE)
		score.Metric = []*dto.Metric{gauge(r.score)}

		status := family("health_status", "1 for the current health status, 0 otherwise.", dto.MetricType_GAUGE)
		for _, s := range []string{types.StatusGood, types.StatusModerate, types.StatusPoor} {
			v := 0.0
			if s == r.status {
				v = 1
			}
			status.Metric = append(status.Metric, gauge(v, label("status", s)))
		}
		out = append(out, score, status)
	}

	ingested := family("readings_ingested_total", "Sensor readings accepted.", dto.MetricType_COUNTER)
	ingested.Metric = []*dto.Metric{counter(r.ingested)}

	computed := family("health_computations_total", "Health records computed.", dto.MetricType_COUNTER)
	computed.Metric = []*dto.Metric{counter(r.computed)}

	failed := family("health_computation_failures_total", "Health computations that failed.", dto.MetricType_COUNTER)
	failed.Metric = []*dto.Metric{counter(r.computeErr)}

	out = append(out, ingested, computed, failed)

	if len(r.rejected) > 0 {
		rej := family("readings_rejected_total", "Ingest requests refused, by reason.", dto.MetricType_COUNTER)
		for _, reason := range sortedKeys(r.rejected) {
			rej.Metric = append(rej.Metric, counter(r.rejected[reason], label("reason", reason)))
		}
		out = append(out, rej)
	}

	if r.clients != nil {
		ws := family("websocket_clients", "Connected WebSocket stream clients.", dto.MetricType_GAUGE)
		ws.Metric = []*dto.Metric{gauge(float64(r.clients()))}
		out = append(out, ws)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range r.Gather() {
			if err := enc.Encode(mf); err != nil {
				slog.Error("metrics: encode family", "name", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(namespace + name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: proto.Float64(v)}}
}

func counter(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: proto.Float64(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
