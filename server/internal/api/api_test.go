package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bluesentinel/bluesentinel/pkg/types"
	"github.com/bluesentinel/bluesentinel/server/internal/alerts"
	"github.com/bluesentinel/bluesentinel/server/internal/api"
	"github.com/bluesentinel/bluesentinel/server/internal/config"
	"github.com/bluesentinel/bluesentinel/server/internal/metrics"
	"github.com/bluesentinel/bluesentinel/server/internal/series"
	"github.com/bluesentinel/bluesentinel/server/internal/store"
	"github.com/bluesentinel/bluesentinel/server/internal/ws"
)

// --- test helpers -----------------------------------------------------------

type fixture struct {
	store   *store.Memory
	series  *series.Buffer
	alerts  *alerts.Engine
	metrics *metrics.Registry
	server  *api.Server
	handler http.Handler
}

func newFixture(t *testing.T, mutate func(*api.Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemory(0),
		series:  series.New(5),
		alerts:  alerts.New([]config.AlertRule{{Name: "too-warm", Condition: "temperature > 30"}}),
		metrics: metrics.New(nil),
	}
	opts := api.Options{
		Store:           f.store,
		Series:          f.series,
		Alerts:          f.alerts,
		Metrics:         f.metrics,
		ComputeOnIngest: true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.server = api.New(opts)
	f.handler = f.server.Routes()
	t.Cleanup(f.alerts.Wait)
	return f
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
	var body struct{ Error string }
	decode(t, rr, &body)
	if body.Error != msg {
		t.Errorf("error: got %q, want %q", body.Error, msg)
	}
}

// --- ingest -------------------------------------------------------------------

func TestIngest_Success(t *testing.T) {
	f := newFixture(t, nil)

	rr := post(t, f.handler, "/api/v1/readings",
		`{"temperature": "24.5", "pH": 7.2, "turbidity": 3, "deviceId": "ESP32-001", "timestamp": 1700000000000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	if !resp.Success || resp.Message != "Sensor data processed successfully" {
		t.Errorf("response: %+v", resp)
	}
	if resp.Timestamp != 1700000000000 || resp.ID == "" {
		t.Errorf("timestamp/id: %+v", resp)
	}

	latest, ok, _ := f.store.Latest(context.Background())
	if !ok || *latest.PH != 7.2 || latest.DeviceID != "ESP32-001" {
		t.Errorf("latest reading: %+v", latest)
	}
	if f.series.Len() != 1 {
		t.Errorf("series length: got %d, want 1", f.series.Len())
	}
	rec, ok, _ := f.store.CurrentHealth(context.Background())
	if !ok || rec.Score != 100 {
		t.Errorf("health computed on ingest: ok=%v rec=%+v", ok, rec)
	}
}

func TestIngest_AssignsTimestamp(t *testing.T) {
	f := newFixture(t, nil)
	before := time.Now().UnixMilli()
	rr := post(t, f.handler, "/api/v1/readings", `{"temperature": 25, "ph": 7}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp api.IngestResponse
	decode(t, rr, &resp)
	if resp.Timestamp < before {
		t.Errorf("timestamp %d not assigned from server clock (>= %d)", resp.Timestamp, before)
	}
}

func TestIngest_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"missing ph", `{"temperature": 25}`, "Missing required sensor data"},
		{"missing temperature", `{"ph": 7}`, "Missing required sensor data"},
		{"empty string ph", `{"temperature": 25, "ph": ""}`, "Missing required sensor data"},
		{"bad json", `{"temperature": `, "Invalid sensor data"},
		{"not an object", `[1,2,3]`, "Invalid sensor data"},
		{"non-numeric field", `{"temperature": "warm", "ph": 7}`, "Invalid sensor data: temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			wantError(t, post(t, f.handler, "/api/v1/readings", tt.body), http.StatusBadRequest, tt.msg)
			if _, ok, _ := f.store.Latest(context.Background()); ok {
				t.Error("rejected reading must not be stored")
			}
		})
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"temperature": 25, "ph": 7, "deviceId": "` + strings.Repeat("x", 70<<10) + `"}`
	wantError(t, post(t, f.handler, "/api/v1/readings", body), http.StatusRequestEntityTooLarge, "Request body too large")
	if _, ok, _ := f.store.Latest(context.Background()); ok {
		t.Error("oversized reading must not be stored")
	}
}

func TestIngest_TimestampOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	wantError(t, post(t, f.handler, "/api/v1/readings", `{"temperature": 25, "ph": 7, "timestamp": 1e20}`),
		http.StatusBadRequest, "Invalid sensor data: timestamp")
}

func TestIngest_APIKey(t *testing.T) {
	t.Setenv("TEST_INGEST_KEY", "s3cret")
	f := newFixture(t, func(o *api.Options) {
		o.Auth = config.AuthConfig{Mode: "apikey", KeyEnv: "TEST_INGEST_KEY"}
	})
	body := `{"temperature": 25, "ph": 7}`

	if rr := post(t, f.handler, "/api/v1/readings", body); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rr.Code)
	}
	if rr := post(t, f.handler, "/api/v1/readings", body, "x-api-key", "s3cret"); rr.Code != http.StatusOK {
		t.Errorf("with key: got %d, want 200", rr.Code)
	}
	// Reads stay open.
	if rr := get(t, f.handler, "/api/v1/readings/latest"); rr.Code != http.StatusOK {
		t.Errorf("latest: got %d, want 200", rr.Code)
	}
}

func TestIngest_FiresAlert(t *testing.T) {
	f := newFixture(t, nil)
	post(t, f.handler, "/api/v1/readings", `{"temperature": 34, "ph": 7.5}`)

	rr := get(t, f.handler, "/api/v1/alerts")
	var list []alerts.Alert
	decode(t, rr, &list)
	if len(list) != 1 || list[0].RuleName != "too-warm" || list[0].State != alerts.StateFiring {
		t.Errorf("alerts: %+v", list)
	}
}

// --- health -------------------------------------------------------------------

func TestHealth_NoData(t *testing.T) {
	f := newFixture(t, nil)
	wantError(t, get(t, f.handler, "/api/v1/health"), http.StatusNotFound, "No sensor data available")
	wantError(t, get(t, f.handler, "/api/v1/health/current"), http.StatusNotFound, "No health record available")
	wantError(t, get(t, f.handler, "/api/v1/readings/latest"), http.StatusNotFound, "No sensor data available")
}

func TestHealth_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		score  int
		status string
		recs   []string
	}{
		{"A all good", `{"temperature":25,"ph":7.5,"turbidity":2,"dissolvedOxygen":7}`, 100, "Good", []string{}},
		{"B warm", `{"temperature":35,"ph":7.5,"turbidity":2,"dissolvedOxygen":7}`, 80, "Good",
			[]string{"Investigate thermal pollution sources"}},
		{"C acidic", `{"temperature":25,"ph":5.0,"turbidity":2,"dissolvedOxygen":7}`, 75, "Good",
			[]string{"Check for chemical contamination"}},
		{"D everything wrong", `{"temperature":40,"ph":4.0,"turbidity":20,"dissolvedOxygen":2}`, 0, "Poor",
			[]string{
				"Investigate thermal pollution sources",
				"Check for chemical contamination",
				"Monitor sediment runoff and algal blooms",
				"Investigate organic pollution and eutrophication",
				"Immediate action required - alert environmental authorities",
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(o *api.Options) { o.ComputeOnIngest = false })
			if rr := post(t, f.handler, "/api/v1/readings", tt.body); rr.Code != http.StatusOK {
				t.Fatalf("ingest: %d", rr.Code)
			}
			if _, ok, _ := f.store.CurrentHealth(context.Background()); ok {
				t.Fatal("health must not be computed on ingest when disabled")
			}

			rr := get(t, f.handler, "/api/v1/health")
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d (body: %s)", rr.Code, rr.Body.String())
			}
			var rec types.HealthRecord
			decode(t, rr, &rec)
			if rec.Score != tt.score || rec.Status != tt.status {
				t.Errorf("score/status: got %d %s, want %d %s", rec.Score, rec.Status, tt.score, tt.status)
			}
			if len(rec.Factors) != 4 {
				t.Errorf("factors: got %d, want 4", len(rec.Factors))
			}
			if rec.Recommendations == nil || len(rec.Recommendations) != len(tt.recs) {
				t.Fatalf("recommendations: got %v, want %v", rec.Recommendations, tt.recs)
			}
			for i := range tt.recs {
				if rec.Recommendations[i] != tt.recs[i] {
					t.Errorf("recommendation %d: got %q, want %q", i, rec.Recommendations[i], tt.recs[i])
				}
			}

			// The computed record is persisted to the current slot.
			cur := get(t, f.handler, "/api/v1/health/current")
			var stored types.HealthRecord
			decode(t, cur, &stored)
			if stored.Score != tt.score {
				t.Errorf("stored score: got %d, want %d", stored.Score, tt.score)
			}
		})
	}
}

func TestHealth_EmptyRecommendationsEncodeAsArray(t *testing.T) {
	f := newFixture(t, nil)
	post(t, f.handler, "/api/v1/readings", `{"temperature":25,"ph":7.5}`)
	rr := get(t, f.handler, "/api/v1/health")
	if !strings.Contains(rr.Body.String(), `"recommendations":[]`) {
		t.Errorf("body: %s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"value":null`) {
		t.Errorf("omitted optional factors should carry null values: %s", rr.Body.String())
	}
}

func TestHealth_IncompleteLatest(t *testing.T) {
	f := newFixture(t, nil)
	// Bypass the ingest check to leave an unscorable latest reading.
	f.store.PutReading(context.Background(), types.SensorReading{Temperature: types.Float(25), Timestamp: 1}) //nolint:errcheck

	wantError(t, get(t, f.handler, "/api/v1/health"), http.StatusUnprocessableEntity, "Insufficient sensor data")
	if _, ok, _ := f.store.CurrentHealth(context.Background()); ok {
		t.Error("no record may be stored for an incomplete reading")
	}
}

// failingStore fails every write of the current health record.
type failingStore struct {
	*store.Memory
}

func (failingStore) SetCurrentHealth(context.Context, types.HealthRecord) error {
	return &store.UnavailableError{Op: "set current health", Err: errors.New("connection refused")}
}

func TestHealth_StoreFailure(t *testing.T) {
	mem := store.NewMemory(0)
	mem.PutReading(context.Background(), types.SensorReading{ //nolint:errcheck
		Temperature: types.Float(25), PH: types.Float(7), Timestamp: 1,
	})
	f := newFixture(t, func(o *api.Options) { o.Store = failingStore{mem} })

	rr := get(t, f.handler, "/api/v1/health")
	wantError(t, rr, http.StatusInternalServerError, "Internal server error")
}

// racingStore runs hook once, on the first Latest call, to model an ingest
// that lands while a health computation is in flight. With before set the
// hook runs ahead of the read, otherwise right after it.
type racingStore struct {
	*store.Memory
	once   sync.Once
	before bool
	hook   func(*store.Memory)
}

func (r *racingStore) Latest(ctx context.Context) (types.SensorReading, bool, error) {
	if r.before {
		r.once.Do(func() { r.hook(r.Memory) })
	}
	rd, ok, err := r.Memory.Latest(ctx)
	r.once.Do(func() { r.hook(r.Memory) })
	return rd, ok, err
}

func poorEngine(t *testing.T) *alerts.Engine {
	t.Helper()
	eng := alerts.New([]config.AlertRule{{Name: "poor", Condition: "score < 40"}})
	t.Cleanup(eng.Wait)
	return eng
}

func TestHealth_AlertBlamesScoredDevice(t *testing.T) {
	mem := store.NewMemory(0)
	ctx := context.Background()
	mem.PutReading(ctx, types.SensorReading{ //nolint:errcheck
		Temperature: types.Float(40), PH: types.Float(4), Timestamp: 1, DeviceID: "node-A",
	})
	st := &racingStore{Memory: mem, hook: func(m *store.Memory) {
		m.PutReading(ctx, types.SensorReading{ //nolint:errcheck
			Temperature: types.Float(25), PH: types.Float(7.5), Timestamp: 2, DeviceID: "node-B",
		})
	}}
	eng := poorEngine(t)
	f := newFixture(t, func(o *api.Options) { o.Store = st; o.Alerts = eng })

	if rr := get(t, f.handler, "/api/v1/health"); rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	active := eng.Active()
	if len(active) != 1 || active[0].DeviceID != "node-A" {
		t.Fatalf("alerts: got %+v, want one on node-A", active)
	}
}

func TestIngest_AlertPairsRecordWithScoredReading(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Memory: store.NewMemory(0), before: true, hook: func(m *store.Memory) {
		m.PutReading(ctx, types.SensorReading{ //nolint:errcheck
			Temperature: types.Float(40), PH: types.Float(4), Timestamp: 2, DeviceID: "node-B",
		})
	}}
	eng := poorEngine(t)
	f := newFixture(t, func(o *api.Options) { o.Store = st; o.Alerts = eng })

	// node-A is healthy; the record computed during its ingest is node-B's.
	if rr := post(t, f.handler, "/api/v1/readings",
		`{"temperature":25,"ph":7.5,"deviceId":"node-A","timestamp":1}`); rr.Code != http.StatusOK {
		t.Fatalf("ingest: %d", rr.Code)
	}
	active := eng.Active()
	if len(active) != 1 || active[0].DeviceID != "node-B" {
		t.Fatalf("alerts: got %+v, want one on node-B", active)
	}
}

func TestHealth_ConcurrentRequests(t *testing.T) {
	f := newFixture(t, nil)
	post(t, f.handler, "/api/v1/readings", `{"temperature":35,"ph":7.5}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rr := get(t, f.handler, "/api/v1/health"); rr.Code != http.StatusOK {
				t.Errorf("status: got %d", rr.Code)
			}
		}()
	}
	wg.Wait()
	rec, _, _ := f.store.CurrentHealth(context.Background())
	if rec.Score != 80 {
		t.Errorf("score: got %d, want 80", rec.Score)
	}
}

// --- history, series, misc ----------------------------------------------------

func TestHistory_Limit(t *testing.T) {
	f := newFixture(t, nil)
	for i := 1; i <= 25; i++ {
		post(t, f.handler, "/api/v1/readings",
			`{"temperature":25,"ph":7,"timestamp":`+strconv.Itoa(i)+`}`)
	}

	var resp api.HistoryResponse
	decode(t, get(t, f.handler, "/api/v1/readings"), &resp)
	if resp.Count != 20 {
		t.Errorf("default limit: got %d, want 20", resp.Count)
	}

	decode(t, get(t, f.handler, "/api/v1/readings?limit=3"), &resp)
	if resp.Count != 3 {
		t.Errorf("limit=3: got %d", resp.Count)
	}

	decode(t, get(t, f.handler, "/api/v1/readings?limit=100000"), &resp)
	if resp.Count != 25 {
		t.Errorf("limit capped: got %d, want 25", resp.Count)
	}

	if rr := get(t, f.handler, "/api/v1/readings?limit=abc"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit: got %d, want 400", rr.Code)
	}
}

func TestSeries_DeduplicatesAndCaps(t *testing.T) {
	f := newFixture(t, nil)
	for _, ts := range []string{"1", "1", "2", "3", "4", "5", "6"} {
		post(t, f.handler, "/api/v1/readings", `{"temperature":25,"ph":7,"timestamp":`+ts+`}`)
	}
	var resp api.SeriesResponse
	decode(t, get(t, f.handler, "/api/v1/series"), &resp)
	if resp.Capacity != 5 || len(resp.Points) != 5 {
		t.Fatalf("series: capacity %d, %d points", resp.Capacity, len(resp.Points))
	}
	if resp.Points[0].Timestamp != 2 || resp.Points[4].Timestamp != 6 {
		t.Errorf("series order: first %d last %d", resp.Points[0].Timestamp, resp.Points[4].Timestamp)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rr := get(t, f.handler, "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	post(t, f.handler, "/api/v1/readings", `{"temperature":25,"ph":7}`)
	post(t, f.handler, "/api/v1/readings", `{"temperature":25}`)

	rr := get(t, f.handler, "/metrics")
	body := rr.Body.String()
	for _, want := range []string{
		`bluesentinel_sensor_value{sensor="temperature"} 25`,
		`bluesentinel_health_score 100`,
		`bluesentinel_readings_rejected_total{reason="missing_fields"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, func(o *api.Options) { o.CORSOrigins = []string{"https://dashboard.example.org"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/readings", nil)
	req.Header.Set("Origin", "https://dashboard.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.org" {
		t.Errorf("Allow-Origin: got %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE: got %d, want 405", rr.Code)
	}
}

// --- stream -------------------------------------------------------------------

func TestStream_ReceivesReadingAndHealthEvents(t *testing.T) {
	st := store.NewMemory(0)
	buf := series.New(10)
	hub := ws.New(func(ctx context.Context) (any, error) {
		return api.BuildSnapshot(ctx, st, buf)
	}, 0)
	srv := api.New(api.Options{Store: st, Series: buf, Hub: hub, ComputeOnIngest: true})

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/stream", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	events := func() []string {
		var out []string
		for len(out) < 3 {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read after %v: %v", out, err)
			}
			var m struct{ Event string }
			json.Unmarshal(msg, &m) //nolint:errcheck
			out = append(out, m.Event)
			if len(out) == 1 {
				// Snapshot received; the client is registered once it has
				// been queued, so publish now.
				waitClients(t, hub, 1)
				resp, err := http.Post(ts.URL+"/api/v1/readings", "application/json",
					strings.NewReader(`{"temperature":25,"ph":7.5}`))
				if err != nil {
					t.Fatalf("post: %v", err)
				}
				resp.Body.Close()
			}
		}
		return out
	}()

	want := []string{ws.EventSnapshot, ws.EventReading, ws.EventHealth}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events: got %v, want %v", events, want)
			break
		}
	}
}

func waitClients(t *testing.T, hub *ws.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub clients: got %d, want %d", hub.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
