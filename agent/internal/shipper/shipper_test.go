package shipper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// mockServer records POSTed readings and answers with scripted status codes.
type mockServer struct {
	mu       sync.Mutex
	received []types.SensorReading
	headers  []http.Header
	statuses []int // consumed one per request; 201 once exhausted
}

func (m *mockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := http.StatusCreated
	if len(m.statuses) > 0 {
		code = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	if code == http.StatusCreated {
		var rd types.SensorReading
		if err := json.NewDecoder(r.Body).Decode(&rd); err == nil {
			m.received = append(m.received, rd)
			m.headers = append(m.headers, r.Header.Clone())
		}
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"success":false}`))
}

func (m *mockServer) readings() []types.SensorReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.SensorReading, len(m.received))
	copy(out, m.received)
	return out
}

func startShipper(t *testing.T, m *mockServer, cfg config.AgentConfig) (*Shipper, context.CancelFunc) {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)

	cfg.ServerURL = srv.URL + "/"
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 10
	}
	s := New(cfg)
	s.bo = newBackoff(5*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s, cancel
}

func makeReading(ts int64) types.SensorReading {
	return types.SensorReading{
		Temperature: types.Float(25),
		PH:          types.Float(7.5),
		Timestamp:   ts,
		DeviceID:    "esp32-01",
	}
}

func waitFor(t *testing.T, m *mockServer, n int) []types.SensorReading {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := m.readings(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := m.readings()
	t.Fatalf("server received %d readings, want %d", len(got), n)
	return got
}

func TestShipper_DeliversReading(t *testing.T) {
	m := &mockServer{}
	s, _ := startShipper(t, m, config.AgentConfig{})

	s.Ship(makeReading(1000))

	got := waitFor(t, m, 1)
	if got[0].Timestamp != 1000 || got[0].DeviceID != "esp32-01" {
		t.Errorf("received %+v", got[0])
	}
	if got[0].Temperature == nil || *got[0].Temperature != 25 {
		t.Errorf("temperature = %v, want 25", got[0].Temperature)
	}
}

func TestShipper_APIKeyHeader(t *testing.T) {
	t.Setenv("SHIP_KEY", "s3cret")
	m := &mockServer{}
	s, _ := startShipper(t, m, config.AgentConfig{
		ServerAuth: config.AuthConfig{Mode: "apikey", KeyEnv: "SHIP_KEY"},
	})

	s.Ship(makeReading(1))
	waitFor(t, m, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if got := m.headers[0].Get("x-api-key"); got != "s3cret" {
		t.Errorf("x-api-key = %q, want s3cret", got)
	}
}

func TestShipper_RetriesTransientInOrder(t *testing.T) {
	m := &mockServer{statuses: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	s, _ := startShipper(t, m, config.AgentConfig{})

	for i := int64(1); i <= 3; i++ {
		s.Ship(makeReading(i))
	}

	got := waitFor(t, m, 3)
	for i, r := range got {
		if r.Timestamp != int64(i+1) {
			t.Errorf("readings[%d].Timestamp = %d, want %d", i, r.Timestamp, i+1)
		}
	}
}

func TestShipper_DiscardsPermanent(t *testing.T) {
	m := &mockServer{statuses: []int{http.StatusBadRequest}}
	s, _ := startShipper(t, m, config.AgentConfig{})

	s.Ship(makeReading(1))
	s.Ship(makeReading(2))

	waitFor(t, m, 1)
	// Give a wrongly retried first reading time to show up.
	time.Sleep(50 * time.Millisecond)
	got := m.readings()
	if len(got) != 1 || got[0].Timestamp != 2 {
		t.Errorf("received %+v, want only timestamp 2", got)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	s := New(config.AgentConfig{ServerURL: "http://unused", BufferSize: 3})

	for i := int64(0); i < 5; i++ {
		s.Ship(makeReading(i))
	}
	if s.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", s.Pending())
	}

	for _, want := range []int64{2, 3, 4} {
		if got := (<-s.buf).Timestamp; got != want {
			t.Errorf("timestamp = %d, want %d", got, want)
		}
	}
}

func TestShipper_URL(t *testing.T) {
	s := New(config.AgentConfig{ServerURL: "http://server:8080/"})
	if s.url != "http://server:8080/api/v1/readings" {
		t.Errorf("url = %q", s.url)
	}
}

func TestIsPermanentStatus(t *testing.T) {
	tests := map[int]bool{
		400: true, 401: true, 413: true, 422: true,
		408: false, 429: false, 500: false, 503: false,
	}
	for code, want := range tests {
		if got := isPermanentStatus(code); got != want {
			t.Errorf("isPermanentStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestBackoff_ResetsAndCaps(t *testing.T) {
	b := newBackoff(backoffInitial, backoffMax)
	if first := b.next(); first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 50; i++ {
		// With jitter, max is backoffMax * 1.25.
		if d := b.next(); d > backoffMax*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds 1.25×max", i, d)
		}
	}
	b.reset()
	if after := b.next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestShipper_GracefulShutdown(t *testing.T) {
	s := New(config.AgentConfig{ServerURL: "http://127.0.0.1:1", BufferSize: 2})
	s.Ship(makeReading(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
