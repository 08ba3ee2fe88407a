package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	ingestPath = "/api/v1/readings"
)

// permanentError marks a reading the server refused outright. Retrying it
// would only fail again.
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("server rejected reading: status %d: %s", e.status, e.body)
}

// Shipper buffers readings and POSTs them to bluesentinel-server.
// Ship is non-blocking; when the buffer is full the oldest reading is evicted.
// Run must be called in a goroutine to drain the buffer.
type Shipper struct {
	url    string
	auth   config.AuthConfig
	buf    chan types.SensorReading
	client *http.Client
	bo     *backoff
}

// New creates a Shipper for the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		url:    strings.TrimRight(cfg.ServerURL, "/") + ingestPath,
		auth:   cfg.ServerAuth,
		buf:    make(chan types.SensorReading, size),
		client: &http.Client{Timeout: sendTimeout},
		bo:     newBackoff(backoffInitial, backoffMax),
	}
}

// Ship enqueues r. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(r types.SensorReading) {
	select {
	case s.buf <- r:
	default:
		select {
		case <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest reading",
				"device", r.DeviceID, "buffer_cap", cap(s.buf))
		default:
		}
		// A concurrent Ship may have refilled the slot; drop r rather than block.
		select {
		case s.buf <- r:
		default:
		}
	}
}

// Pending reports how many readings are waiting to be sent.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer until ctx is cancelled. A reading that fails with a
// transient error is retried, after an exponential backoff, before anything
// newer is sent so the server never sees readings out of order.
func (s *Shipper) Run(ctx context.Context) {
	for {
		var r types.SensorReading
		select {
		case <-ctx.Done():
			return
		case r = <-s.buf:
		}

		for {
			err := s.send(ctx, r)
			if err == nil {
				s.bo.reset()
				slog.Debug("shipper: reading delivered", "device", r.DeviceID, "timestamp", r.Timestamp)
				break
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				slog.Error("shipper: permanent send error, discarding reading",
					"device", r.DeviceID, "err", err)
				break
			}
			if ctx.Err() != nil {
				return
			}

			wait := s.bo.next()
			slog.Warn("shipper: send failed, will retry",
				"url", s.url, "err", err, "retry_in", wait, "pending", len(s.buf))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (s *Shipper) send(ctx context.Context, r types.SensorReading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return &permanentError{body: err.Error()}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.auth.Mode == "apikey" {
		req.Header.Set(s.auth.EffectiveHeader(), s.auth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case isPermanentStatus(resp.StatusCode):
		return &permanentError{status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// isPermanentStatus reports client errors other than timeouts and throttling.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, limit time.Duration) *backoff {
	return &backoff{initial: initial, max: limit, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
