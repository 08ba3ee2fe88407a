package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/pkg/types"
)

const (
	defaultScrapeTimeout = 10 * time.Second

	// maxBodyBytes caps what the agent will read from a device.
	maxBodyBytes = 1 << 20
)

// ErrIncomplete is reported when a device answered but its reading lacks
// temperature or pH, which the server would reject anyway.
var ErrIncomplete = errors.New("reading lacks temperature or ph")

// Result is the output of one scrape of a single device.
type Result struct {
	DeviceID   string
	DeviceType string
	ScrapedAt  time.Time

	Reading types.SensorReading

	// Err is non-nil if the scrape failed (connectivity, auth, parse) or the
	// reading was incomplete. Reading must not be shipped when Err is set.
	Err error
}

// Scraper is implemented by every device poller.
type Scraper interface {
	Scrape(ctx context.Context) (*Result, error)
}

// New returns the Scraper for the given device. The HTTP client is built once
// and reused across scrapes.
func New(dev config.Device) (Scraper, error) {
	client, err := buildHTTPClient(dev)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", dev.ID, err)
	}
	switch dev.Type {
	case "json":
		return &jsonScraper{dev: dev, client: client, now: time.Now}, nil
	case "prometheus":
		return &promScraper{dev: dev, client: client, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", dev.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

func buildHTTPClient(dev config.Device) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: dev.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if dev.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(dev.Auth.CertFile, dev.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if dev.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(dev.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", dev.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: dev.Auth,
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// fetch GETs url and returns the body, limited to maxBodyBytes.
func fetch(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// parseMetrics decodes a Prometheus text exposition into metric families.
// A partial parse that yielded families is treated as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// meanFamily averages the finite gauge, counter or untyped samples of mf. A device
// exposing several sensors for the same quantity gets one value. Returns nil
// when mf is nil or holds no usable sample.
func meanFamily(mf *dto.MetricFamily) *float64 {
	if mf == nil {
		return nil
	}
	var (
		total float64
		n     int
	)
	for _, m := range mf.GetMetric() {
		var v float64
		switch {
		case m.Gauge != nil:
			v = m.Gauge.GetValue()
		case m.Untyped != nil:
			v = m.Untyped.GetValue()
		case m.Counter != nil:
			v = m.Counter.GetValue()
		default:
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		total += v
		n++
	}
	if n == 0 {
		return nil
	}
	mean := total / float64(n)
	return &mean
}

func newResult(dev config.Device, now time.Time) *Result {
	return &Result{
		DeviceID:   dev.ID,
		DeviceType: dev.Type,
		ScrapedAt:  now.UTC(),
	}
}

// finish tags the reading with the device id and checks the fields the
// server requires.
func finish(res *Result, r types.SensorReading) *Result {
	if r.DeviceID == "" {
		r.DeviceID = res.DeviceID
	}
	res.Reading = r
	if r.Temperature == nil || r.PH == nil {
		res.Err = fmt.Errorf("%s scrape %q: %w", res.DeviceType, res.DeviceID, ErrIncomplete)
	}
	return res
}
