package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/pkg/types"
)

// Metric names a water-quality exporter is expected to expose.
const (
	promTemperature     = "water_temperature_celsius"
	promPH              = "water_ph"
	promTurbidity       = "water_turbidity_ntu"
	promDissolvedOxygen = "water_dissolved_oxygen_mg_l"
	promSalinity        = "water_salinity_psu"
)

type promScraper struct {
	dev    config.Device
	client *http.Client
	now    func() time.Time
}

// Scrape fetches the device's /metrics endpoint and maps the water_* gauges
// onto a reading. The reading is stamped with the scrape time.
func (s *promScraper) Scrape(ctx context.Context) (*Result, error) {
	now := s.now()
	res := newResult(s.dev, now)

	body, err := fetch(ctx, s.client, s.dev.Endpoint, string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		res.Err = fmt.Errorf("prometheus scrape %q: %w", s.dev.ID, err)
		slog.Warn("scraper: prometheus fetch failed", "device", s.dev.ID, "err", err)
		return res, nil
	}

	mfs, err := parseMetrics(bytes.NewReader(body))
	if err != nil {
		res.Err = fmt.Errorf("prometheus scrape %q: %w", s.dev.ID, err)
		slog.Warn("scraper: prometheus parse failed", "device", s.dev.ID, "err", err)
		return res, nil
	}

	r := types.SensorReading{
		Temperature:     meanFamily(mfs[promTemperature]),
		PH:              meanFamily(mfs[promPH]),
		Turbidity:       meanFamily(mfs[promTurbidity]),
		DissolvedOxygen: meanFamily(mfs[promDissolvedOxygen]),
		Salinity:        meanFamily(mfs[promSalinity]),
		Timestamp:       now.UnixMilli(),
	}
	return finish(res, r), nil
}
