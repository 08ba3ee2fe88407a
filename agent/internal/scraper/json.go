package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/pkg/reading"
)

// jsonScraper polls a device that serves its latest reading as a JSON object,
// the format the ESP32 firmware posts upstream.
type jsonScraper struct {
	dev    config.Device
	client *http.Client
	now    func() time.Time
}

func (s *jsonScraper) Scrape(ctx context.Context) (*Result, error) {
	now := s.now()
	res := newResult(s.dev, now)

	body, err := fetch(ctx, s.client, s.dev.Endpoint, "application/json")
	if err != nil {
		res.Err = fmt.Errorf("json scrape %q: %w", s.dev.ID, err)
		slog.Warn("scraper: json fetch failed", "device", s.dev.ID, "err", err)
		return res, nil
	}

	r, err := reading.Decode(bytes.NewReader(body), now)
	if err != nil {
		res.Err = fmt.Errorf("json scrape %q: %w", s.dev.ID, err)
		slog.Warn("scraper: json decode failed", "device", s.dev.ID, "err", err)
		return res, nil
	}
	return finish(res, r), nil
}
