package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluesentinel/bluesentinel/agent/internal/config"
	"github.com/bluesentinel/bluesentinel/agent/internal/scraper"
	"github.com/bluesentinel/bluesentinel/agent/internal/shipper"
)

type device struct {
	cfg config.Device
	s   scraper.Scraper
}

// fleet is the set of devices currently polled. It is replaced wholesale when
// the config file changes.
type fleet struct {
	mu      sync.Mutex
	devices []device
}

func (f *fleet) set(devs []config.Device) {
	built := make([]device, 0, len(devs))
	for _, d := range devs {
		s, err := scraper.New(d)
		if err != nil {
			slog.Error("skipping device, could not build scraper", "device", d.ID, "err", err)
			continue
		}
		built = append(built, device{cfg: d, s: s})
		slog.Info("registered device", "id", d.ID, "type", d.Type, "endpoint", d.Endpoint)
	}
	if len(built) == 0 {
		slog.Warn("no devices configured, agent will idle")
	}

	f.mu.Lock()
	f.devices = built
	f.mu.Unlock()
}

func (f *fleet) snapshot() []device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("bluesentinel-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"devices", len(cfg.Agent.Devices),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var devices fleet
	devices.set(cfg.Agent.Devices)

	// Device list changes apply on the next tick. Server URL, interval and
	// buffer size need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			devices.set(updated.Agent.Devices)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	ship := shipper.New(cfg.Agent)
	go ship.Run(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Agent.ScrapeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, d := range devices.snapshot() {
					res, err := d.s.Scrape(ctx)
					if err != nil {
						slog.Warn("scrape error", "device", d.cfg.ID, "err", err)
						continue
					}
					if res.Err != nil {
						slog.Warn("scrape failed", "device", d.cfg.ID, "err", res.Err)
						continue
					}
					ship.Ship(res.Reading)
					slog.Debug("queued reading",
						"device", res.Reading.DeviceID,
						"timestamp", res.Reading.Timestamp,
						"pending", ship.Pending(),
					)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("bluesentinel-agent shutting down")
}
