package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluesentinel/bluesentinel/server/internal/alerts"
	"github.com/bluesentinel/bluesentinel/server/internal/api"
	"github.com/bluesentinel/bluesentinel/server/internal/config"
	"github.com/bluesentinel/bluesentinel/server/internal/metrics"
	"github.com/bluesentinel/bluesentinel/server/internal/retention"
	"github.com/bluesentinel/bluesentinel/server/internal/series"
	"github.com/bluesentinel/bluesentinel/server/internal/store"
	"github.com/bluesentinel/bluesentinel/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; empty runs with defaults")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory; leave empty to disable")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("bluesentinel-server starting", "config", *configPath)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"storage", sc.Storage.Backend,
		"retention", sc.Storage.Retention,
		"alert_rules", len(sc.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Options{
		Backend:    sc.Storage.Backend,
		Path:       sc.Storage.Path,
		DSN:        sc.Storage.DSN(),
		MaxHistory: sc.Storage.MaxHistory,
	})
	if err != nil {
		slog.Error("failed to open store", "backend", sc.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	if sc.Storage.Retention > 0 {
		job := retention.New(st, sc.Storage.Retention)
		if _, err := job.Start(ctx, sc.Storage.CleanupSchedule); err != nil {
			slog.Error("failed to schedule retention", "err", err)
			os.Exit(1)
		}
	}

	// Alert engine with webhook and optional Telegram delivery. Rules are
	// replaced whenever the config file changes.
	notifiers := alerts.Webhooks(sc.Alerts.Webhooks)
	if tg := sc.Alerts.Telegram; tg.Enabled() {
		n, err := alerts.NewTelegram(tg.Token(), tg.ChatID)
		if err != nil {
			slog.Error("telegram notifier disabled", "err", err)
		} else {
			notifiers = append(notifiers, n)
		}
	}
	alertEngine := alerts.New(sc.Alerts.Rules, notifiers...)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(c *config.Config) {
				alertEngine.SetRules(c.Server.Alerts.Rules)
			})
			if err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			}
		}()
	}

	buf := series.New(sc.Series.Capacity)

	hub := ws.New(func(ctx context.Context) (any, error) {
		return api.BuildSnapshot(ctx, st, buf)
	}, sc.Stream.Interval)
	hub.RestrictOrigins(sc.CORSOrigins)
	go hub.Run(ctx)

	srv := api.New(api.Options{
		Store:           st,
		Series:          buf,
		Hub:             hub,
		Alerts:          alertEngine,
		Metrics:         metrics.New(hub.Count),
		Auth:            sc.Auth,
		CORSOrigins:     sc.CORSOrigins,
		ComputeOnIngest: sc.Health.ComputeOnIngest,
	})

	handler := srv.Routes()
	// Optional: serve the pre-built dashboard from a local directory. The
	// catch-all serves index.html for unknown paths (SPA routing).
	if *uiDir != "" {
		routes := handler
		files := http.FileServer(http.Dir(*uiDir))
		root := http.NewServeMux()
		for _, p := range []string{"/api/", "/ws/", "/metrics", "/healthz"} {
			root.Handle(p, routes)
		}
		root.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if _, err := os.Stat(*uiDir + r.URL.Path); os.IsNotExist(err) {
				http.ServeFile(w, r, *uiDir+"/index.html")
				return
			}
			files.ServeHTTP(w, r)
		})
		handler = root
		slog.Info("serving dashboard static files", "dir", *uiDir)
	}

	httpSrv := &http.Server{
		Addr:              sc.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("bluesentinel-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
	alertEngine.Wait()
}
