package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bluesentinel/bluesentinel/server/internal/auth"
)

// maxBodyBytes bounds an ingest request body.
const maxBodyBytes = 64 << 10

// Routes returns the HTTP handler serving:
//
//	GET  /healthz                 liveness
//	POST /api/v1/readings         ingest one reading (API key when configured)
//	GET  /api/v1/readings         history, ?limit=N (default 20, max 500)
//	GET  /api/v1/readings/latest  latest reading
//	GET  /api/v1/health           compute, store and return the health record
//	GET  /api/v1/health/current   last stored health record
//	GET  /api/v1/series           chart buffer
//	GET  /api/v1/alerts           firing and recently resolved alerts
//	GET  /metrics                 Prometheus text exposition
//	GET  /ws/stream               WebSocket push stream
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger)
	mux.Use(cors.Handler(corsOptions(s.opts.CORSOrigins, s.opts.Auth.EffectiveHeader())))

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok")) //nolint:errcheck
	})

	mux.Route("/api/v1", func(r chi.Router) {
		r.With(auth.APIKey(s.opts.Auth.Mode, s.opts.Auth.EffectiveHeader(), s.opts.Auth.Key())).
			Post("/readings", s.ingest)
		r.Get("/readings", s.history)
		r.Get("/readings/latest", s.latest)
		r.Get("/health", s.health)
		r.Get("/health/current", s.currentHealth)
		r.Get("/series", s.series)
		r.Get("/alerts", s.alerts)
	})

	if s.opts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	if s.opts.Hub != nil {
		mux.Method(http.MethodGet, "/ws/stream", s.opts.Hub)
	}
	return mux
}

func corsOptions(origins []string, keyHeader string) cors.Options {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", keyHeader},
		MaxAge:         300,
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowCredentials = true
	}
	return opts
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
