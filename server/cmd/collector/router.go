package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trackbuf/trackbuf/server/internal/api"
	"github.com/trackbuf/trackbuf/server/internal/auth"
	"github.com/trackbuf/trackbuf/server/internal/config"
	"github.com/trackbuf/trackbuf/server/internal/receiver"
	"github.com/trackbuf/trackbuf/server/internal/store"
	"github.com/trackbuf/trackbuf/server/internal/ws"
)

// newRouter mounts ingestion behind the API-key middleware and leaves the
// read-only API and stream open.
func newRouter(cfg config.CollectorConfig, st *store.Store, rec *receiver.Receiver, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Group(func(r chi.Router) {
		r.Use(auth.APIKey(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key()))

		r.Get("/collect", rec.Collect)
		r.Post("/collect", rec.Collect)
		r.Post("/batch", rec.Batch)

		r.Get("/debug/collect", rec.Debug)
		r.Post("/debug/collect", rec.Debug)
		r.Post("/debug/batch", rec.Debug)
	})

	r.Mount("/api", api.New(st))
	r.Handle("/ws/hits", hub)

	return r
}

// requestLogger logs one debug line per request.
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
