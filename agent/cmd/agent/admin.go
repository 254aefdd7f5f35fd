package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trackbuf/trackbuf/agent/internal/metrics"
	"github.com/trackbuf/trackbuf/agent/internal/queue"
)

type flushResponse struct {
	Outcome string `json:"outcome"`
	Records int    `json:"records"`
	Pending int    `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// newAdminRouter serves the local admin surface: /metrics, /healthz and
// POST /flush.
func newAdminRouter(mgr *queue.Manager, counters *metrics.Counters, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", counters)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"pending": mgr.Len()})
	})

	r.Post("/flush", func(w http.ResponseWriter, req *http.Request) {
		res := mgr.Flush(req.Context())
		body := flushResponse{
			Outcome: res.Outcome.String(),
			Records: len(res.Records),
			Pending: mgr.Len(),
		}
		if res.Err != nil {
			body.Error = res.Err.Error()
		}
		logger.Info("admin: flush requested", "outcome", body.Outcome, "pending", body.Pending)
		writeJSON(w, http.StatusOK, body)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
