package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/trackbuf/trackbuf/server/internal/store"
)

// recentLimit caps the hits embedded in a snapshot.
const recentLimit = 20

// maxListLimit caps ?limit= on /api/v1/hits.
const maxListLimit = 1000

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to the given hit store and registers all routes.
func New(st *store.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/hits", h.listHits)
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		LiveHits: h.store.Stats().Total,
		HeldHits: h.store.Count(),
		HitTTL:   h.store.TTL().String(),
	})
}

// listHits returns GET /api/v1/hits?tid=&t=&cid=&limit=: live hits, newest first.
func (h *Handler) listHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	f := store.Filter{
		TrackingID: q.Get("tid"),
		Type:       q.Get("t"),
		ClientID:   q.Get("cid"),
		Limit:      maxListLimit,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	hits := h.store.List(f)
	out := make([]HitResponse, 0, len(hits))
	for _, hit := range hits {
		out = append(out, ToHitResponse(hit))
	}
	jsonResp(w, http.StatusOK, out)
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, ToStatsResponse(h.store.Stats()))
}

// snapshot returns GET /api/v1/snapshot: stats plus the most recent hits.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store))
}

// BuildSnapshot assembles the SnapshotResponse served on /api/v1/snapshot.
func BuildSnapshot(st *store.Store) SnapshotResponse {
	hits := st.List(store.Filter{Limit: recentLimit})
	recent := make([]HitResponse, 0, len(hits))
	for _, hit := range hits {
		recent = append(recent, ToHitResponse(hit))
	}
	return SnapshotResponse{
		Stats:       ToStatsResponse(st.Stats()),
		Recent:      recent,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

// ToHitResponse renders a stored hit in the JSON shape used by the API and
// the live stream.
func ToHitResponse(h store.Hit) HitResponse {
	return HitResponse{
		Seq:        h.Seq,
		TrackingID: h.TrackingID,
		ClientID:   h.ClientID,
		Type:       h.Type,
		Params:     h.Params,
		ReceivedAt: h.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ToStatsResponse renders store statistics.
func ToStatsResponse(s store.Stats) StatsResponse {
	resp := StatsResponse{
		Total:      s.Total,
		Clients:    s.Clients,
		ByType:     s.ByType,
		ByTracking: s.ByTracking,
	}
	if !s.Last.IsZero() {
		resp.LastHitAt = s.Last.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
