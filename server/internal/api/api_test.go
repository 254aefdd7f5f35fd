package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trackbuf/trackbuf/server/internal/api"
	"github.com/trackbuf/trackbuf/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newStore(hits ...store.Hit) *store.Store {
	st := store.New(5 * time.Minute)
	st.Add(hits...)
	return st
}

func hit(tid, typ, cid string) store.Hit {
	return store.Hit{
		TrackingID: tid,
		Type:       typ,
		ClientID:   cid,
		Params:     map[string]string{"v": "1", "tid": tid, "t": typ, "cid": cid},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- tests ------------------------------------------------------------------

func TestHealth(t *testing.T) {
	h := api.New(newStore(hit("UA-1", "event", "c1"), hit("UA-1", "timing", "c1")))
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q", ct)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.LiveHits != 2 || resp.HeldHits != 2 {
		t.Errorf("health: %+v", resp)
	}
	if resp.HitTTL != "5m0s" {
		t.Errorf("hit_ttl: got %q", resp.HitTTL)
	}
}

func TestListHits_Filters(t *testing.T) {
	h := api.New(newStore(
		hit("UA-1", "event", "c1"),
		hit("UA-2", "event", "c2"),
		hit("UA-1", "screenView", "c1"),
	))

	tests := []struct {
		path    string
		wantSeq []int64
	}{
		{"/api/v1/hits", []int64{3, 2, 1}},
		{"/api/v1/hits?tid=UA-1", []int64{3, 1}},
		{"/api/v1/hits?t=event", []int64{2, 1}},
		{"/api/v1/hits?tid=UA-1&t=screenView", []int64{3}},
		{"/api/v1/hits?cid=c2", []int64{2}},
		{"/api/v1/hits?limit=1", []int64{3}},
		{"/api/v1/hits?tid=UA-9", []int64{}},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			rr := get(t, h, tc.path)
			if rr.Code != http.StatusOK {
				t.Fatalf("status: got %d", rr.Code)
			}
			var hits []api.HitResponse
			decode(t, rr, &hits)
			if len(hits) != len(tc.wantSeq) {
				t.Fatalf("hits: got %d, want %d", len(hits), len(tc.wantSeq))
			}
			for i, want := range tc.wantSeq {
				if hits[i].Seq != want {
					t.Errorf("hits[%d].Seq: got %d, want %d", i, hits[i].Seq, want)
				}
			}
		})
	}
}

func TestListHits_EmptyIsArray(t *testing.T) {
	rr := get(t, api.New(newStore()), "/api/v1/hits")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("empty list body: got %q, want []", body)
	}
}

func TestListHits_BadLimit(t *testing.T) {
	h := api.New(newStore())
	for _, q := range []string{"limit=0", "limit=-3", "limit=abc"} {
		if rr := get(t, h, "/api/v1/hits?"+q); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rr.Code)
		}
	}
}

func TestListHits_Fields(t *testing.T) {
	h := api.New(newStore(hit("UA-1", "event", "c1")))
	var hits []api.HitResponse
	decode(t, get(t, h, "/api/v1/hits"), &hits)

	got := hits[0]
	if got.TrackingID != "UA-1" || got.ClientID != "c1" || got.Type != "event" {
		t.Errorf("hit: %+v", got)
	}
	if got.Params["v"] != "1" {
		t.Errorf("params: %v", got.Params)
	}
	if _, err := time.Parse(time.RFC3339Nano, got.ReceivedAt); err != nil {
		t.Errorf("received_at %q: %v", got.ReceivedAt, err)
	}
}

func TestStats(t *testing.T) {
	h := api.New(newStore(
		hit("UA-1", "event", "c1"),
		hit("UA-1", "event", "c2"),
		hit("UA-2", "exception", "c1"),
	))
	var resp api.StatsResponse
	decode(t, get(t, h, "/api/v1/stats"), &resp)

	if resp.Total != 3 || resp.Clients != 2 {
		t.Errorf("totals: %+v", resp)
	}
	if resp.ByType["event"] != 2 || resp.ByType["exception"] != 1 {
		t.Errorf("by_type: %v", resp.ByType)
	}
	if resp.ByTracking["UA-1"] != 2 || resp.ByTracking["UA-2"] != 1 {
		t.Errorf("by_tracking_id: %v", resp.ByTracking)
	}
	if resp.LastHitAt == "" {
		t.Error("last_hit_at is empty")
	}
}

func TestSnapshot_CapsRecent(t *testing.T) {
	hits := make([]store.Hit, 30)
	for i := range hits {
		hits[i] = hit("UA-1", "event", "c")
	}
	var resp api.SnapshotResponse
	decode(t, get(t, api.New(newStore(hits...)), "/api/v1/snapshot"), &resp)

	if len(resp.Recent) != 20 {
		t.Errorf("recent: got %d, want 20", len(resp.Recent))
	}
	if resp.Stats.Total != 30 {
		t.Errorf("stats.total: got %d, want 30", resp.Stats.Total)
	}
	if resp.Recent[0].Seq != 30 {
		t.Errorf("recent[0].Seq: got %d, want 30", resp.Recent[0].Seq)
	}
	if _, err := time.Parse(time.RFC3339, resp.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore())
	for _, path := range []string{"/api/v1/health", "/api/v1/hits", "/api/v1/stats", "/api/v1/snapshot"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}
