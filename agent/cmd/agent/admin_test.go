package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trackbuf/trackbuf/agent/internal/config"
	"github.com/trackbuf/trackbuf/agent/internal/metrics"
	"github.com/trackbuf/trackbuf/agent/internal/queue"
	"github.com/trackbuf/trackbuf/agent/internal/record"
	"github.com/trackbuf/trackbuf/agent/internal/uploader"
)

type nopStore struct{}

func (nopStore) Load() []record.Record        { return nil }
func (nopStore) Save([]record.Record) error { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newAdminFixture wires a Manager to a collector stub that counts requests.
func newAdminFixture(t *testing.T, collectorStatus int) (http.Handler, *queue.Manager, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(collectorStatus)
	}))
	t.Cleanup(collector.Close)

	up, err := uploader.New(config.AgentConfig{CollectorURL: collector.URL, UploadTimeout: 2 * time.Second}, discard())
	if err != nil {
		t.Fatalf("uploader.New: %v", err)
	}
	counters := metrics.New()
	mgr := queue.New(nopStore{}, up, queue.DefaultOptions(), discard(), counters)
	return newAdminRouter(mgr, counters, discard()), mgr, &hits
}

func TestAdmin_Healthz(t *testing.T) {
	h, mgr, _ := newAdminFixture(t, http.StatusOK)
	mgr.Enqueue(record.Record{ID: 1, Payload: map[string]string{"t": "event"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var body map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pending"] != 1 {
		t.Errorf("pending: got %d, want 1", body["pending"])
	}
}

func TestAdmin_FlushDrainsQueue(t *testing.T) {
	h, mgr, hits := newAdminFixture(t, http.StatusOK)
	g := record.NewGenerator()
	for i := 0; i < 25; i++ {
		mgr.Enqueue(g.New(map[string]string{"t": "event"}))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flush", nil))

	var body flushResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Outcome != "delivered" || body.Pending != 0 {
		t.Errorf("flush response: %+v", body)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("collector requests: got %d, want 2", got)
	}
}

func TestAdmin_FlushReportsFailure(t *testing.T) {
	h, mgr, _ := newAdminFixture(t, http.StatusServiceUnavailable)
	mgr.Enqueue(record.Record{ID: 1, Payload: map[string]string{"t": "event"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flush", nil))

	var body flushResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Outcome != "failed" || body.Pending != 1 || body.Error == "" {
		t.Errorf("flush response: %+v", body)
	}
}

func TestAdmin_FlushRequiresPost(t *testing.T) {
	h, _, _ := newAdminFixture(t, http.StatusOK)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flush", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /flush: got %d, want 405", rec.Code)
	}
}

func TestAdmin_Metrics(t *testing.T) {
	h, mgr, _ := newAdminFixture(t, http.StatusOK)
	mgr.Enqueue(record.Record{ID: 1})
	mgr.Flush(context.Background())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	out := rec.Body.String()
	for _, want := range []string{
		metrics.NameRecordsEnqueued + " 1",
		metrics.NameRecordsDelivered + " 1",
		metrics.NameQueueDepth + " 0",
		`outcome="delivered"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q:\n%s", want, out)
		}
	}
}
