package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/trackbuf/trackbuf/server/internal/api"
	"github.com/trackbuf/trackbuf/server/internal/config"
	"github.com/trackbuf/trackbuf/server/internal/receiver"
	"github.com/trackbuf/trackbuf/server/internal/store"
	"github.com/trackbuf/trackbuf/server/internal/ws"
)

func newTestServer(t *testing.T, auth config.AuthConfig) *httptest.Server {
	t.Helper()
	cfg := config.CollectorConfig{
		HitTTL:         time.Minute,
		MaxBatchHits:   20,
		MaxHitBytes:    8 << 10,
		MaxBatchBytes:  16 << 10,
		StreamInterval: time.Hour,
		Auth:           auth,
	}
	st := store.New(cfg.HitTTL)
	rec := receiver.New(st, receiver.LimitsFromConfig(cfg), slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(newRouter(cfg, st, rec, ws.New(st, cfg.StreamInterval)))
	t.Cleanup(srv.Close)
	return srv
}

const line = "cid=c1&ea=tap%20it&t=event&tid=UA-1-1&v=1"

func TestRouter_IngestThenQuery(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})

	resp, err := http.Get(srv.URL + "/collect?" + line)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collect: got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/batch", "text/plain", strings.NewReader(line+"\n"+strings.Replace(line, "t=event", "t=timing", 1)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch: got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/hits?t=event")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var hits []api.HitResponse
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("event hits: got %d, want 2", len(hits))
	}
	if hits[0].Params["ea"] != "tap it" {
		t.Errorf("ea: got %q", hits[0].Params["ea"])
	}
}

func TestRouter_AuthGuardsIngestionOnly(t *testing.T) {
	t.Setenv("TEST_COLLECTOR_KEY", "secret")
	srv := newTestServer(t, config.AuthConfig{Mode: "apikey", KeyEnv: "TEST_COLLECTOR_KEY"})

	resp, err := http.Get(srv.URL + "/collect?" + line)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("collect without key: got %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/collect?"+line, nil)
	req.Header.Set("x-api-key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("collect with key: got %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without key: got %d, want 200", resp.StatusCode)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, config.AuthConfig{})
	resp, err := http.Get(srv.URL + "/batch")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /batch: got %d, want 405", resp.StatusCode)
	}
}
