package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trackbuf/trackbuf/server/internal/config"
	"github.com/trackbuf/trackbuf/server/internal/receiver"
	"github.com/trackbuf/trackbuf/server/internal/store"
	"github.com/trackbuf/trackbuf/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "collector.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "dotenv file with secrets; ignored when absent")
	debug := flag.Bool("debug", false, "log every request")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "trackbuf-collector: load %s: %v\n", *envFile, err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("trackbuf-collector starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	c := cfg.Collector

	slog.Info("config loaded",
		"http_port", c.HTTPPort,
		"auth_mode", c.Auth.Mode,
		"hit_ttl", c.HitTTL,
		"max_batch_hits", c.MaxBatchHits,
	)
	if c.Auth.Mode == "apikey" && c.Auth.Key() == "" {
		slog.Warn("auth mode is apikey but the key variable is empty; ingestion is open", "key_env", c.Auth.KeyEnv)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hit store with background TTL eviction.
	st := store.New(c.HitTTL)
	go st.Run(ctx)

	hub := ws.New(st, c.StreamInterval)
	go hub.Run(ctx)

	rec := receiver.New(st, receiver.LimitsFromConfig(c), logger)
	rec.OnStored = func([]store.Hit) { hub.Notify() }

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.HTTPPort),
		Handler:           newRouter(c, st, rec, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", c.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("trackbuf-collector shutting down", "hits_held", st.Count())

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
