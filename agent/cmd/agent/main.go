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

	"github.com/trackbuf/trackbuf/agent/internal/config"
	"github.com/trackbuf/trackbuf/agent/internal/envinfo"
	"github.com/trackbuf/trackbuf/agent/internal/metrics"
	"github.com/trackbuf/trackbuf/agent/internal/queue"
	"github.com/trackbuf/trackbuf/agent/internal/record"
	"github.com/trackbuf/trackbuf/agent/internal/store"
	"github.com/trackbuf/trackbuf/agent/internal/uploader"
	"github.com/trackbuf/trackbuf/agent/reporter"
)

func main() {
	configPath := flag.String("config", "agent.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "dotenv file with secrets; ignored when absent")
	readStdin := flag.Bool("stdin", false, "read JSON-lines hits from stdin")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "trackbuf-agent: load %s: %v\n", *envFile, err)
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "err", err)
		os.Exit(1)
	}
	level.Set(reporter.LevelFor(cfg.Agent.Quiet))

	slog.Info("trackbuf-agent starting",
		"config", *configPath,
		"collector_url", cfg.Agent.CollectorURL,
		"store_path", cfg.Agent.StorePath,
		"auth_mode", cfg.Agent.CollectorAuth.Mode,
	)

	env, err := envinfo.Detect(cfg.Agent.App, cfg.Agent.ResolvedStateDir())
	if err != nil {
		slog.Warn("client id not persisted, using an ephemeral one", "err", err)
	}

	counters := metrics.New()

	st := store.New(cfg.Agent.StorePath, store.Compression(cfg.Agent.StoreCompression), logger)
	st.OnCorrupt = counters.StoreCorrupted

	up, err := uploader.New(cfg.Agent, logger)
	if err != nil {
		slog.Error("failed to build uploader", "err", err)
		os.Exit(1)
	}

	ids := record.NewGenerator()
	opts := queue.OptionsFromConfig(cfg.Agent)
	opts.IDs = ids
	mgr := queue.New(st, up, opts, logger, counters)

	rep, err := reporter.New(cfg.Agent.ResolvedTrackingID(), env, mgr,
		reporter.WithLogger(logger),
		reporter.WithLevel(level),
		reporter.WithGenerator(ids),
	)
	if err != nil {
		slog.Error("failed to build reporter", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr.Start(ctx)

	go func() {
		cs, ok := uploader.CheckCertificate(ctx, cfg.Agent.CollectorURL, cfg.Agent.CollectorAuth, cfg.Agent.TLS)
		if !ok {
			return
		}
		switch cs.Status {
		case "expired", "expiring", "untrusted", "unreachable":
			slog.Warn("collector certificate", "endpoint", cs.Endpoint, "status", cs.Status,
				"issuer", cs.Issuer, "days_left", cs.DaysLeft, "err", cs.Err)
		default:
			slog.Debug("collector certificate", "endpoint", cs.Endpoint, "status", cs.Status,
				"not_after", cs.NotAfter)
		}
	}()

	// Quiet mode and flush interval apply live; everything else needs a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, logger, func(updated *config.Config) {
			rep.SetQuiet(updated.Agent.Quiet)
			mgr.SetFlushInterval(updated.Agent.FlushInterval)
			slog.Info("config hot-reloaded",
				"quiet", updated.Agent.Quiet,
				"flush_interval", updated.Agent.FlushInterval,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// SIGUSR1 stands in for the host app moving to the background.
	suspend := make(chan os.Signal, 1)
	signal.Notify(suspend, syscall.SIGUSR1)
	defer signal.Stop(suspend)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-suspend:
				mgr.OnSuspend()
			}
		}
	}()

	var adminSrv *http.Server
	if cfg.Agent.AdminPort > 0 {
		adminSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Agent.AdminPort),
			Handler:           newAdminRouter(mgr, counters, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("admin server listening", "port", cfg.Agent.AdminPort)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin server stopped", "err", err)
			}
		}()
	}

	if *readStdin {
		go func() {
			n, err := ingest(ctx, os.Stdin, rep, logger)
			slog.Info("stdin closed", "hits", n, "err", err)
		}()
	}

	<-ctx.Done()
	slog.Info("trackbuf-agent shutting down", "pending", mgr.Len())

	mgr.Stop()
	mgr.OnShutdown()

	if adminSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		adminSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}
}
