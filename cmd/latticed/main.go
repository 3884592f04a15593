// latticed is the Lattice report platform server.
// It serves the REST API, schedules recurring reports, and orchestrates
// report computation through the backend aggregation engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lattice-data/lattice/platform/internal/aggregator"
	"github.com/lattice-data/lattice/platform/internal/api"
	"github.com/lattice-data/lattice/platform/internal/auth"
	"github.com/lattice-data/lattice/platform/internal/cache"
	"github.com/lattice-data/lattice/platform/internal/config"
	"github.com/lattice-data/lattice/platform/internal/domain"
	"github.com/lattice-data/lattice/platform/internal/leader"
	"github.com/lattice-data/lattice/platform/internal/postgres"
	"github.com/lattice-data/lattice/platform/internal/reaper"
	"github.com/lattice-data/lattice/platform/internal/registry"
	"github.com/lattice-data/lattice/platform/internal/runner"
	"github.com/lattice-data/lattice/platform/internal/scheduler"
	"github.com/lattice-data/lattice/platform/internal/storage"
)

// validateEnv checks that critical environment variables have valid values.
// Returns a slice of validation errors (empty if all valid).
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("LATTICE_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("LATTICE_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}

	if v := os.Getenv("AGGREGATOR_URL"); v != "" {
		if _, err := url.ParseRequestURI(v); err != nil {
			errs = append(errs, fmt.Sprintf("AGGREGATOR_URL=%q: must be a valid URL (%v)", v, err))
		}
	}

	for _, name := range []string{"S3_METADATA_TIMEOUT", "S3_DATA_TIMEOUT"} {
		if v := os.Getenv(name); v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q: must be a valid Go duration (e.g. 10s, 2m) (%v)", name, v, err))
			}
		}
	}

	// S3_ENDPOINT may be host:port without scheme; allow that.
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		if _, _, err := net.SplitHostPort(v); err != nil {
			if _, err := url.Parse("http://" + v); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", v))
			}
		}
	}

	return errs
}

// warnDefaultCredentials logs security warnings when S3 or Postgres
// credentials appear to be well-known defaults. These are safe for local
// development but dangerous in production deployments.
func warnDefaultCredentials() {
	s3Access := os.Getenv("S3_ACCESS_KEY")
	s3Secret := os.Getenv("S3_SECRET_KEY")
	if s3Access == "minioadmin" || s3Secret == "minioadmin" {
		slog.Warn("S3 credentials are set to default values (minioadmin) — change these for production deployments")
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if u, err := url.Parse(dbURL); err == nil && u.User != nil {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if (user == "lattice" && pass == "lattice") || (user == "postgres" && pass == "postgres") {
				slog.Warn("database credentials appear to be defaults — change these for production deployments",
					"user", user)
			}
		}
	}
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /latticed healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Context-aware slog handler so request_id appears in all log records
	// emitted inside a request.
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	// Validate critical environment variables before wiring anything.
	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	// Load config: LATTICE_CONFIG env > ./lattice.yaml > defaults.
	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	srv := &api.Server{}

	// Auth middleware: LATTICE_API_KEY env > config > no auth.
	apiKey := os.Getenv("LATTICE_API_KEY")
	if apiKey == "" {
		apiKey = cfg.Server.APIKey
	}
	if apiKey != "" {
		srv.Auth = auth.APIKey(apiKey)
		slog.Info("API key authentication enabled")
	} else {
		srv.Auth = auth.Noop()
	}

	ctx := context.Background()

	// Cycle list cache — the engine's available cycles change at most once
	// per reporting period, but the portal asks for them constantly.
	cycleTTL := time.Duration(cfg.Aggregator.CycleCacheTTL) * time.Second
	if cycleTTL <= 0 {
		cycleTTL = 5 * time.Minute
	}
	srv.CycleCache = cache.New[string, []domain.Cycle](cache.Options{
		TTL:        cycleTTL,
		MaxEntries: 10, // the cycle list is a single "all" entry
	})

	// Aggregation engine client and calculation registry.
	aggregatorURL := os.Getenv("AGGREGATOR_URL")
	if aggregatorURL == "" {
		aggregatorURL = cfg.Aggregator.URL
	}
	engine := aggregator.NewHTTPClient(aggregatorURL)
	srv.Cycles = engine
	srv.Registry = registry.New(engine, logger)
	srv.AggregatorHealth = aggregator.NewHealthChecker(aggregatorURL)
	slog.Info("aggregation engine client initialized", "url", aggregatorURL)

	// Shutdown hooks — populated below, called in order during graceful shutdown.
	var (
		stopLeader func()
		stopRunner func()
		closePool  func()
	)

	// SCHEDULER_ENABLED controls whether this replica can run background
	// workers (scheduler, reaper). Default: true. Set to "false" to run a
	// pure API-only replica.
	schedulerEnabled := os.Getenv("SCHEDULER_ENABLED") != "false"

	// Wire Postgres stores. DATABASE_URL is required — every surface of
	// latticed persists through it.
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	pool, err = postgres.NewPool(ctx, dbURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	closePool = func() { pool.Close() }

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	reportStore := postgres.NewReportStore(pool)
	scheduleStore := postgres.NewScheduleStore(pool)
	executionStore := postgres.NewExecutionStore(pool)

	srv.Reports = reportStore
	srv.Schedules = scheduleStore
	srv.Executions = executionStore
	srv.DBHealth = postgres.NewHealthChecker(pool)
	slog.Info("postgres stores initialized")

	// Wire S3 storage for result artifacts. Env overrides config.
	s3Cfg := storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		s3Cfg.Endpoint = v
	}
	if v := os.Getenv("S3_ACCESS_KEY"); v != "" {
		s3Cfg.AccessKey = v
	}
	if v := os.Getenv("S3_SECRET_KEY"); v != "" {
		s3Cfg.SecretKey = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		s3Cfg.Bucket = v
	}
	if os.Getenv("S3_USE_SSL") == "true" {
		s3Cfg.UseSSL = true
	}
	// Optional timeout overrides (e.g. S3_METADATA_TIMEOUT=15s, S3_DATA_TIMEOUT=120s).
	if v := os.Getenv("S3_METADATA_TIMEOUT"); v != "" {
		s3Cfg.MetadataTimeout, _ = time.ParseDuration(v)
	}
	if v := os.Getenv("S3_DATA_TIMEOUT"); v != "" {
		s3Cfg.DataTimeout, _ = time.ParseDuration(v)
	}

	s3Store, err := storage.NewS3StoreFromConfig(ctx, s3Cfg)
	if err != nil {
		slog.Error("failed to connect to S3", "error", err)
		os.Exit(1)
	}
	srv.Results = s3Store
	srv.S3Health = storage.NewHealthChecker(s3Store)
	slog.Info("s3 storage initialized", "endpoint", s3Cfg.Endpoint, "bucket", s3Cfg.Bucket)

	// Computation runner: bounded worker pool driving executions through
	// the aggregation engine.
	run := runner.New(executionStore, engine, s3Store, cfg.Runner.Workers, logger)
	srv.Runner = run
	stopRunner = func() { run.Shutdown() }
	slog.Info("runner initialized", "workers", cfg.Runner.Workers)

	// startBackgroundWorkers launches the scheduler and reaper. Called by
	// the leader elector when this replica wins the advisory lock.
	startBackgroundWorkers := func(ctx context.Context) func() {
		interval := time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
		sched := scheduler.New(scheduleStore, reportStore, executionStore, run, interval)
		sched.Start(ctx)
		slog.Info("scheduler started", "interval", interval)

		reap := reaper.New(executionStore, reportStore, cfg.Retention)
		reap.Start(ctx)
		slog.Info("reaper started")

		return func() {
			sched.Stop()
			slog.Info("scheduler stopped")
			reap.Stop()
			slog.Info("reaper stopped")
		}
	}

	// Background workers should only run on ONE replica to avoid duplicate
	// scheduled executions. Leader election via Postgres advisory lock: if
	// the leader dies, Postgres releases the lock and another replica takes
	// over.
	if schedulerEnabled {
		tryLock := func(ctx context.Context) (bool, error) {
			var acquired bool
			err := pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", leader.AdvisoryLockID).Scan(&acquired)
			return acquired, err
		}
		elector := leader.New(tryLock, leader.RetryInterval, startBackgroundWorkers)
		elector.Start(ctx)
		stopLeader = func() { elector.Stop() }
		slog.Info("leader election started (advisory lock)")
	} else {
		slog.Info("background workers disabled (SCHEDULER_ENABLED=false)")
	}

	warnDefaultCredentials()

	// Configurable CORS origins (comma-separated env overrides config).
	srv.CORSOrigins = cfg.Server.CORSOrigins
	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	router := api.NewRouter(srv)

	// Listen address: LATTICE_LISTEN_ADDR > PORT > config.
	addr := cfg.Server.Addr
	if listenAddr := os.Getenv("LATTICE_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	if strings.HasPrefix(addr, "0.0.0.0") && apiKey == "" {
		slog.Warn("listening on 0.0.0.0 without LATTICE_API_KEY — API is unauthenticated and accessible from the network")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting latticed", "addr", addr, "version", api.Version)

	// Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: drain HTTP connections (15s timeout).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: leader (stops scheduler/reaper) → runner → database pool.
	if stopLeader != nil {
		stopLeader()
		slog.Info("leader elector stopped")
	}
	if stopRunner != nil {
		stopRunner()
		slog.Info("runner stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("latticed shutdown complete")
}
