package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httpadapter "nexusradar/internal/adapters/http"
	"nexusradar/internal/adapters/memory"
	pg "nexusradar/internal/adapters/postgres"
	"nexusradar/internal/adapters/quickbooks"
	rediscache "nexusradar/internal/adapters/redis"
	"nexusradar/internal/config"
	"nexusradar/internal/domain"
	"nexusradar/internal/domain/rules"
	"nexusradar/internal/logger"
	"nexusradar/internal/metrics"
	"nexusradar/internal/ports"
	"nexusradar/internal/services/reports"
	"nexusradar/internal/workers/reportrunner"
)

type store interface {
	ports.ReportRepository
	ports.JobRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	var lg *zap.Logger
	if cfg.Log.Format == "" && cfg.Log.Output == "stdout" {
		// format follows the environment unless set explicitly
		lg, err = logger.NewForEnvironment(cfg.Env, cfg.Log.Level)
	} else {
		lg, err = logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	}
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, lg *zap.Logger) error {
	table := rules.Default()
	if cfg.RulesFile != "" {
		t, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return err
		}
		table = t
	}
	lg.Info("rule table loaded", zap.Int("rules", table.Len()), zap.String("file", cfg.RulesFile))

	var (
		repo   store
		cache  ports.ReportCache
		checks []httpadapter.Option
	)
	if cfg.DatabaseURL != "" {
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		repo = db
		checks = append(checks, httpadapter.WithHealthCheck("postgres", db.Health))
	} else {
		mem := memory.New()
		repo, cache = mem, mem
		lg.Warn("DATABASE_URL not set, using in-memory store")
	}

	rc, err := rediscache.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		cache = rediscache.NewReportCache(rc)
		checks = append(checks, httpadapter.WithHealthCheck("redis", rc.Health))
	}

	var source ports.TransactionSource
	if cfg.QBO.Enabled() {
		qb, err := quickbooks.New(quickbooks.Config{
			BaseURL:      cfg.QBO.BaseURL,
			AccessToken:  cfg.QBO.AccessToken,
			MinorVersion: cfg.QBO.MinorVersion,
			PageSize:     cfg.QBO.PageSize,
			Timeout:      cfg.QBO.Timeout,
		}, lg.Named("quickbooks"))
		if err != nil {
			return err
		}
		source = qb
	} else {
		lg.Warn("QuickBooks source not configured, report runs will fail")
	}

	basis, _ := domain.ParseBasis(cfg.DefaultBasis)
	preset, _ := domain.ParseRangePreset(cfg.DefaultRange)
	m := metrics.New(prometheus.DefaultRegisterer)
	opts := []reports.Option{
		reports.WithMetrics(m),
		reports.WithLogger(lg.Named("reports")),
		reports.WithDefaults(basis, preset),
	}
	if cache != nil {
		opts = append(opts, reports.WithCache(cache, cfg.ReportCacheTTL))
	}
	svc := reports.New(repo, source, table, opts...)

	srv := httpadapter.New(svc, table, repo, svc, append(checks,
		httpadapter.WithLogger(lg.Named("http")),
		httpadapter.WithGatherer(prometheus.DefaultGatherer),
	)...)
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- reportrunner.Run(ctx, repo, svc, cfg.ReportWorkers, cfg.WorkerPollInterval, lg.Named("worker"))
	}()
	if cfg.ReportWorkers > 0 {
		lg.Info("report workers started", zap.Int("workers", cfg.ReportWorkers))
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	lg.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))

	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	select {
	case err := <-workersDone:
		return err
	case <-shutdownCtx.Done():
		lg.Warn("workers did not stop in time")
		return nil
	}
}
