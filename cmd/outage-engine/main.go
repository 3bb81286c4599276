package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/pulsewatch/outage-engine/internal/baseline"
	"github.com/pulsewatch/outage-engine/internal/cache"
	"github.com/pulsewatch/outage-engine/internal/config"
	"github.com/pulsewatch/outage-engine/internal/detectors"
	"github.com/pulsewatch/outage-engine/internal/engine"
	"github.com/pulsewatch/outage-engine/internal/external"
	"github.com/pulsewatch/outage-engine/internal/ingest"
	"github.com/pulsewatch/outage-engine/internal/metrics"
	"github.com/pulsewatch/outage-engine/internal/monitor"
	"github.com/pulsewatch/outage-engine/internal/notify"
	"github.com/pulsewatch/outage-engine/internal/store"
	"github.com/pulsewatch/outage-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting outage-engine", slog.String("metrics_address", cfg.Server.MetricsAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var st store.Store
	if cfg.Database.DSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemory()
		logger.Warn("no database DSN configured, using in-memory store")
	}
	defer st.Close()

	var sink notify.Sink = notify.NewLogSink(logger)
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhookSink(logger, cfg.Notify.WebhookURL, cfg.Notify.Timeout)
	}

	var ml *detectors.MLDetector
	if cfg.ML.Enabled {
		ml = detectors.NewMLDetector(detectors.MLOptions{
			Enabled:       true,
			MinSamples:    cfg.ML.MinSamples,
			Contamination: cfg.ML.Contamination,
			Trees:         cfg.ML.Trees,
			Seed:          cfg.ML.Seed,
		})
	}

	var signals monitor.SignalSource
	var analyzer *detectors.ExternalAnalyzer
	if cfg.External.Enabled {
		signals = external.NewClient(logger, external.Options{
			MentionsBaseURL:   cfg.External.MentionsBaseURL,
			ForumBaseURL:      cfg.External.ForumBaseURL,
			StatusPageBaseURL: cfg.External.StatusPageBaseURL,
			IncidentFeedURL:   cfg.External.IncidentFeedURL,
			Timeout:           cfg.External.Timeout,
			CacheTTL:          cfg.External.CacheTTL,
		}, cacheProvider)
		analyzer = detectors.NewExternalAnalyzer(cfg.External.MentionThreshold, cfg.External.ForumThreshold)
	}

	runner := monitor.NewRunner(monitor.Deps{
		Logger:    logger,
		Store:     st,
		Baselines: baseline.NewCalculator(),
		ML:        ml,
		External:  analyzer,
		Signals:   signals,
		Fusion:    engine.NewFusion(cfg.Detection.MLWeight),
		Lifecycle: engine.NewLifecycleManager(logger, st, sink, cfg.Detection.CriticalRatio, cfg.Detection.MajorRatio),
		Notifier:  sink,
		Cache:     cacheProvider,
	}, monitor.Options{
		AnomalyWindow:       cfg.Monitor.AnomalyWindow,
		HealthTimeout:       cfg.Monitor.HealthTimeout,
		CheckStaleness:      cfg.Monitor.CheckStaleness,
		BaselineLookback:    cfg.Monitor.BaselineLookback,
		Workers:             cfg.Monitor.Workers,
		ThresholdMultiplier: cfg.Detection.ThresholdMultiplier,
		RegionMinReports:    cfg.Detection.RegionMinReports,
	})

	// Baselines and ML models are rebuilt once at boot so the first anomaly
	// cycle does not run on cold defaults.
	runner.RecomputeBaselines(ctx)

	scheduler := cron.New()
	schedule := func(name, expr string, job func(context.Context)) {
		if _, err := scheduler.AddFunc(expr, func() { job(ctx) }); err != nil {
			logger.Error("failed to schedule job",
				slog.String("job", name),
				slog.String("schedule", expr),
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}
	schedule("health_sweep", cfg.Monitor.HealthSweepSchedule, runner.HealthSweep)
	schedule("anomaly_evaluation", cfg.Monitor.AnomalySchedule, runner.EvaluateAll)
	schedule("baseline_recompute", cfg.Monitor.BaselineSchedule, runner.RecomputeBaselines)
	scheduler.Start()

	processor := ingest.NewProcessor(logger, st, cacheProvider, cfg.Cache.ThrottleWindow, cfg.Cache.ThrottleLimit)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/reports", ingest.NewHandler(logger, processor))
	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		const window = 24 * time.Hour
		events, err := st.EventsSince(r.Context(), time.Now().Add(-window))
		if err != nil {
			logger.Error("summary query failed", slog.Any("error", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.Summarize(events, window, time.Now()))
	})
	server := &http.Server{
		Addr:         cfg.Server.MetricsAddress,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.MetricsAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	cronCtx := scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached with jobs still running")
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("outage-engine stopped")
}
