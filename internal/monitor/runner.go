// Package monitor drives the detection cycles: periodic health sweeps,
// per-service anomaly evaluation, and baseline recomputation. Cycles are
// scheduled by the caller; the runner only executes them.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsewatch/outage-engine/internal/baseline"
	"github.com/pulsewatch/outage-engine/internal/cache"
	"github.com/pulsewatch/outage-engine/internal/detectors"
	"github.com/pulsewatch/outage-engine/internal/engine"
	"github.com/pulsewatch/outage-engine/internal/metrics"
	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/notify"
	"github.com/pulsewatch/outage-engine/internal/store"
	"github.com/pulsewatch/outage-engine/internal/utils"
)

// iqrWindowBuckets is how many trailing evaluation windows feed the IQR
// detector: 12 windows of 15 minutes cover the last three hours.
const iqrWindowBuckets = 12

// evalLockTTL bounds how long a per-service evaluation lock can outlive a
// crashed holder.
const evalLockTTL = time.Minute

// SignalSource supplies external corroboration signals for a service by
// name. Implementations must be best-effort and never block the cycle
// beyond their own timeout.
type SignalSource interface {
	Fetch(ctx context.Context, serviceName string) detectors.Signals
}

// Deps collects the collaborators a Runner needs. Store, Baselines, Fusion,
// and Lifecycle are required; ML, External, Signals, and Notifier are
// optional and disable their stage when nil.
type Deps struct {
	Logger    *slog.Logger
	Store     store.Store
	Baselines *baseline.Calculator
	ML        *detectors.MLDetector
	External  *detectors.ExternalAnalyzer
	Signals   SignalSource
	Fusion    *engine.Fusion
	Lifecycle *engine.LifecycleManager
	Notifier  notify.Sink
	Cache     cache.Provider
}

// Options carries the cycle tunables.
type Options struct {
	AnomalyWindow       time.Duration
	HealthTimeout       time.Duration
	CheckStaleness      time.Duration
	BaselineLookback    time.Duration
	Workers             int
	ThresholdMultiplier float64
	RegionMinReports    int
}

// Runner executes detection cycles over the active service set with a
// bounded worker pool. One failing service never aborts a cycle.
type Runner struct {
	logger    *slog.Logger
	store     store.Store
	baselines *baseline.Calculator
	reportZ   *detectors.ZScoreDetector
	responseZ *detectors.ZScoreDetector
	iqr       *detectors.IQRDetector
	ml        *detectors.MLDetector
	external  *detectors.ExternalAnalyzer
	signals   SignalSource
	fusion    *engine.Fusion
	lifecycle *engine.LifecycleManager
	notifier  notify.Sink
	cache     cache.Provider
	opts      Options

	healthClient *http.Client
	evalLatency  *utils.LatencyTracker
	now          func() time.Time
}

// NewRunner builds a runner, filling unset options with defaults.
func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogSink(deps.Logger)
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopProvider{}
	}
	if opts.AnomalyWindow <= 0 {
		opts.AnomalyWindow = 15 * time.Minute
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 10 * time.Second
	}
	if opts.CheckStaleness <= 0 {
		opts.CheckStaleness = 5 * time.Minute
	}
	if opts.BaselineLookback <= 0 {
		opts.BaselineLookback = 30 * 24 * time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.ThresholdMultiplier <= 0 {
		opts.ThresholdMultiplier = 3.0
	}
	if opts.RegionMinReports <= 0 {
		opts.RegionMinReports = 2
	}

	return &Runner{
		logger:       deps.Logger,
		store:        deps.Store,
		baselines:    deps.Baselines,
		reportZ:      detectors.NewZScoreDetector(models.MethodZScore),
		responseZ:    detectors.NewZScoreDetector(models.MethodResponseZScore),
		iqr:          detectors.NewIQRDetector(),
		ml:           deps.ML,
		external:     deps.External,
		signals:      deps.Signals,
		fusion:       deps.Fusion,
		lifecycle:    deps.Lifecycle,
		notifier:     deps.Notifier,
		cache:        deps.Cache,
		opts:         opts,
		healthClient: &http.Client{Timeout: opts.HealthTimeout},
		evalLatency:  utils.NewLatencyTracker(1024),
		now:          time.Now,
	}
}

// HealthSweep probes every active service once and records the observed
// status and response time. Status transitions are announced to the sink.
func (r *Runner) HealthSweep(ctx context.Context) {
	defer metrics.CycleRun("health")

	services, err := r.store.ListActiveServices(ctx)
	if err != nil {
		r.logger.Error("health sweep: list services failed", slog.Any("error", err))
		return
	}

	r.forEach(ctx, services, r.checkService)
	r.logger.Debug("health sweep complete", slog.Int("services", len(services)))
}

func (r *Runner) checkService(ctx context.Context, svc models.Service) {
	status, responseMs := r.probe(ctx, svc.URL)
	now := r.now()

	if err := r.store.UpdateServiceHealth(ctx, svc.ID, status, responseMs, now); err != nil {
		r.logger.Warn("health sweep: record failed",
			slog.Int64("service_id", svc.ID),
			slog.Any("error", err),
		)
		return
	}

	if status != svc.CurrentStatus {
		r.logger.Info("service status changed",
			slog.Int64("service_id", svc.ID),
			slog.String("old", string(svc.CurrentStatus)),
			slog.String("new", string(status)),
			slog.Int("response_ms", responseMs),
		)
		r.notifier.StatusChange(ctx, models.StatusChange{
			ServiceID: svc.ID,
			Old:       svc.CurrentStatus,
			New:       status,
			Timestamp: now,
		})
	}
}

// probe issues one GET against the service URL. 200 is up; gateway and
// server errors are down, as is any transport failure or timeout; every
// other response counts as degraded.
func (r *Runner) probe(ctx context.Context, rawURL string) (models.ServiceStatus, int) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.StatusDown, 0
	}

	start := time.Now()
	resp, err := r.healthClient.Do(req)
	elapsed := int(time.Since(start).Milliseconds())
	if err != nil {
		return models.StatusDown, elapsed
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusOK:
		return models.StatusUp, elapsed
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return models.StatusDown, elapsed
	default:
		return models.StatusIssues, elapsed
	}
}

// EvaluateAll runs one anomaly evaluation over every active service.
func (r *Runner) EvaluateAll(ctx context.Context) {
	defer metrics.CycleRun("anomaly")

	services, err := r.store.ListActiveServices(ctx)
	if err != nil {
		r.logger.Error("anomaly cycle: list services failed", slog.Any("error", err))
		return
	}

	var ongoing atomic.Int64
	r.forEach(ctx, services, func(ctx context.Context, svc models.Service) {
		start := time.Now()
		outcome, err := r.Evaluate(ctx, svc)
		elapsed := time.Since(start)
		r.evalLatency.Observe(elapsed)

		if err != nil {
			metrics.ObserveEvaluation(elapsed, metrics.OutcomeError)
			r.logger.Error("evaluation failed",
				slog.Int64("service_id", svc.ID),
				slog.Any("error", err),
			)
			return
		}
		metrics.ObserveEvaluation(elapsed, metrics.OutcomeSuccess)
		if outcome.Event != nil && outcome.Event.Status == models.EventOngoing {
			ongoing.Add(1)
		}
	})

	metrics.SetOngoingOutages(int(ongoing.Load()))
	r.logger.Info("anomaly cycle complete",
		slog.Int("services", len(services)),
		slog.Int64("ongoing_outages", ongoing.Load()),
		slog.Duration("p50", r.evalLatency.Percentile(50)),
		slog.Duration("p95", r.evalLatency.Percentile(95)),
	)
}

// Evaluate runs the full detector ensemble for one service and advances its
// outage state machine. The response-time detector only participates when
// the last health check is fresh; ML and external stages participate when
// configured.
func (r *Runner) Evaluate(ctx context.Context, svc models.Service) (engine.Outcome, error) {
	// The cache-backed lock keeps two engine instances from evaluating the
	// same service at once; a cache failure degrades to evaluating anyway.
	lockKey := fmt.Sprintf("evaluate:lock:%d", svc.ID)
	acquired, err := r.cache.SetNX(ctx, lockKey, []byte("1"), evalLockTTL)
	if err != nil {
		r.logger.Debug("evaluation lock unavailable", slog.Any("error", err))
	} else if !acquired {
		r.logger.Debug("evaluation already in progress", slog.Int64("service_id", svc.ID))
		return engine.Outcome{}, nil
	} else {
		defer func() {
			if err := r.cache.Del(context.WithoutCancel(ctx), lockKey); err != nil {
				r.logger.Debug("evaluation lock release failed", slog.Any("error", err))
			}
		}()
	}

	now := r.now()
	since := now.Add(-r.opts.AnomalyWindow)

	recent, err := r.store.CountReportsSince(ctx, svc.ID, since)
	if err != nil {
		return engine.Outcome{}, utils.NewAppError("monitor.evaluate", "count recent reports", err)
	}

	results := make([]models.AnomalyResult, 0, 5)

	reportStats := r.baselines.ReportStats(svc.ID, now)
	results = append(results, r.reportZ.Detect(float64(recent), reportStats, r.opts.ThresholdMultiplier, now))

	if svc.Checked(now, r.opts.CheckStaleness) {
		responseStats := r.baselines.ResponseStats(svc.ID, now)
		results = append(results, r.responseZ.Detect(float64(svc.ResponseTimeMs), responseStats, r.opts.ThresholdMultiplier, now))
	}

	windows, err := r.store.RecentWindowCounts(ctx, svc.ID, r.opts.AnomalyWindow, iqrWindowBuckets, now)
	if err != nil {
		return engine.Outcome{}, utils.NewAppError("monitor.evaluate", "load recent windows", err)
	}
	results = append(results, r.iqr.Detect(float64(recent), windows, now))

	if r.ml != nil {
		results = append(results, r.ml.Detect(svc.ID, float64(recent), float64(svc.ResponseTimeMs), now))
	}
	if r.signals != nil && r.external != nil {
		sig := r.signals.Fetch(ctx, svc.Name)
		results = append(results, r.external.Analyze(sig, now))
	}

	decision := r.fusion.Fuse(results, now)

	hour, weekday := utils.TimeBucket(now)
	row, found, err := r.store.GetBaseline(ctx, svc.ID, hour, weekday)
	if err != nil {
		return engine.Outcome{}, utils.NewAppError("monitor.evaluate", "load baseline", err)
	}
	baselineAvg := baseline.DefaultReportStats.Mean
	multiplier := r.opts.ThresholdMultiplier
	if found {
		baselineAvg = row.BaselineAvg
		if row.ThresholdMultiplier > 0 {
			multiplier = row.ThresholdMultiplier
		}
	}

	var regions []models.RegionCount
	if decision.IsAnomaly {
		regions, err = r.store.RegionCounts(ctx, svc.ID, since, r.opts.RegionMinReports)
		if err != nil {
			r.logger.Warn("region aggregation failed",
				slog.Int64("service_id", svc.ID),
				slog.Any("error", err),
			)
			regions = nil
		}
	}

	outcome, err := r.lifecycle.Apply(ctx, engine.Observation{
		ServiceID:       svc.ID,
		Decision:        decision,
		RecentCount:     recent,
		BaselineAvg:     baselineAvg,
		Multiplier:      multiplier,
		AffectedRegions: regions,
		Now:             now,
	})
	if err != nil {
		return engine.Outcome{}, utils.NewAppError("monitor.evaluate", "apply lifecycle", err)
	}

	if outcome.Created {
		metrics.OutageOpened(string(outcome.Event.Severity))
	}

	r.blendStatus(ctx, svc, outcome, now)
	return outcome, nil
}

// blendStatus folds an ongoing outage into the stored service status. The
// next health sweep restores the probe-observed status once the outage is
// resolved.
func (r *Runner) blendStatus(ctx context.Context, svc models.Service, outcome engine.Outcome, now time.Time) {
	effective := StatusWithOutage(svc.CurrentStatus, outcome.Event)
	if effective == svc.CurrentStatus {
		return
	}
	if err := r.store.UpdateServiceStatus(ctx, svc.ID, effective); err != nil {
		r.logger.Warn("status blend failed",
			slog.Int64("service_id", svc.ID),
			slog.Any("error", err),
		)
		return
	}
	r.notifier.StatusChange(ctx, models.StatusChange{
		ServiceID: svc.ID,
		Old:       svc.CurrentStatus,
		New:       effective,
		Timestamp: now,
	})
}

// RecomputeBaselines rebuilds every service's traffic profile from hourly
// history, persists the derived baseline rows, and retrains the ML models.
func (r *Runner) RecomputeBaselines(ctx context.Context) {
	defer metrics.CycleRun("baseline")

	services, err := r.store.ListActiveServices(ctx)
	if err != nil {
		r.logger.Error("baseline cycle: list services failed", slog.Any("error", err))
		return
	}

	now := r.now()
	since := now.Add(-r.opts.BaselineLookback)

	r.forEach(ctx, services, func(ctx context.Context, svc models.Service) {
		history, err := r.store.HourlyHistory(ctx, svc.ID, since, now)
		if err != nil {
			r.logger.Error("baseline recompute failed",
				slog.Int64("service_id", svc.ID),
				slog.Any("error", err),
			)
			return
		}

		rows := r.baselines.Recompute(svc.ID, history, r.opts.ThresholdMultiplier, now)
		if err := r.store.UpsertBaselines(ctx, rows); err != nil {
			r.logger.Error("baseline persist failed",
				slog.Int64("service_id", svc.ID),
				slog.Any("error", err),
			)
			return
		}

		if r.ml != nil {
			r.ml.Train(svc.ID, history)
		}
		r.logger.Debug("baseline recomputed",
			slog.Int64("service_id", svc.ID),
			slog.Int("history_points", len(history)),
		)
	})
	r.logger.Info("baseline cycle complete", slog.Int("services", len(services)))
}

// forEach applies fn to every service through a pool of at most
// opts.Workers goroutines. A cancelled context stops admitting new work but
// waits for in-flight work.
func (r *Runner) forEach(ctx context.Context, services []models.Service, fn func(context.Context, models.Service)) {
	sem := make(chan struct{}, r.opts.Workers)
	var wg sync.WaitGroup

	for _, svc := range services {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(svc models.Service) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, svc)
		}(svc)
	}
	wg.Wait()
}
