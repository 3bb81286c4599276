package monitor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/baseline"
	"github.com/pulsewatch/outage-engine/internal/detectors"
	"github.com/pulsewatch/outage-engine/internal/engine"
	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	changes []models.StatusChange
	alerts  []models.OutageAlert
}

func (s *recordingSink) StatusChange(_ context.Context, change models.StatusChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, change)
}

func (s *recordingSink) OutageAlert(_ context.Context, alert models.OutageAlert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *recordingSink) statusChanges() []models.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.StatusChange(nil), s.changes...)
}

func (s *recordingSink) outageAlerts() []models.OutageAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutageAlert(nil), s.alerts...)
}

type staticSignals struct {
	mu    sync.Mutex
	sig   detectors.Signals
	calls []string
}

func (s *staticSignals) Fetch(_ context.Context, serviceName string) detectors.Signals {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, serviceName)
	return s.sig
}

func newTestRunner(st store.Store, sink *recordingSink, signals SignalSource, ml *detectors.MLDetector) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := Deps{
		Logger:    logger,
		Store:     st,
		Baselines: baseline.NewCalculator(),
		ML:        ml,
		Fusion:    engine.NewFusion(2.0),
		Lifecycle: engine.NewLifecycleManager(logger, st, sink, 3.0, 2.0),
		Notifier:  sink,
	}
	if signals != nil {
		deps.Signals = signals
		deps.External = detectors.NewExternalAnalyzer(10, 5)
	}
	return NewRunner(deps, Options{
		AnomalyWindow:  15 * time.Minute,
		HealthTimeout:  2 * time.Second,
		CheckStaleness: 5 * time.Minute,
		Workers:        4,
	})
}

func mustUpsert(t *testing.T, st store.Store, svc models.Service) {
	t.Helper()
	if err := st.UpsertService(context.Background(), &svc); err != nil {
		t.Fatal(err)
	}
}

func addReports(t *testing.T, st store.Store, serviceID int64, at time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := st.InsertReport(context.Background(), &models.Report{
			ServiceID: serviceID,
			CreatedAt: at,
			IssueType: models.IssueOutage,
			Severity:  3,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestProbeStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		want models.ServiceStatus
	}{
		{"ok", http.StatusOK, models.StatusUp},
		{"server error", http.StatusInternalServerError, models.StatusDown},
		{"bad gateway", http.StatusBadGateway, models.StatusDown},
		{"unavailable", http.StatusServiceUnavailable, models.StatusDown},
		{"gateway timeout", http.StatusGatewayTimeout, models.StatusDown},
		{"not found", http.StatusNotFound, models.StatusIssues},
		{"rate limited", http.StatusTooManyRequests, models.StatusIssues},
	}

	r := newTestRunner(store.NewMemory(), &recordingSink{}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			status, _ := r.probe(context.Background(), srv.URL)
			if status != tt.want {
				t.Fatalf("probe(%d) = %q, want %q", tt.code, status, tt.want)
			}
		})
	}
}

func TestProbeUnreachableIsDown(t *testing.T) {
	r := newTestRunner(store.NewMemory(), &recordingSink{}, nil, nil)
	status, _ := r.probe(context.Background(), "http://127.0.0.1:1/health")
	if status != models.StatusDown {
		t.Fatalf("status = %q, want down", status)
	}
}

func TestHealthSweepRecordsAndNotifies(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	st := store.NewMemory()
	mustUpsert(t, st, models.Service{ID: 1, Name: "alpha", URL: healthy.URL, CurrentStatus: models.StatusUp, Active: true})
	mustUpsert(t, st, models.Service{ID: 2, Name: "beta", URL: broken.URL, CurrentStatus: models.StatusUp, Active: true})

	sink := &recordingSink{}
	r := newTestRunner(st, sink, nil, nil)
	r.HealthSweep(context.Background())

	alpha, err := st.GetService(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if alpha.CurrentStatus != models.StatusUp {
		t.Fatalf("alpha status = %q, want up", alpha.CurrentStatus)
	}
	if alpha.LastChecked.IsZero() {
		t.Fatal("alpha last_checked not recorded")
	}

	beta, err := st.GetService(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if beta.CurrentStatus != models.StatusDown {
		t.Fatalf("beta status = %q, want down", beta.CurrentStatus)
	}

	changes := sink.statusChanges()
	if len(changes) != 1 {
		t.Fatalf("status changes = %d, want 1", len(changes))
	}
	if changes[0].ServiceID != 2 || changes[0].New != models.StatusDown {
		t.Fatalf("unexpected change %+v", changes[0])
	}
}

func TestEvaluateOpensAndResolvesOutage(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	st := store.NewMemory()
	mustUpsert(t, st, models.Service{
		ID:             1,
		Name:           "alpha",
		CurrentStatus:  models.StatusUp,
		LastChecked:    base.Add(-time.Minute),
		ResponseTimeMs: 210,
		Active:         true,
	})

	// Steady background of 2 reports per 15-minute window, then a spike.
	for i := 1; i <= 11; i++ {
		addReports(t, st, 1, base.Add(-time.Duration(i)*15*time.Minute+time.Minute), 2)
	}
	addReports(t, st, 1, base.Add(-5*time.Minute), 30)

	sink := &recordingSink{}
	r := newTestRunner(st, sink, nil, nil)
	r.now = func() time.Time { return base }

	svc, err := st.GetService(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	outcome, err := r.Evaluate(ctx, svc)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Created {
		t.Fatalf("expected outage opened, got %+v", outcome)
	}
	if outcome.Event.Severity != models.OutageCritical {
		t.Fatalf("severity = %q, want critical", outcome.Event.Severity)
	}
	if len(sink.outageAlerts()) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sink.outageAlerts()))
	}

	// A critical ongoing outage blends into the stored status.
	svc, err = st.GetService(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if svc.CurrentStatus != models.StatusDown {
		t.Fatalf("blended status = %q, want down", svc.CurrentStatus)
	}

	// Re-evaluating while still anomalous must not open a second event.
	outcome, err = r.Evaluate(ctx, svc)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Created || !outcome.Updated {
		t.Fatalf("expected update of existing event, got %+v", outcome)
	}

	// Traffic returns to baseline: the event resolves.
	r.now = func() time.Time { return base.Add(4 * time.Hour) }
	outcome, err = r.Evaluate(ctx, svc)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Resolved {
		t.Fatalf("expected resolve, got %+v", outcome)
	}
	if outcome.Event.EndTime.IsZero() {
		t.Fatal("resolved event has no end time")
	}
}

func TestEvaluateConsultsExternalSignals(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	st := store.NewMemory()
	mustUpsert(t, st, models.Service{ID: 7, Name: "gamma", CurrentStatus: models.StatusUp, Active: true})
	addReports(t, st, 7, base.Add(-5*time.Minute), 30)

	signals := &staticSignals{sig: detectors.Signals{
		SocialMentions:  50,
		StatusDegraded:  true,
		VendorIncidents: 1,
	}}
	sink := &recordingSink{}
	r := newTestRunner(st, sink, signals, nil)
	r.now = func() time.Time { return base }

	svc, err := st.GetService(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	outcome, err := r.Evaluate(ctx, svc)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Created {
		t.Fatalf("expected outage opened, got %+v", outcome)
	}

	signals.mu.Lock()
	defer signals.mu.Unlock()
	if len(signals.calls) != 1 || signals.calls[0] != "gamma" {
		t.Fatalf("signal fetches = %v, want [gamma]", signals.calls)
	}
}

func TestRecomputeBaselinesPersistsAndTrains(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	st := store.NewMemory()
	mustUpsert(t, st, models.Service{ID: 1, Name: "alpha", CurrentStatus: models.StatusUp, Active: true})
	for i := 0; i < 30; i++ {
		addReports(t, st, 1, base.Add(-time.Duration(i+1)*time.Hour), 3)
	}

	ml := detectors.NewMLDetector(detectors.MLOptions{Enabled: true, MinSamples: 20, Trees: 25, Seed: 1})
	r := newTestRunner(st, &recordingSink{}, nil, ml)
	r.now = func() time.Time { return base }

	r.RecomputeBaselines(ctx)

	row, found, err := st.GetBaseline(ctx, 1, 9, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("baseline row missing after recompute")
	}
	if row.BaselineAvg <= 0 {
		t.Fatalf("baseline avg = %v, want positive", row.BaselineAvg)
	}
	if row.ThresholdMultiplier != 3.0 {
		t.Fatalf("multiplier = %v, want 3.0", row.ThresholdMultiplier)
	}
	if !ml.Trained(1) {
		t.Fatal("ML model not trained from history")
	}
}

func TestStatusWithOutage(t *testing.T) {
	tests := []struct {
		name     string
		observed models.ServiceStatus
		event    *models.OutageEvent
		want     models.ServiceStatus
	}{
		{"no event", models.StatusUp, nil, models.StatusUp},
		{"resolved event", models.StatusUp, &models.OutageEvent{Status: models.EventResolved, Severity: models.OutageCritical}, models.StatusUp},
		{"critical forces down", models.StatusUp, &models.OutageEvent{Status: models.EventOngoing, Severity: models.OutageCritical}, models.StatusDown},
		{"major lifts up to issues", models.StatusUp, &models.OutageEvent{Status: models.EventOngoing, Severity: models.OutageMajor}, models.StatusIssues},
		{"minor keeps observed down", models.StatusDown, &models.OutageEvent{Status: models.EventOngoing, Severity: models.OutageMinor}, models.StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusWithOutage(tt.observed, tt.event); got != tt.want {
				t.Fatalf("StatusWithOutage(%q) = %q, want %q", tt.observed, got, tt.want)
			}
		})
	}
}
