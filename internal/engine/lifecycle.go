package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// EventStore abstracts outage-event persistence for the lifecycle manager.
type EventStore interface {
	OngoingEvent(ctx context.Context, serviceID int64) (*models.OutageEvent, error)
	CreateEvent(ctx context.Context, event *models.OutageEvent) error
	UpdateEvent(ctx context.Context, event *models.OutageEvent) error
}

// AlertSink receives outage alerts, fire and forget.
type AlertSink interface {
	OutageAlert(ctx context.Context, alert models.OutageAlert)
}

// Observation is one cycle's input for one service.
type Observation struct {
	ServiceID       int64
	Decision        models.FusedDecision
	RecentCount     int
	BaselineAvg     float64
	Multiplier      float64
	AffectedRegions []models.RegionCount
	Now             time.Time
}

// Outcome describes what the manager did with an observation.
type Outcome struct {
	Event    *models.OutageEvent
	Created  bool
	Updated  bool
	Resolved bool
}

// LifecycleManager drives the per-service outage state machine:
// NONE -> ONGOING on a fused anomaly, ONGOING -> NONE when the signal
// returns to the 15-minute-normalized baseline. The resolve level sits
// below the trigger threshold so the state cannot flap at the boundary.
type LifecycleManager struct {
	store         EventStore
	alerts        AlertSink
	logger        *slog.Logger
	criticalRatio float64
	majorRatio    float64

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewLifecycleManager constructs the manager; alerts may be nil.
func NewLifecycleManager(logger *slog.Logger, store EventStore, alerts AlertSink, criticalRatio, majorRatio float64) *LifecycleManager {
	if logger == nil {
		logger = slog.Default()
	}
	if criticalRatio <= 0 {
		criticalRatio = 3.0
	}
	if majorRatio <= 0 {
		majorRatio = 2.0
	}
	return &LifecycleManager{
		store:         store,
		alerts:        alerts,
		logger:        logger,
		criticalRatio: criticalRatio,
		majorRatio:    majorRatio,
		locks:         make(map[int64]*sync.Mutex),
	}
}

// Apply advances the service's state machine with one observation. The
// ongoing-event check and the resulting write are serialized per service so
// concurrent evaluation cannot open two ongoing events.
func (m *LifecycleManager) Apply(ctx context.Context, obs Observation) (Outcome, error) {
	lock := m.lockFor(obs.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	ongoing, err := m.store.OngoingEvent(ctx, obs.ServiceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load ongoing event: %w", err)
	}

	multiplier := obs.Multiplier
	if multiplier <= 0 {
		multiplier = 3.0
	}
	// baseline_avg is reports per hour; the evaluation window is 15 minutes.
	resolveLevel := obs.BaselineAvg / 4
	threshold := resolveLevel * multiplier

	switch {
	case ongoing == nil && obs.Decision.IsAnomaly:
		return m.open(ctx, obs, threshold)
	case ongoing != nil && obs.Decision.IsAnomaly:
		return m.update(ctx, obs, ongoing)
	case ongoing != nil && float64(obs.RecentCount) <= resolveLevel:
		return m.resolve(ctx, obs, ongoing)
	default:
		return Outcome{Event: ongoing}, nil
	}
}

func (m *LifecycleManager) open(ctx context.Context, obs Observation, threshold float64) (Outcome, error) {
	severity := m.ratioSeverity(float64(obs.RecentCount), threshold)
	event := &models.OutageEvent{
		ID:               uuid.NewString(),
		ServiceID:        obs.ServiceID,
		StartTime:        obs.Now,
		Status:           models.EventOngoing,
		Severity:         severity,
		PeakReports:      obs.RecentCount,
		TotalReports:     obs.RecentCount,
		TriggerThreshold: threshold,
		AffectedRegions:  obs.AffectedRegions,
	}
	if err := m.store.CreateEvent(ctx, event); err != nil {
		return Outcome{}, fmt.Errorf("create outage event: %w", err)
	}

	m.logger.Info("outage opened",
		slog.Int64("service_id", obs.ServiceID),
		slog.String("severity", string(severity)),
		slog.Int("recent_reports", obs.RecentCount),
		slog.Float64("threshold", threshold),
	)
	m.alert(ctx, obs, event)
	return Outcome{Event: event, Created: true}, nil
}

func (m *LifecycleManager) update(ctx context.Context, obs Observation, event *models.OutageEvent) (Outcome, error) {
	if obs.RecentCount > event.PeakReports {
		event.PeakReports = obs.RecentCount
	}
	event.TotalReports += obs.RecentCount
	if len(obs.AffectedRegions) > 0 {
		event.AffectedRegions = obs.AffectedRegions
	}

	// Escalation is rated against the original trigger threshold and never
	// de-escalates implicitly.
	proposed := m.ratioSeverity(float64(obs.RecentCount), event.TriggerThreshold)
	escalated := models.EscalateSeverity(event.Severity, proposed) != event.Severity
	event.Severity = models.EscalateSeverity(event.Severity, proposed)

	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return Outcome{}, fmt.Errorf("update outage event: %w", err)
	}
	if escalated {
		m.logger.Info("outage escalated",
			slog.Int64("service_id", obs.ServiceID),
			slog.String("severity", string(event.Severity)),
		)
		m.alert(ctx, obs, event)
	}
	return Outcome{Event: event, Updated: true}, nil
}

func (m *LifecycleManager) resolve(ctx context.Context, obs Observation, event *models.OutageEvent) (Outcome, error) {
	event.Status = models.EventResolved
	event.EndTime = obs.Now
	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return Outcome{}, fmt.Errorf("resolve outage event: %w", err)
	}

	m.logger.Info("outage resolved",
		slog.Int64("service_id", obs.ServiceID),
		slog.Int("duration_minutes", event.DurationMinutes(obs.Now)),
	)
	return Outcome{Event: event, Resolved: true}, nil
}

func (m *LifecycleManager) ratioSeverity(recent, threshold float64) models.OutageSeverity {
	if threshold <= 0 {
		return models.OutageMinor
	}
	ratio := recent / threshold
	switch {
	case ratio >= m.criticalRatio:
		return models.OutageCritical
	case ratio >= m.majorRatio:
		return models.OutageMajor
	default:
		return models.OutageMinor
	}
}

func (m *LifecycleManager) alert(ctx context.Context, obs Observation, event *models.OutageEvent) {
	if m.alerts == nil {
		return
	}
	m.alerts.OutageAlert(ctx, models.OutageAlert{
		ServiceID:       event.ServiceID,
		Severity:        event.Severity,
		AffectedRegions: event.AffectedRegions,
		ReportCount:     obs.RecentCount,
		Threshold:       event.TriggerThreshold,
		Timestamp:       obs.Now,
	})
}

func (m *LifecycleManager) lockFor(serviceID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[serviceID] = lock
	}
	return lock
}
