// Package store provides persistence for services, reports, baselines,
// and outage events. A PostgreSQL implementation backs production; an
// in-memory implementation backs tests and single-node deployments.
package store

import (
	"context"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Store is the persistence surface of the detection engine. All methods
// take a context; implementations must honour its deadline.
type Store interface {
	// Services.
	ListActiveServices(ctx context.Context) ([]models.Service, error)
	GetService(ctx context.Context, serviceID int64) (models.Service, error)
	UpsertService(ctx context.Context, svc *models.Service) error
	UpdateServiceHealth(ctx context.Context, serviceID int64, status models.ServiceStatus, responseTimeMs int, checkedAt time.Time) error
	// UpdateServiceStatus changes the observed status without recording a
	// health sample (used when an outage blends into the status).
	UpdateServiceStatus(ctx context.Context, serviceID int64, status models.ServiceStatus) error

	// Reports.
	InsertReport(ctx context.Context, report *models.Report) error
	CountReportsSince(ctx context.Context, serviceID int64, since time.Time) (int, error)
	// RecentWindowCounts returns report counts for the last `buckets`
	// consecutive windows of the given width ending at now, oldest first.
	RecentWindowCounts(ctx context.Context, serviceID int64, window time.Duration, buckets int, now time.Time) ([]float64, error)
	RegionCounts(ctx context.Context, serviceID int64, since time.Time, minReports int) ([]models.RegionCount, error)
	// HourlyHistory returns per-hour report counts and mean response times
	// between since and until, oldest first. Hours without traffic are
	// omitted.
	HourlyHistory(ctx context.Context, serviceID int64, since, until time.Time) ([]models.HistoryPoint, error)

	// Baselines.
	GetBaseline(ctx context.Context, serviceID int64, hour, weekday int) (models.Baseline, bool, error)
	UpsertBaselines(ctx context.Context, rows []models.Baseline) error

	// Outage events.
	OngoingEvent(ctx context.Context, serviceID int64) (*models.OutageEvent, error)
	CreateEvent(ctx context.Context, event *models.OutageEvent) error
	UpdateEvent(ctx context.Context, event *models.OutageEvent) error
	EventsSince(ctx context.Context, since time.Time) ([]models.OutageEvent, error)

	Close() error
}
