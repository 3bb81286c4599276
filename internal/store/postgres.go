package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Postgres implements Store on PostgreSQL through database/sql with the pgx
// driver.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, verifies the connection, and ensures the schema
// exists. A connection failure here is the one fatal startup error.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int, connMaxLifetime time.Duration) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			current_status TEXT NOT NULL DEFAULT 'up',
			last_checked TIMESTAMPTZ,
			response_time_ms INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id UUID PRIMARY KEY,
			service_id BIGINT NOT NULL REFERENCES services(id),
			created_at TIMESTAMPTZ NOT NULL,
			country TEXT, region TEXT, city TEXT,
			latitude DOUBLE PRECISION, longitude DOUBLE PRECISION,
			description TEXT NOT NULL DEFAULT '',
			issue_type TEXT NOT NULL DEFAULT 'general',
			severity INTEGER NOT NULL DEFAULT 1,
			source_ip TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS reports_service_created_idx ON reports (service_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS health_samples (
			service_id BIGINT NOT NULL REFERENCES services(id),
			checked_at TIMESTAMPTZ NOT NULL,
			response_time_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS health_samples_idx ON health_samples (service_id, checked_at)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			service_id BIGINT NOT NULL REFERENCES services(id),
			hour_of_day INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			baseline_avg DOUBLE PRECISION NOT NULL,
			threshold_multiplier DOUBLE PRECISION NOT NULL DEFAULT 3.0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (service_id, hour_of_day, day_of_week)
		)`,
		`CREATE TABLE IF NOT EXISTS outage_events (
			id UUID PRIMARY KEY,
			service_id BIGINT NOT NULL REFERENCES services(id),
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			peak_reports INTEGER NOT NULL DEFAULT 0,
			total_reports INTEGER NOT NULL DEFAULT 0,
			trigger_threshold DOUBLE PRECISION NOT NULL DEFAULT 0,
			affected_regions JSONB NOT NULL DEFAULT '[]'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS outage_events_single_ongoing_idx
			ON outage_events (service_id) WHERE status = 'ongoing'`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// nullTime maps Go's zero time to SQL NULL and back.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (p *Postgres) ListActiveServices(ctx context.Context) ([]models.Service, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, url, current_status, last_checked, response_time_ms, active
		FROM services WHERE active = TRUE ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		var checked sql.NullTime
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.URL, &svc.CurrentStatus, &checked, &svc.ResponseTimeMs, &svc.Active); err != nil {
			return nil, err
		}
		svc.LastChecked = checked.Time
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (p *Postgres) GetService(ctx context.Context, serviceID int64) (models.Service, error) {
	var svc models.Service
	var checked sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, url, current_status, last_checked, response_time_ms, active
		FROM services WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.Name, &svc.URL, &svc.CurrentStatus, &checked, &svc.ResponseTimeMs, &svc.Active)
	if err != nil {
		return models.Service{}, err
	}
	svc.LastChecked = checked.Time
	return svc, nil
}

func (p *Postgres) UpsertService(ctx context.Context, svc *models.Service) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO services (id, name, url, current_status, response_time_ms, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, url = EXCLUDED.url, active = EXCLUDED.active
	`, svc.ID, svc.Name, svc.URL, svc.CurrentStatus, svc.ResponseTimeMs, svc.Active)
	return err
}

func (p *Postgres) UpdateServiceHealth(ctx context.Context, serviceID int64, status models.ServiceStatus, responseTimeMs int, checkedAt time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE services SET current_status = $2, response_time_ms = $3, last_checked = $4 WHERE id = $1
	`, serviceID, status, responseTimeMs, checkedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO health_samples (service_id, checked_at, response_time_ms) VALUES ($1, $2, $3)
	`, serviceID, checkedAt, responseTimeMs); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) UpdateServiceStatus(ctx context.Context, serviceID int64, status models.ServiceStatus) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE services SET current_status = $2 WHERE id = $1
	`, serviceID, status)
	return err
}

func (p *Postgres) InsertReport(ctx context.Context, report *models.Report) error {
	var country, region, city *string
	var lat, lon *float64
	if report.Geo != nil {
		country, region, city = &report.Geo.Country, &report.Geo.Region, &report.Geo.City
		lat, lon = &report.Geo.Latitude, &report.Geo.Longitude
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reports (id, service_id, created_at, country, region, city, latitude, longitude, description, issue_type, severity, source_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, report.ID, report.ServiceID, report.CreatedAt, country, region, city, lat, lon,
		report.Description, report.IssueType, report.Severity, report.SourceIP)
	return err
}

func (p *Postgres) CountReportsSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reports WHERE service_id = $1 AND created_at >= $2
	`, serviceID, since).Scan(&count)
	return count, err
}

func (p *Postgres) RecentWindowCounts(ctx context.Context, serviceID int64, window time.Duration, buckets int, now time.Time) ([]float64, error) {
	start := now.Add(-time.Duration(buckets) * window)
	rows, err := p.db.QueryContext(ctx, `
		SELECT FLOOR(EXTRACT(EPOCH FROM (created_at - $2)) / $3)::int AS bucket, COUNT(*)
		FROM reports
		WHERE service_id = $1 AND created_at >= $2 AND created_at <= $4
		GROUP BY bucket
	`, serviceID, start, window.Seconds(), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]float64, buckets)
	for rows.Next() {
		var bucket, n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		if bucket < 0 {
			continue
		}
		if bucket >= buckets {
			bucket = buckets - 1
		}
		counts[bucket] += float64(n)
	}
	return counts, rows.Err()
}

func (p *Postgres) RegionCounts(ctx context.Context, serviceID int64, since time.Time, minReports int) ([]models.RegionCount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT country, COALESCE(region, ''), COALESCE(city, ''), COUNT(*) AS n
		FROM reports
		WHERE service_id = $1 AND created_at >= $2 AND country IS NOT NULL AND country <> ''
		GROUP BY country, region, city
		HAVING COUNT(*) >= $3
		ORDER BY n DESC
	`, serviceID, since, minReports)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []models.RegionCount
	for rows.Next() {
		var rc models.RegionCount
		if err := rows.Scan(&rc.Country, &rc.Region, &rc.City, &rc.Count); err != nil {
			return nil, err
		}
		regions = append(regions, rc)
	}
	return regions, rows.Err()
}

func (p *Postgres) HourlyHistory(ctx context.Context, serviceID int64, since, until time.Time) ([]models.HistoryPoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		WITH report_hours AS (
			SELECT date_trunc('hour', created_at) AS hour, COUNT(*)::float8 AS reports
			FROM reports WHERE service_id = $1 AND created_at BETWEEN $2 AND $3
			GROUP BY 1
		), health_hours AS (
			SELECT date_trunc('hour', checked_at) AS hour, AVG(response_time_ms)::float8 AS response
			FROM health_samples WHERE service_id = $1 AND checked_at BETWEEN $2 AND $3
			GROUP BY 1
		)
		SELECT COALESCE(r.hour, h.hour) AS hour,
		       COALESCE(r.reports, 0),
		       COALESCE(h.response, 0)
		FROM report_hours r
		FULL OUTER JOIN health_hours h ON r.hour = h.hour
		ORDER BY hour
	`, serviceID, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []models.HistoryPoint
	for rows.Next() {
		var pt models.HistoryPoint
		if err := rows.Scan(&pt.Timestamp, &pt.ReportCount, &pt.ResponseTimeMs); err != nil {
			return nil, err
		}
		history = append(history, pt)
	}
	return history, rows.Err()
}

func (p *Postgres) GetBaseline(ctx context.Context, serviceID int64, hour, weekday int) (models.Baseline, bool, error) {
	var b models.Baseline
	err := p.db.QueryRowContext(ctx, `
		SELECT service_id, hour_of_day, day_of_week, baseline_avg, threshold_multiplier, updated_at
		FROM baselines WHERE service_id = $1 AND hour_of_day = $2 AND day_of_week = $3
	`, serviceID, hour, weekday).Scan(&b.ServiceID, &b.HourOfDay, &b.DayOfWeek, &b.BaselineAvg, &b.ThresholdMultiplier, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Baseline{}, false, nil
	}
	if err != nil {
		return models.Baseline{}, false, err
	}
	return b, true, nil
}

func (p *Postgres) UpsertBaselines(ctx context.Context, rows []models.Baseline) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO baselines (service_id, hour_of_day, day_of_week, baseline_avg, threshold_multiplier, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (service_id, hour_of_day, day_of_week)
		DO UPDATE SET baseline_avg = EXCLUDED.baseline_avg,
		              threshold_multiplier = EXCLUDED.threshold_multiplier,
		              updated_at = EXCLUDED.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.ServiceID, row.HourOfDay, row.DayOfWeek, row.BaselineAvg, row.ThresholdMultiplier, row.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) OngoingEvent(ctx context.Context, serviceID int64) (*models.OutageEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, service_id, start_time, end_time, status, severity,
		       peak_reports, total_reports, trigger_threshold, affected_regions
		FROM outage_events WHERE service_id = $1 AND status = 'ongoing'
	`, serviceID)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (p *Postgres) CreateEvent(ctx context.Context, event *models.OutageEvent) error {
	regions, err := json.Marshal(event.AffectedRegions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO outage_events (id, service_id, start_time, end_time, status, severity, peak_reports, total_reports, trigger_threshold, affected_regions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.ID, event.ServiceID, event.StartTime, nullTime(event.EndTime), event.Status, event.Severity,
		event.PeakReports, event.TotalReports, event.TriggerThreshold, regions)
	return err
}

func (p *Postgres) UpdateEvent(ctx context.Context, event *models.OutageEvent) error {
	regions, err := json.Marshal(event.AffectedRegions)
	if err != nil {
		return fmt.Errorf("marshal regions: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE outage_events
		SET end_time = $2, status = $3, severity = $4,
		    peak_reports = $5, total_reports = $6, affected_regions = $7
		WHERE id = $1
	`, event.ID, nullTime(event.EndTime), event.Status, event.Severity, event.PeakReports, event.TotalReports, regions)
	return err
}

func (p *Postgres) EventsSince(ctx context.Context, since time.Time) ([]models.OutageEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, service_id, start_time, end_time, status, severity,
		       peak_reports, total_reports, trigger_threshold, affected_regions
		FROM outage_events WHERE start_time >= $1 ORDER BY start_time
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.OutageEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.OutageEvent, error) {
	var event models.OutageEvent
	var regions []byte
	var endTime sql.NullTime
	if err := row.Scan(&event.ID, &event.ServiceID, &event.StartTime, &endTime, &event.Status,
		&event.Severity, &event.PeakReports, &event.TotalReports, &event.TriggerThreshold, &regions); err != nil {
		return nil, err
	}
	event.EndTime = endTime.Time
	if len(regions) > 0 {
		if err := json.Unmarshal(regions, &event.AffectedRegions); err != nil {
			return nil, fmt.Errorf("unmarshal regions: %w", err)
		}
	}
	return &event, nil
}

func (p *Postgres) Close() error { return p.db.Close() }
