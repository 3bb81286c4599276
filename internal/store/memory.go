package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/utils"
)

type healthSample struct {
	at             time.Time
	responseTimeMs int
}

// Memory is an in-process Store. It backs tests and single-node runs where
// no PostgreSQL DSN is configured.
type Memory struct {
	mu        sync.RWMutex
	services  map[int64]*models.Service
	reports   map[int64][]models.Report
	health    map[int64][]healthSample
	baselines map[string]models.Baseline
	events    map[string]*models.OutageEvent
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		services:  make(map[int64]*models.Service),
		reports:   make(map[int64][]models.Report),
		health:    make(map[int64][]healthSample),
		baselines: make(map[string]models.Baseline),
		events:    make(map[string]*models.OutageEvent),
	}
}

func baselineKey(serviceID int64, hour, weekday int) string {
	return fmt.Sprintf("%d:%d:%d", serviceID, hour, weekday)
}

func (m *Memory) ListActiveServices(_ context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Service, 0, len(m.services))
	for _, svc := range m.services {
		if svc.Active {
			out = append(out, *svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetService(_ context.Context, serviceID int64) (models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return models.Service{}, fmt.Errorf("service %d not found", serviceID)
	}
	return *svc, nil
}

func (m *Memory) UpsertService(_ context.Context, svc *models.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *svc
	m.services[svc.ID] = &cp
	return nil
}

func (m *Memory) UpdateServiceHealth(_ context.Context, serviceID int64, status models.ServiceStatus, responseTimeMs int, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return fmt.Errorf("service %d not found", serviceID)
	}
	svc.CurrentStatus = status
	svc.ResponseTimeMs = responseTimeMs
	svc.LastChecked = checkedAt
	m.health[serviceID] = append(m.health[serviceID], healthSample{at: checkedAt, responseTimeMs: responseTimeMs})
	return nil
}

func (m *Memory) UpdateServiceStatus(_ context.Context, serviceID int64, status models.ServiceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return fmt.Errorf("service %d not found", serviceID)
	}
	svc.CurrentStatus = status
	return nil
}

func (m *Memory) InsertReport(_ context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.ServiceID] = append(m.reports[report.ServiceID], *report)
	return nil
}

func (m *Memory) CountReportsSince(_ context.Context, serviceID int64, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.reports[serviceID] {
		if !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) RecentWindowCounts(_ context.Context, serviceID int64, window time.Duration, buckets int, now time.Time) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make([]float64, buckets)
	start := now.Add(-time.Duration(buckets) * window)
	for _, r := range m.reports[serviceID] {
		if r.CreatedAt.Before(start) || r.CreatedAt.After(now) {
			continue
		}
		idx := int(r.CreatedAt.Sub(start) / window)
		if idx >= buckets {
			idx = buckets - 1
		}
		counts[idx]++
	}
	return counts, nil
}

func (m *Memory) RegionCounts(_ context.Context, serviceID int64, since time.Time, minReports int) ([]models.RegionCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := make(map[string]models.RegionCount)
	for _, r := range m.reports[serviceID] {
		if r.CreatedAt.Before(since) || r.Geo == nil || r.Geo.Country == "" {
			continue
		}
		key := r.Geo.Country + "|" + r.Geo.Region + "|" + r.Geo.City
		rc := agg[key]
		rc.Country, rc.Region, rc.City = r.Geo.Country, r.Geo.Region, r.Geo.City
		rc.Count++
		agg[key] = rc
	}

	out := make([]models.RegionCount, 0, len(agg))
	for _, rc := range agg {
		if rc.Count >= minReports {
			out = append(out, rc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (m *Memory) HourlyHistory(_ context.Context, serviceID int64, since, until time.Time) ([]models.HistoryPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hourAgg struct {
		reports     float64
		responseSum float64
		responseN   int
	}
	hours := make(map[time.Time]*hourAgg)
	bucket := func(t time.Time) *hourAgg {
		h := utils.TruncateHour(t)
		agg, ok := hours[h]
		if !ok {
			agg = &hourAgg{}
			hours[h] = agg
		}
		return agg
	}

	for _, r := range m.reports[serviceID] {
		if r.CreatedAt.Before(since) || r.CreatedAt.After(until) {
			continue
		}
		bucket(r.CreatedAt).reports++
	}
	for _, h := range m.health[serviceID] {
		if h.at.Before(since) || h.at.After(until) {
			continue
		}
		agg := bucket(h.at)
		agg.responseSum += float64(h.responseTimeMs)
		agg.responseN++
	}

	out := make([]models.HistoryPoint, 0, len(hours))
	for hour, agg := range hours {
		pt := models.HistoryPoint{Timestamp: hour, ReportCount: agg.reports}
		if agg.responseN > 0 {
			pt.ResponseTimeMs = agg.responseSum / float64(agg.responseN)
		}
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *Memory) GetBaseline(_ context.Context, serviceID int64, hour, weekday int) (models.Baseline, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[baselineKey(serviceID, hour, weekday)]
	return b, ok, nil
}

func (m *Memory) UpsertBaselines(_ context.Context, rows []models.Baseline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.baselines[baselineKey(row.ServiceID, row.HourOfDay, row.DayOfWeek)] = row
	}
	return nil
}

func (m *Memory) OngoingEvent(_ context.Context, serviceID int64) (*models.OutageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.events {
		if ev.ServiceID == serviceID && ev.Status == models.EventOngoing {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateEvent(_ context.Context, event *models.OutageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[event.ID]; exists {
		return fmt.Errorf("event %s already exists", event.ID)
	}
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *Memory) UpdateEvent(_ context.Context, event *models.OutageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[event.ID]; !exists {
		return fmt.Errorf("event %s not found", event.ID)
	}
	cp := *event
	m.events[event.ID] = &cp
	return nil
}

func (m *Memory) EventsSince(_ context.Context, since time.Time) ([]models.OutageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.OutageEvent, 0)
	for _, ev := range m.events {
		if !ev.StartTime.Before(since) {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
