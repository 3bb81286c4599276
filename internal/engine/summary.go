package engine

import (
	"sort"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Summary aggregates outage events over a lookback window.
type Summary struct {
	WindowStart        time.Time                     `json:"window_start"`
	Active             []models.OutageEvent          `json:"active"`
	Resolved           []models.OutageEvent          `json:"resolved"`
	CountBySeverity    map[models.OutageSeverity]int `json:"count_by_severity"`
	AvgDurationMinutes float64                       `json:"avg_duration_minutes"`
	TotalReports       int                           `json:"total_reports"`
}

// Summarize builds a summary from events whose start time falls inside the
// window ending at now. Events are returned newest first.
func Summarize(events []models.OutageEvent, window time.Duration, now time.Time) Summary {
	s := Summary{
		WindowStart:     now.Add(-window),
		CountBySeverity: make(map[models.OutageSeverity]int),
	}

	durationTotal := 0
	durationCount := 0
	for _, ev := range events {
		if ev.StartTime.Before(s.WindowStart) {
			continue
		}
		s.CountBySeverity[ev.Severity]++
		s.TotalReports += ev.TotalReports

		switch ev.Status {
		case models.EventOngoing:
			s.Active = append(s.Active, ev)
		case models.EventResolved:
			s.Resolved = append(s.Resolved, ev)
			durationTotal += ev.DurationMinutes(now)
			durationCount++
		}
	}

	if durationCount > 0 {
		s.AvgDurationMinutes = float64(durationTotal) / float64(durationCount)
	}

	newestFirst := func(events []models.OutageEvent) {
		sort.Slice(events, func(i, j int) bool {
			return events[i].StartTime.After(events[j].StartTime)
		})
	}
	newestFirst(s.Active)
	newestFirst(s.Resolved)
	return s
}
