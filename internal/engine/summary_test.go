package engine

import (
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	events := []models.OutageEvent{
		{
			ID: "a", ServiceID: 1, Status: models.EventOngoing, Severity: models.OutageCritical,
			StartTime: now.Add(-30 * time.Minute), TotalReports: 40,
		},
		{
			ID: "b", ServiceID: 2, Status: models.EventResolved, Severity: models.OutageMinor,
			StartTime: now.Add(-4 * time.Hour), EndTime: now.Add(-3 * time.Hour), TotalReports: 10,
		},
		{
			ID: "c", ServiceID: 3, Status: models.EventResolved, Severity: models.OutageMajor,
			StartTime: now.Add(-2 * time.Hour), EndTime: now.Add(-90 * time.Minute), TotalReports: 25,
		},
		{
			// Outside the window, ignored entirely.
			ID: "d", ServiceID: 4, Status: models.EventResolved, Severity: models.OutageCritical,
			StartTime: now.Add(-48 * time.Hour), EndTime: now.Add(-47 * time.Hour), TotalReports: 99,
		},
	}

	s := Summarize(events, 24*time.Hour, now)
	if len(s.Active) != 1 || s.Active[0].ID != "a" {
		t.Fatalf("Active = %+v", s.Active)
	}
	if len(s.Resolved) != 2 {
		t.Fatalf("Resolved = %+v", s.Resolved)
	}
	// Newest first.
	if s.Resolved[0].ID != "c" || s.Resolved[1].ID != "b" {
		t.Fatalf("resolved order = %s,%s", s.Resolved[0].ID, s.Resolved[1].ID)
	}
	if s.TotalReports != 75 {
		t.Fatalf("TotalReports = %d, want 75", s.TotalReports)
	}
	if s.CountBySeverity[models.OutageCritical] != 1 || s.CountBySeverity[models.OutageMajor] != 1 || s.CountBySeverity[models.OutageMinor] != 1 {
		t.Fatalf("CountBySeverity = %+v", s.CountBySeverity)
	}
	// Durations 60 and 30 minutes.
	if s.AvgDurationMinutes != 45 {
		t.Fatalf("AvgDurationMinutes = %v, want 45", s.AvgDurationMinutes)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 24*time.Hour, time.Now())
	if len(s.Active) != 0 || len(s.Resolved) != 0 || s.AvgDurationMinutes != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
}
