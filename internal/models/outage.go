package models

import "time"

// EventStatus enumerates outage event lifecycle states.
type EventStatus string

const (
	EventOngoing       EventStatus = "ongoing"
	EventResolved      EventStatus = "resolved"
	EventFalsePositive EventStatus = "false_positive"
)

// OutageSeverity grades the impact of an outage event.
type OutageSeverity string

const (
	OutageMinor    OutageSeverity = "minor"
	OutageMajor    OutageSeverity = "major"
	OutageCritical OutageSeverity = "critical"
)

// Baseline holds the expected report volume for one (service, hour, weekday)
// bucket. Exactly one row exists per tuple; missing buckets use defaults.
type Baseline struct {
	ServiceID           int64
	HourOfDay           int // 0-23
	DayOfWeek           int // 0-6, Monday=0
	BaselineAvg         float64
	ThresholdMultiplier float64
	UpdatedAt           time.Time
}

// OutageEvent represents one continuous incident for a service. At most one
// ongoing event exists per service at any time.
type OutageEvent struct {
	ID               string         `json:"id"`
	ServiceID        int64          `json:"service_id"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          time.Time      `json:"end_time,omitempty"`
	Status           EventStatus    `json:"status"`
	Severity         OutageSeverity `json:"severity"`
	PeakReports      int            `json:"peak_reports"`
	TotalReports     int            `json:"total_reports"`
	TriggerThreshold float64        `json:"trigger_threshold"`
	AffectedRegions  []RegionCount  `json:"affected_regions,omitempty"`
}

// DurationMinutes returns the event duration in whole minutes; for ongoing
// events the duration is measured up to now.
func (e OutageEvent) DurationMinutes(now time.Time) int {
	end := e.EndTime
	if end.IsZero() {
		end = now
	}
	return int(end.Sub(e.StartTime).Minutes())
}

// EscalateSeverity orders outage severities for escalate-only updates.
func EscalateSeverity(current, proposed OutageSeverity) OutageSeverity {
	rank := map[OutageSeverity]int{OutageMinor: 0, OutageMajor: 1, OutageCritical: 2}
	if rank[proposed] > rank[current] {
		return proposed
	}
	return current
}
