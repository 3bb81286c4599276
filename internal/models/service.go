package models

import "time"

// ServiceStatus enumerates the observable health states of a monitored service.
type ServiceStatus string

const (
	StatusUp     ServiceStatus = "up"
	StatusIssues ServiceStatus = "issues"
	StatusDown   ServiceStatus = "down"
)

// Service is a monitored online service and its current observed state.
// current state fields are mutated only by health checks and the lifecycle manager.
type Service struct {
	ID             int64
	Name           string
	URL            string
	CurrentStatus  ServiceStatus
	LastChecked    time.Time
	ResponseTimeMs int
	Active         bool
}

// Checked reports whether a health check result is fresh enough to trust,
// relative to now and the given staleness window.
func (s Service) Checked(now time.Time, within time.Duration) bool {
	if s.LastChecked.IsZero() {
		return false
	}
	return now.Sub(s.LastChecked) < within
}
