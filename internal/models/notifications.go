package models

import "time"

// StatusChange announces a service status transition to notification sinks.
type StatusChange struct {
	ServiceID int64         `json:"service_id"`
	Old       ServiceStatus `json:"old"`
	New       ServiceStatus `json:"new"`
	Timestamp time.Time     `json:"timestamp"`
}

// OutageAlert announces a detected or escalated outage.
type OutageAlert struct {
	ServiceID       int64          `json:"service_id"`
	Severity        OutageSeverity `json:"severity"`
	AffectedRegions []RegionCount  `json:"affected_regions"`
	ReportCount     int            `json:"report_count"`
	Threshold       float64        `json:"threshold"`
	Timestamp       time.Time      `json:"timestamp"`
}
