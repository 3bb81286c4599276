package models

import "time"

// IssueType classifies what a report complains about.
type IssueType string

const (
	IssueConnection  IssueType = "connection"
	IssuePerformance IssueType = "performance"
	IssueOutage      IssueType = "outage"
	IssueFeature     IssueType = "feature"
	IssueGeneral     IssueType = "general"
)

// GeoInfo carries the optional geolocation attached to a report.
type GeoInfo struct {
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// Report is an atomic user-submitted or automated signal. Reports are
// append-only and never mutated after creation.
type Report struct {
	ID          string
	ServiceID   int64
	CreatedAt   time.Time
	Geo         *GeoInfo
	Description string
	IssueType   IssueType
	Severity    int // 1-5
	SourceIP    string
}

// RegionCount is an aggregate of recent reports grouped by location.
type RegionCount struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Count   int    `json:"count"`
}

// Name renders the human-readable region label.
func (r RegionCount) Name() string {
	if r.City != "" {
		return r.City + ", " + r.Region + ", " + r.Country
	}
	return r.Region + ", " + r.Country
}

// HistoryPoint is one hourly sample of a service's traffic history, used by
// baseline recomputation and ML training.
type HistoryPoint struct {
	Timestamp      time.Time
	ReportCount    float64
	ResponseTimeMs float64
}
