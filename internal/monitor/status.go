package monitor

import "github.com/pulsewatch/outage-engine/internal/models"

// StatusWithOutage blends an ongoing outage into the probe-observed status.
// A critical outage forces down; any other ongoing outage lifts an
// otherwise-green status to issues. Probe-observed degradation is never
// weakened.
func StatusWithOutage(observed models.ServiceStatus, event *models.OutageEvent) models.ServiceStatus {
	if event == nil || event.Status != models.EventOngoing {
		return observed
	}
	if event.Severity == models.OutageCritical {
		return models.StatusDown
	}
	if observed == models.StatusUp {
		return models.StatusIssues
	}
	return observed
}
