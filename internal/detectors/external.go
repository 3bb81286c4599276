package detectors

import (
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Per-source confidence weights applied when an indicator triggers.
const (
	weightSocialMentions = 0.8
	weightForumMentions  = 0.7
	weightStatusPage     = 0.9
	weightVendorFeed     = 0.8
)

// Signals bundles the best-effort observations fetched from external
// corroboration sources. A source that failed or was not polled simply
// leaves its field at the zero value and contributes no indicator.
type Signals struct {
	SocialMentions  int
	ForumMentions   int
	StatusDegraded  bool
	VendorIncidents int
}

// ExternalAnalyzer converts external signals into one detector result.
// A single triggered indicator contributes confidence but is not enough
// for an anomaly on its own; corroboration needs at least two.
type ExternalAnalyzer struct {
	mentionThreshold int
	forumThreshold   int
}

// NewExternalAnalyzer creates the analyzer with per-source trigger counts.
func NewExternalAnalyzer(mentionThreshold, forumThreshold int) *ExternalAnalyzer {
	if mentionThreshold <= 0 {
		mentionThreshold = 10
	}
	if forumThreshold <= 0 {
		forumThreshold = 5
	}
	return &ExternalAnalyzer{mentionThreshold: mentionThreshold, forumThreshold: forumThreshold}
}

// Analyze evaluates the indicator set. Confidence is the mean weight of the
// triggered indicators, zero when none triggered.
func (a *ExternalAnalyzer) Analyze(sig Signals, ts time.Time) models.AnomalyResult {
	triggered := 0
	weightSum := 0.0

	if sig.SocialMentions > a.mentionThreshold {
		triggered++
		weightSum += weightSocialMentions
	}
	if sig.ForumMentions > a.forumThreshold {
		triggered++
		weightSum += weightForumMentions
	}
	if sig.StatusDegraded {
		triggered++
		weightSum += weightStatusPage
	}
	if sig.VendorIncidents > 0 {
		triggered++
		weightSum += weightVendorFeed
	}

	res := models.AnomalyResult{
		Severity:     models.SeverityLow,
		Method:       models.MethodExternal,
		CurrentValue: float64(triggered),
		Threshold:    2,
		Timestamp:    ts,
	}
	if triggered > 0 {
		res.Confidence = weightSum / float64(triggered)
	}
	if triggered >= 2 {
		res.IsAnomaly = true
		if triggered >= 3 {
			res.Severity = models.SeverityHigh
		} else {
			res.Severity = models.SeverityMedium
		}
	}
	return res
}
