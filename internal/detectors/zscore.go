package detectors

import (
	"math"
	"time"

	"github.com/pulsewatch/outage-engine/internal/baseline"
	"github.com/pulsewatch/outage-engine/internal/models"
)

// ZScoreDetector flags values deviating from a baseline by more than
// multiplier standard deviations. The same detector serves report counts
// and response times; the method name distinguishes the two in results.
type ZScoreDetector struct {
	method string
}

// NewZScoreDetector creates a detector reporting under the given method name.
func NewZScoreDetector(method string) *ZScoreDetector {
	return &ZScoreDetector{method: method}
}

// Detect scores current against the baseline. The std is floored at 1 so a
// degenerate baseline cannot make every value anomalous.
func (d *ZScoreDetector) Detect(current float64, base baseline.Stats, multiplier float64, ts time.Time) models.AnomalyResult {
	if multiplier <= 0 {
		multiplier = 3.0
	}

	std := math.Max(base.Std, 1)
	score := math.Abs(current-base.Mean) / std

	res := models.AnomalyResult{
		Severity:      models.SeverityLow,
		Method:        d.method,
		BaselineValue: base.Mean,
		CurrentValue:  current,
		Threshold:     multiplier,
		Timestamp:     ts,
	}
	if score > multiplier {
		res.IsAnomaly = true
		res.Confidence = math.Min(score/multiplier, 1.0)
		res.Severity = zScoreSeverity(score, multiplier)
	}
	return res
}

func zScoreSeverity(score, threshold float64) models.Severity {
	switch {
	case score > 2*threshold:
		return models.SeverityCritical
	case score > 1.5*threshold:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
