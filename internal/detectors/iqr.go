package detectors

import (
	"math"
	"sort"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// iqrMinValues is the smallest window the quartile test is meaningful on.
const iqrMinValues = 4

// IQRDetector flags values falling outside the Tukey fences of a recent
// window: [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
type IQRDetector struct{}

// NewIQRDetector creates an interquartile-range outlier detector.
func NewIQRDetector() *IQRDetector {
	return &IQRDetector{}
}

// Detect tests current against the fences of the recent window. Fewer than
// four recent values yields a neutral result; thin data is not an error.
func (d *IQRDetector) Detect(current float64, recent []float64, ts time.Time) models.AnomalyResult {
	if len(recent) < iqrMinValues {
		return models.NeutralResult(models.MethodIQR, current, ts)
	}

	sorted := append([]float64(nil), recent...)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	res := models.AnomalyResult{
		Severity:      models.SeverityLow,
		Method:        models.MethodIQR,
		BaselineValue: percentile(sorted, 50),
		CurrentValue:  current,
		Timestamp:     ts,
	}

	var overshoot float64
	switch {
	case current > upper:
		overshoot = current - upper
		res.Threshold = upper
	case current < lower:
		overshoot = lower - current
		res.Threshold = lower
	default:
		res.Threshold = upper
		return res
	}

	res.IsAnomaly = true
	if iqr > 0 {
		res.Confidence = math.Min(overshoot/(2*iqr), 1.0)
	} else {
		res.Confidence = 1.0
	}
	res.Severity = iqrSeverity(overshoot, iqr)
	return res
}

func iqrSeverity(overshoot, iqr float64) models.Severity {
	switch {
	case overshoot > 3*iqr:
		return models.SeverityCritical
	case overshoot > 2*iqr:
		return models.SeverityHigh
	case overshoot > iqr:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// percentile computes the p-th percentile of sorted values using linear
// interpolation between the two nearest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
