package engine

import (
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Fusion combines heterogeneous detector results into one verdict via
// majority vote with weighted confidence. The ensemble is deliberately
// OR-biased: missed outages cost more than a false positive that the next
// cycle corrects.
type Fusion struct {
	mlWeight float64
}

// NewFusion creates a fusion stage; mlWeight scales the contribution of
// ML-derived results (default 2x).
func NewFusion(mlWeight float64) *Fusion {
	if mlWeight <= 0 {
		mlWeight = 2.0
	}
	return &Fusion{mlWeight: mlWeight}
}

// Fuse reduces the detector results to a single decision. An empty input
// yields a non-anomalous decision with zero confidence.
func (f *Fusion) Fuse(results []models.AnomalyResult, ts time.Time) models.FusedDecision {
	dec := models.FusedDecision{
		Severity:  models.SeverityLow,
		Total:     len(results),
		Results:   results,
		Timestamp: ts,
	}
	if len(results) == 0 {
		return dec
	}

	weightedSum := 0.0
	weightExtra := 0.0
	for _, r := range results {
		weight := 1.0
		if r.Method == models.MethodIsolationForest {
			weight = f.mlWeight
			weightExtra += f.mlWeight - 1
		}
		weightedSum += weight * r.Confidence
		if r.IsAnomaly {
			dec.Votes++
			dec.Severity = models.MaxSeverity(dec.Severity, r.Severity)
		}
	}

	dec.IsAnomaly = dec.Votes >= len(results)/2+1
	dec.Confidence = weightedSum / (float64(len(results)) + weightExtra)
	return dec
}
