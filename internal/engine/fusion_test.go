package engine

import (
	"math"
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

func result(method string, anomaly bool, confidence float64, severity models.Severity) models.AnomalyResult {
	return models.AnomalyResult{
		IsAnomaly:  anomaly,
		Confidence: confidence,
		Severity:   severity,
		Method:     method,
		Timestamp:  time.Unix(0, 0),
	}
}

func TestFuseMajorityRule(t *testing.T) {
	f := NewFusion(2.0)
	now := time.Now()

	cases := []struct {
		name    string
		results []models.AnomalyResult
		anomaly bool
		votes   int
	}{
		{
			name: "three of four is a majority",
			results: []models.AnomalyResult{
				result(models.MethodZScore, true, 1, models.SeverityMedium),
				result(models.MethodIQR, true, 0.5, models.SeverityMedium),
				result(models.MethodIsolationForest, true, 0.4, models.SeverityHigh),
				result(models.MethodExternal, false, 0, models.SeverityLow),
			},
			anomaly: true,
			votes:   3,
		},
		{
			name: "two of four is not",
			results: []models.AnomalyResult{
				result(models.MethodZScore, true, 1, models.SeverityMedium),
				result(models.MethodIQR, true, 0.5, models.SeverityMedium),
				result(models.MethodIsolationForest, false, 0, models.SeverityLow),
				result(models.MethodExternal, false, 0, models.SeverityLow),
			},
			anomaly: false,
			votes:   2,
		},
		{
			name: "two of three is a majority",
			results: []models.AnomalyResult{
				result(models.MethodZScore, true, 1, models.SeverityMedium),
				result(models.MethodIQR, true, 0.5, models.SeverityLow),
				result(models.MethodExternal, false, 0, models.SeverityLow),
			},
			anomaly: true,
			votes:   2,
		},
		{
			name: "one of two is not",
			results: []models.AnomalyResult{
				result(models.MethodZScore, true, 1, models.SeverityCritical),
				result(models.MethodIQR, false, 0, models.SeverityLow),
			},
			anomaly: false,
			votes:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := f.Fuse(tc.results, now)
			if dec.IsAnomaly != tc.anomaly {
				t.Fatalf("IsAnomaly = %v, want %v", dec.IsAnomaly, tc.anomaly)
			}
			if dec.Votes != tc.votes {
				t.Fatalf("Votes = %d, want %d", dec.Votes, tc.votes)
			}
			if dec.Total != len(tc.results) {
				t.Fatalf("Total = %d, want %d", dec.Total, len(tc.results))
			}
		})
	}
}

func TestFuseConfidenceWeightsML(t *testing.T) {
	f := NewFusion(2.0)
	results := []models.AnomalyResult{
		result(models.MethodZScore, true, 0.9, models.SeverityMedium),
		result(models.MethodIQR, true, 0.6, models.SeverityMedium),
		result(models.MethodIsolationForest, true, 0.8, models.SeverityHigh),
	}
	dec := f.Fuse(results, time.Now())

	// (0.9 + 0.6 + 2*0.8) / (3 + 1)
	want := (0.9 + 0.6 + 1.6) / 4
	if math.Abs(dec.Confidence-want) > 1e-9 {
		t.Fatalf("Confidence = %v, want %v", dec.Confidence, want)
	}
}

func TestFuseSeverityIsMaxOfAnomalous(t *testing.T) {
	f := NewFusion(2.0)
	results := []models.AnomalyResult{
		result(models.MethodZScore, true, 1, models.SeverityMedium),
		result(models.MethodIQR, true, 0.5, models.SeverityCritical),
		// Non-anomalous results never contribute severity.
		result(models.MethodExternal, false, 0.9, models.SeverityCritical),
	}
	dec := f.Fuse(results, time.Now())
	if dec.Severity != models.SeverityCritical {
		t.Fatalf("Severity = %s, want critical", dec.Severity)
	}

	none := f.Fuse([]models.AnomalyResult{
		result(models.MethodZScore, false, 0, models.SeverityLow),
	}, time.Now())
	if none.Severity != models.SeverityLow {
		t.Fatalf("Severity with no anomalies = %s, want low", none.Severity)
	}
}

func TestFuseEmptyInput(t *testing.T) {
	dec := NewFusion(2.0).Fuse(nil, time.Now())
	if dec.IsAnomaly || dec.Confidence != 0 || dec.Severity != models.SeverityLow {
		t.Fatalf("empty fuse = %+v", dec)
	}
}
