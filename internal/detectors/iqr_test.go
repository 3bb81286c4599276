package detectors

import (
	"math"
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

func TestIQRInsufficientDataIsNeutral(t *testing.T) {
	d := NewIQRDetector()
	for _, recent := range [][]float64{nil, {1}, {1, 2}, {1, 2, 3}} {
		res := d.Detect(100, recent, time.Now())
		if res.IsAnomaly || res.Confidence != 0 {
			t.Fatalf("window %v: expected neutral result, got %+v", recent, res)
		}
		if res.Method != models.MethodIQR {
			t.Fatalf("Method = %q", res.Method)
		}
	}
}

func TestIQRDetect(t *testing.T) {
	now := time.Now()
	// Sorted window 2,4,6,8: Q1=3.5, Q3=6.5, IQR=3, fences [-1, 11].
	window := []float64{4, 8, 2, 6}

	cases := []struct {
		name     string
		current  float64
		anomaly  bool
		severity models.Severity
	}{
		{"inside fences", 10, false, models.SeverityLow},
		{"on upper fence", 11, false, models.SeverityLow},
		{"just above", 13, true, models.SeverityLow},
		{"medium overshoot", 15, true, models.SeverityMedium},
		{"high overshoot", 18, true, models.SeverityHigh},
		{"critical overshoot", 21, true, models.SeverityCritical},
		{"below lower fence", -5, true, models.SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewIQRDetector()
			res := d.Detect(tc.current, window, now)
			if res.IsAnomaly != tc.anomaly {
				t.Fatalf("IsAnomaly = %v, want %v", res.IsAnomaly, tc.anomaly)
			}
			if res.Severity != tc.severity {
				t.Fatalf("Severity = %s, want %s", res.Severity, tc.severity)
			}
		})
	}
}

func TestIQRConfidenceNormalizedByTwiceIQR(t *testing.T) {
	// Window 2,4,6,8: IQR=3, upper fence 11. current=14 overshoots by 3,
	// confidence = 3/(2*3) = 0.5.
	d := NewIQRDetector()
	res := d.Detect(14, []float64{2, 4, 6, 8}, time.Now())
	if !res.IsAnomaly {
		t.Fatal("expected anomaly")
	}
	if math.Abs(res.Confidence-0.5) > 1e-9 {
		t.Fatalf("Confidence = %v, want 0.5", res.Confidence)
	}
}

func TestIQRZeroSpreadWindow(t *testing.T) {
	d := NewIQRDetector()
	res := d.Detect(9, []float64{5, 5, 5, 5}, time.Now())
	if !res.IsAnomaly {
		t.Fatal("any deviation from a flat window is an outlier")
	}
	if res.Confidence != 1.0 {
		t.Fatalf("Confidence = %v, want 1.0", res.Confidence)
	}
	if res.Severity != models.SeverityCritical {
		t.Fatalf("Severity = %s, want critical", res.Severity)
	}
}

func TestPercentileLinearInterpolation(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	cases := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 1.75},
		{50, 2.5},
		{75, 3.25},
		{100, 4},
	}
	for _, tc := range cases {
		if got := percentile(sorted, tc.p); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("percentile(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}
}
