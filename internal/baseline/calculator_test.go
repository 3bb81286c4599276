package baseline

import (
	"math"
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

func TestLookupDefaultsWithoutHistory(t *testing.T) {
	c := NewCalculator()
	ts := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	got := c.ReportStats(42, ts)
	if got != DefaultReportStats {
		t.Fatalf("ReportStats = %+v, want defaults %+v", got, DefaultReportStats)
	}
	got = c.ResponseStats(42, ts)
	if got != DefaultResponseStats {
		t.Fatalf("ResponseStats = %+v, want defaults %+v", got, DefaultResponseStats)
	}
}

func TestRecomputeEmptyHistoryFallsBackToDefaults(t *testing.T) {
	c := NewCalculator()
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	rows := c.Recompute(7, nil, 3.0, now)
	if len(rows) != 24*7 {
		t.Fatalf("expected %d baseline rows, got %d", 24*7, len(rows))
	}
	for _, row := range rows {
		if row.BaselineAvg != DefaultReportStats.Mean {
			t.Fatalf("bucket (%d,%d) avg = %v, want default %v", row.HourOfDay, row.DayOfWeek, row.BaselineAvg, DefaultReportStats.Mean)
		}
		if row.ThresholdMultiplier != 3.0 {
			t.Fatalf("unexpected multiplier %v", row.ThresholdMultiplier)
		}
	}
	if got := c.ReportStats(7, now); got != DefaultReportStats {
		t.Fatalf("lookup after empty recompute = %+v, want defaults", got)
	}
}

func TestBlendedLookup(t *testing.T) {
	c := NewCalculator()
	// Two Mondays at 09:00 with counts 10 and 14, one Monday at 10:00 with 6.
	monday9a := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	monday9b := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	monday10 := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	history := []models.HistoryPoint{
		{Timestamp: monday9a, ReportCount: 10, ResponseTimeMs: 100},
		{Timestamp: monday9b, ReportCount: 14, ResponseTimeMs: 300},
		{Timestamp: monday10, ReportCount: 6, ResponseTimeMs: 200},
	}
	c.Recompute(1, history, 3.0, monday10)

	got := c.ReportStats(1, monday9a)
	// Hour bucket 09: mean 12, std 2. Monday bucket: mean 10, std sqrt(32/3).
	wantMean := 0.7*12 + 0.3*10
	wantStd := math.Sqrt(32.0 / 3.0)
	if math.Abs(got.Mean-wantMean) > 1e-9 {
		t.Fatalf("blended mean = %v, want %v", got.Mean, wantMean)
	}
	if math.Abs(got.Std-wantStd) > 1e-9 {
		t.Fatalf("std = %v, want max of bucket stds %v", got.Std, wantStd)
	}
}

func TestLookupUnseenBucketUsesDefaultComponent(t *testing.T) {
	c := NewCalculator()
	monday9 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	c.Recompute(1, []models.HistoryPoint{
		{Timestamp: monday9, ReportCount: 20, ResponseTimeMs: 150},
	}, 3.0, monday9)

	// Sunday 03:00 has no hour or weekday data; both components default.
	sunday3 := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	got := c.ReportStats(1, sunday3)
	if got != DefaultReportStats {
		t.Fatalf("unseen bucket = %+v, want defaults", got)
	}

	// Monday 03:00: hour bucket defaults, weekday bucket has data.
	monday3 := time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC)
	got = c.ReportStats(1, monday3)
	wantMean := 0.7*DefaultReportStats.Mean + 0.3*20
	if math.Abs(got.Mean-wantMean) > 1e-9 {
		t.Fatalf("partial bucket mean = %v, want %v", got.Mean, wantMean)
	}
	// Single-sample weekday std is 0; default hour std wins the max.
	if got.Std != DefaultReportStats.Std {
		t.Fatalf("partial bucket std = %v, want %v", got.Std, DefaultReportStats.Std)
	}
}

func TestRecomputeRowsBlendPerBucket(t *testing.T) {
	c := NewCalculator()
	monday9 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rows := c.Recompute(1, []models.HistoryPoint{
		{Timestamp: monday9, ReportCount: 10, ResponseTimeMs: 100},
	}, 2.5, monday9)

	var found bool
	for _, row := range rows {
		if row.HourOfDay == 9 && row.DayOfWeek == 0 {
			found = true
			if row.BaselineAvg != 10 {
				t.Fatalf("monday 09 avg = %v, want 10", row.BaselineAvg)
			}
			if row.ThresholdMultiplier != 2.5 {
				t.Fatalf("multiplier = %v, want 2.5", row.ThresholdMultiplier)
			}
		}
	}
	if !found {
		t.Fatal("missing (hour=9, day=0) row")
	}
}
