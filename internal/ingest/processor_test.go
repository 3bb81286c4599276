package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsewatch/outage-engine/internal/cache"
	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/store"
)

// countingCache increments for real but fails on demand.
type countingCache struct {
	cache.NoopProvider
	counts map[string]int64
	fail   bool
}

func (c *countingCache) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.fail {
		return 0, errors.New("cache unavailable")
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestClassifyIssueType(t *testing.T) {
	cases := []struct {
		desc string
		want models.IssueType
	}{
		{"WhatsApp is completely down", models.IssueOutage},
		{"total outage in my region", models.IssueOutage},
		{"cannot connect to the server", models.IssueConnection},
		{"app keeps going offline", models.IssueConnection},
		{"videos are loading really slow", models.IssuePerformance},
		{"terrible lag since this morning", models.IssuePerformance},
		{"login button does nothing", models.IssueFeature},
		{"can't upload pictures", models.IssueFeature},
		{"something feels off", models.IssueGeneral},
		{"", models.IssueGeneral},
	}
	for _, tc := range cases {
		if got := ClassifyIssueType(tc.desc); got != tc.want {
			t.Errorf("ClassifyIssueType(%q) = %s, want %s", tc.desc, got, tc.want)
		}
	}
}

func TestScoreSeverity(t *testing.T) {
	cases := []struct {
		desc  string
		issue models.IssueType
		want  int
	}{
		{"service is down", models.IssueOutage, 4},
		{"completely down for everyone", models.IssueOutage, 5},
		{"sometimes it goes down", models.IssueOutage, 3},
		{"cannot connect", models.IssueConnection, 3},
		{"slow loading", models.IssuePerformance, 2},
		{"hmm", models.IssueGeneral, 1},
		{"minor thing", models.IssueGeneral, 1},
	}
	for _, tc := range cases {
		if got := ScoreSeverity(tc.desc, tc.issue); got != tc.want {
			t.Errorf("ScoreSeverity(%q, %s) = %d, want %d", tc.desc, tc.issue, got, tc.want)
		}
	}
}

func TestProcessStoresClassifiedReport(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	p := NewProcessor(nil, mem, nil, time.Hour, 0)

	geo := &models.GeoInfo{Country: "DE", Region: "BE", City: "Berlin"}
	report, err := p.Process(ctx, Submission{
		ServiceID:   1,
		Description: "WhatsApp is down",
		Geo:         geo,
		SourceIP:    "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.ID == "" || report.CreatedAt.IsZero() {
		t.Fatalf("report missing identity: %+v", report)
	}
	if report.IssueType != models.IssueOutage || report.Severity != 4 {
		t.Fatalf("classification = %s/%d", report.IssueType, report.Severity)
	}

	count, err := mem.CountReportsSince(ctx, 1, time.Now().Add(-time.Minute))
	if err != nil || count != 1 {
		t.Fatalf("stored count = %d err=%v", count, err)
	}
}

func TestProcessThrottlesPerSource(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cc := &countingCache{}
	p := NewProcessor(nil, mem, cc, time.Hour, 2)

	sub := Submission{ServiceID: 1, Description: "down", SourceIP: "203.0.113.9"}
	for i := 0; i < 2; i++ {
		if _, err := p.Process(ctx, sub); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	if _, err := p.Process(ctx, sub); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	// A different source is unaffected.
	other := Submission{ServiceID: 1, Description: "down", SourceIP: "198.51.100.4"}
	if _, err := p.Process(ctx, other); err != nil {
		t.Fatalf("other source: %v", err)
	}
}

func TestProcessCacheFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	cc := &countingCache{fail: true}
	p := NewProcessor(nil, mem, cc, time.Hour, 1)

	for i := 0; i < 3; i++ {
		sub := Submission{ServiceID: 1, Description: "down", SourceIP: "203.0.113.9"}
		if _, err := p.Process(ctx, sub); err != nil {
			t.Fatalf("ingestion should survive cache failure: %v", err)
		}
	}
}

func TestProcessRejectsMissingService(t *testing.T) {
	p := NewProcessor(nil, store.NewMemory(), nil, time.Hour, 0)
	if _, err := p.Process(context.Background(), Submission{Description: "down"}); err == nil {
		t.Fatal("expected error for missing service id")
	}
}
