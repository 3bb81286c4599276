// Package ingest turns raw report submissions into classified, persisted
// Report rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewatch/outage-engine/internal/cache"
	"github.com/pulsewatch/outage-engine/internal/models"
	"github.com/pulsewatch/outage-engine/internal/store"
)

// ErrThrottled signals that a source identity exceeded its report budget
// for the current window.
var ErrThrottled = errors.New("report rate limit exceeded")

// Submission is a raw incoming report before classification.
type Submission struct {
	ServiceID   int64
	Description string
	Geo         *models.GeoInfo
	SourceIP    string
	At          time.Time
}

// Processor validates, throttles, classifies, and stores submissions.
type Processor struct {
	logger         *slog.Logger
	store          store.Store
	cache          cache.Provider
	throttleWindow time.Duration
	throttleLimit  int
}

// NewProcessor constructs a processor. throttleLimit <= 0 disables
// throttling; cacheProvider may be a NoopProvider.
func NewProcessor(logger *slog.Logger, st store.Store, cacheProvider cache.Provider, throttleWindow time.Duration, throttleLimit int) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if throttleWindow <= 0 {
		throttleWindow = time.Hour
	}
	return &Processor{
		logger:         logger,
		store:          st,
		cache:          cacheProvider,
		throttleWindow: throttleWindow,
		throttleLimit:  throttleLimit,
	}
}

// Process ingests one submission. A cache failure never blocks ingestion;
// the submission just bypasses the throttle for that window.
func (p *Processor) Process(ctx context.Context, sub Submission) (*models.Report, error) {
	if sub.ServiceID == 0 {
		return nil, errors.New("submission requires a service id")
	}
	at := sub.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if p.throttleLimit > 0 && sub.SourceIP != "" {
		count, err := p.cache.Incr(ctx, "reports:ip:"+sub.SourceIP, p.throttleWindow)
		if err != nil {
			p.logger.Debug("throttle counter unavailable", slog.Any("error", err))
		} else if count > int64(p.throttleLimit) {
			return nil, fmt.Errorf("%w: %s", ErrThrottled, sub.SourceIP)
		}
	}

	issueType := ClassifyIssueType(sub.Description)
	report := &models.Report{
		ID:          uuid.NewString(),
		ServiceID:   sub.ServiceID,
		CreatedAt:   at,
		Geo:         sub.Geo,
		Description: sub.Description,
		IssueType:   issueType,
		Severity:    ScoreSeverity(sub.Description, issueType),
		SourceIP:    sub.SourceIP,
	}
	if err := p.store.InsertReport(ctx, report); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	p.logger.Debug("report ingested",
		slog.Int64("service_id", report.ServiceID),
		slog.String("issue_type", string(report.IssueType)),
		slog.Int("severity", report.Severity),
	)
	return report, nil
}

var issueKeywords = []struct {
	issue models.IssueType
	words []string
}{
	{models.IssueOutage, []string{"down", "outage", "unavailable", "not working", "dead", "crash"}},
	{models.IssueConnection, []string{"connect", "connection", "network", "offline", "timeout", "unreachable"}},
	{models.IssuePerformance, []string{"slow", "lag", "loading", "delay", "performance", "buffering"}},
	{models.IssueFeature, []string{"login", "log in", "upload", "send", "message", "broken", "error"}},
}

// ClassifyIssueType buckets a free-text description by keyword; the first
// matching bucket wins, in outage > connection > performance > feature
// order. Unmatched descriptions are general.
func ClassifyIssueType(description string) models.IssueType {
	desc := strings.ToLower(description)
	for _, bucket := range issueKeywords {
		for _, word := range bucket.words {
			if strings.Contains(desc, word) {
				return bucket.issue
			}
		}
	}
	return models.IssueGeneral
}

// ScoreSeverity rates a report 1-5 from its issue type and wording.
func ScoreSeverity(description string, issueType models.IssueType) int {
	score := 2
	switch issueType {
	case models.IssueOutage:
		score = 4
	case models.IssueConnection:
		score = 3
	case models.IssueGeneral:
		score = 1
	}

	desc := strings.ToLower(description)
	if containsAny(desc, "completely", "totally", "entire", "everything", "all users") {
		score++
	}
	if containsAny(desc, "intermittent", "sometimes", "occasionally", "minor") {
		score--
	}

	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}
	return score
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
