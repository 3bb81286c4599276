// Package notify delivers status-change and outage-alert events to the
// surrounding web/notification layer. Delivery is fire and forget; the
// engine never depends on a sink succeeding.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsewatch/outage-engine/internal/models"
)

// Sink receives engine events.
type Sink interface {
	StatusChange(ctx context.Context, change models.StatusChange)
	OutageAlert(ctx context.Context, alert models.OutageAlert)
}

// LogSink writes events to the structured log. It is the default sink when
// no webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) StatusChange(_ context.Context, change models.StatusChange) {
	s.logger.Info("status change",
		slog.Int64("service_id", change.ServiceID),
		slog.String("old", string(change.Old)),
		slog.String("new", string(change.New)),
	)
}

func (s *LogSink) OutageAlert(_ context.Context, alert models.OutageAlert) {
	s.logger.Info("outage alert",
		slog.Int64("service_id", alert.ServiceID),
		slog.String("severity", string(alert.Severity)),
		slog.Int("report_count", alert.ReportCount),
	)
}

// WebhookSink POSTs events as JSON to a single endpoint. Failures are
// logged and dropped.
type WebhookSink struct {
	logger     *slog.Logger
	url        string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink with the given delivery timeout.
func NewWebhookSink(logger *slog.Logger, url string, timeout time.Duration) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		logger:     logger,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) StatusChange(ctx context.Context, change models.StatusChange) {
	s.post(ctx, "status_change", change)
}

func (s *WebhookSink) OutageAlert(ctx context.Context, alert models.OutageAlert) {
	s.post(ctx, "outage_alert", alert)
}

func (s *WebhookSink) post(ctx context.Context, eventType string, payload any) {
	body, err := json.Marshal(map[string]any{"type": eventType, "data": payload})
	if err != nil {
		s.logger.Warn("notification marshal failed", slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("notification request build failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("notification delivery failed",
			slog.String("type", eventType),
			slog.Any("error", err),
		)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("notification rejected",
			slog.String("type", eventType),
			slog.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
	}
}
