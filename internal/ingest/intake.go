package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/pulsewatch/outage-engine/internal/metrics"
	"github.com/pulsewatch/outage-engine/internal/models"
)

// maxSubmissionBytes caps the accepted request body.
const maxSubmissionBytes = 64 << 10

// Handler accepts report submissions over HTTP: POST with a JSON body.
type Handler struct {
	logger    *slog.Logger
	processor *Processor
}

// NewHandler wraps a processor in an HTTP intake endpoint.
func NewHandler(logger *slog.Logger, processor *Processor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, processor: processor}
}

type submissionPayload struct {
	ServiceID   int64   `json:"service_id"`
	Description string  `json:"description"`
	Country     string  `json:"country"`
	Region      string  `json:"region"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload submissionPayload
	body := io.LimitReader(r.Body, maxSubmissionBytes)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	sub := Submission{
		ServiceID:   payload.ServiceID,
		Description: payload.Description,
		SourceIP:    clientIP(r),
	}
	if payload.Country != "" {
		sub.Geo = &models.GeoInfo{
			Country:   payload.Country,
			Region:    payload.Region,
			City:      payload.City,
			Latitude:  payload.Latitude,
			Longitude: payload.Longitude,
		}
	}

	report, err := h.processor.Process(r.Context(), sub)
	switch {
	case errors.Is(err, ErrThrottled):
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	case err != nil:
		if sub.ServiceID == 0 {
			http.Error(w, "service_id is required", http.StatusBadRequest)
			return
		}
		h.logger.Error("report intake failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.ReportIngested()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         report.ID,
		"issue_type": report.IssueType,
		"severity":   report.Severity,
	})
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
