// Package external fetches best-effort corroboration signals from outside
// sources: social mention counts, a community forum, third-party status
// pages, and a vendor incident feed. Every source is untrusted and
// time-bounded; a failing source contributes nothing and never blocks the
// detection cycle.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pulsewatch/outage-engine/internal/cache"
	"github.com/pulsewatch/outage-engine/internal/detectors"
)

// Options configures the client and its sources. Empty source URLs disable
// the corresponding source.
type Options struct {
	MentionsBaseURL   string
	ForumBaseURL      string
	StatusPageBaseURL string
	IncidentFeedURL   string
	Timeout           time.Duration
	CacheTTL          time.Duration
}

// Client polls the configured sources and assembles a signal bundle.
type Client struct {
	logger     *slog.Logger
	opts       Options
	cache      cache.Provider
	httpClient *http.Client
}

// NewClient constructs the client; cacheProvider may be a NoopProvider.
func NewClient(logger *slog.Logger, opts Options, cacheProvider cache.Provider) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Client{
		logger:     logger,
		opts:       opts,
		cache:      cacheProvider,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}
}

// Fetch gathers signals for the named service. Sources are polled
// concurrently, each bounded by the client timeout; failures are logged and
// leave their field empty. Fetch itself never fails.
func (c *Client) Fetch(ctx context.Context, serviceName string) detectors.Signals {
	cacheKey := "external:" + serviceName
	if cached, err := c.cache.Get(ctx, cacheKey); err == nil {
		var sig detectors.Signals
		if err := json.Unmarshal(cached, &sig); err == nil {
			return sig
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Debug("external cache read failed", slog.Any("error", err))
	}

	var sig detectors.Signals
	var wg sync.WaitGroup
	var mu sync.Mutex

	poll := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				c.logger.Warn("external source failed",
					slog.String("source", name),
					slog.String("service", serviceName),
					slog.Any("error", err),
				)
			}
		}()
	}

	if c.opts.MentionsBaseURL != "" {
		poll("social_mentions", func(ctx context.Context) error {
			count, err := c.fetchMentionCount(ctx, c.opts.MentionsBaseURL, serviceName)
			if err != nil {
				return err
			}
			mu.Lock()
			sig.SocialMentions = count
			mu.Unlock()
			return nil
		})
	}
	if c.opts.ForumBaseURL != "" {
		poll("forum_mentions", func(ctx context.Context) error {
			count, err := c.fetchMentionCount(ctx, c.opts.ForumBaseURL, serviceName)
			if err != nil {
				return err
			}
			mu.Lock()
			sig.ForumMentions = count
			mu.Unlock()
			return nil
		})
	}
	if c.opts.StatusPageBaseURL != "" {
		poll("status_page", func(ctx context.Context) error {
			degraded, err := c.fetchStatusDegraded(ctx, serviceName)
			if err != nil {
				return err
			}
			mu.Lock()
			sig.StatusDegraded = degraded
			mu.Unlock()
			return nil
		})
	}
	if c.opts.IncidentFeedURL != "" {
		poll("incident_feed", func(ctx context.Context) error {
			count, err := c.fetchIncidentCount(ctx, serviceName)
			if err != nil {
				return err
			}
			mu.Lock()
			sig.VendorIncidents = count
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()

	if c.opts.CacheTTL > 0 {
		if payload, err := json.Marshal(sig); err == nil {
			if err := c.cache.Set(ctx, cacheKey, payload, c.opts.CacheTTL); err != nil {
				c.logger.Debug("external cache write failed", slog.Any("error", err))
			}
		}
	}
	return sig
}

func (c *Client) fetchMentionCount(ctx context.Context, baseURL, serviceName string) (int, error) {
	var response struct {
		Count int `json:"count"`
	}
	endpoint := fmt.Sprintf("%s/mentions?service=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(serviceName))
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return 0, err
	}
	return response.Count, nil
}

func (c *Client) fetchStatusDegraded(ctx context.Context, serviceName string) (bool, error) {
	var response struct {
		Status string `json:"status"`
	}
	endpoint := fmt.Sprintf("%s/status/%s", strings.TrimRight(c.opts.StatusPageBaseURL, "/"), url.PathEscape(serviceName))
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return false, err
	}
	switch strings.ToLower(response.Status) {
	case "degraded", "partial_outage", "major_outage", "down":
		return true, nil
	default:
		return false, nil
	}
}

func (c *Client) fetchIncidentCount(ctx context.Context, serviceName string) (int, error) {
	var response struct {
		Incidents []struct {
			ID string `json:"id"`
		} `json:"incidents"`
	}
	endpoint := fmt.Sprintf("%s?service=%s", strings.TrimRight(c.opts.IncidentFeedURL, "/"), url.QueryEscape(serviceName))
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return 0, err
	}
	return len(response.Incidents), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
