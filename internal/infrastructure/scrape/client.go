package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/httpx"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/bsrbot/bsr/internal/infrastructure/retry"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"go.uber.org/zap"
)

const (
	scrapeEndpoint = "/v2/scrape"
	searchEndpoint = "/v2/search"

	defaultBaseURL = "https://api.firecrawl.dev"

	retryBaseDelay = 1 * time.Second
	retryMaxDelay  = 30 * time.Second

	// Server-sent retry hints are capped so a misbehaving upstream cannot
	// park us for minutes.
	maxRetryAfter = 60 * time.Second

	maxQueryLength = 500
	maxSearchLimit = 10
)

var statusMessages = map[int]string{
	400: "Bad request: the scrape options were rejected",
	401: "Authentication failed: check the API key",
	402: "Insufficient credits",
	403: "Access forbidden",
	404: "Endpoint not found",
	408: "Request timed out",
	422: "The page could not be processed",
	429: "Rate limited by the scrape service",
	500: "Scrape service internal error",
}

// Client calls the content-extraction service. One client holds one pooled
// HTTP connection set; retries, rendering-mode fallback and response-size
// guarding all live here so callers only see structured results.
type Client struct {
	cfg     config.FirecrawlConfig
	baseURL string
	http    *http.Client
	budget  int64
	logger  *zap.Logger
}

// New validates the configuration and builds a client on the shared pool.
func New(cfg config.FirecrawlConfig, logger *zap.Logger) (*Client, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	key := httpx.NewClientKey(baseURL, cfg.Timeout, cfg.MaxConnections, cfg.MaxKeepalive, cfg.APIKey)
	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		http:    httpx.DefaultPool.Acquire(key),
		budget:  int64(cfg.MaxResponseMB) << 20,
		logger:  logger.With(zap.String("component", "scrape")),
	}, nil
}

func validateConfig(cfg config.FirecrawlConfig) error {
	if cfg.APIKey == "" {
		return apperrors.NewInvalidInputError("scrape api_key is required")
	}
	if !strings.HasPrefix(cfg.APIKey, "fc-") {
		return apperrors.NewInvalidInputError("scrape api_key must start with fc-").
			WithContext("field", "api_key")
	}
	if cfg.Timeout <= 0 || cfg.Timeout > 300*time.Second {
		return apperrors.NewInvalidInputError("scrape timeout must be in (0, 300] seconds").
			WithContext("timeout", cfg.Timeout.String())
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		return apperrors.NewInvalidInputError("scrape max_retries must be in [0, 10]").
			WithContext("max_retries", cfg.MaxRetries)
	}
	if cfg.MaxConnections < 1 || cfg.MaxConnections > 100 {
		return apperrors.NewInvalidInputError("scrape max_connections must be in [1, 100]").
			WithContext("max_connections", cfg.MaxConnections)
	}
	if cfg.MaxKeepalive < 1 || cfg.MaxKeepalive > 50 {
		return apperrors.NewInvalidInputError("scrape max_keepalive must be in [1, 50]").
			WithContext("max_keepalive", cfg.MaxKeepalive)
	}
	if cfg.KeepaliveExpiry < time.Second || cfg.KeepaliveExpiry > 300*time.Second {
		return apperrors.NewInvalidInputError("scrape keepalive_expiry must be in [1, 300] seconds").
			WithContext("keepalive_expiry", cfg.KeepaliveExpiry.String())
	}
	if cfg.MaxResponseMB < 1 || cfg.MaxResponseMB > 1024 {
		return apperrors.NewInvalidInputError("scrape max_response_mb must be in [1, 1024]").
			WithContext("max_response_mb", cfg.MaxResponseMB)
	}
	if cfg.CreditWarning < 0 || cfg.CreditCritical < 0 || (cfg.CreditCritical > 0 && cfg.CreditWarning < cfg.CreditCritical) {
		return apperrors.NewInvalidInputError("scrape credit thresholds out of range").
			WithContext("credit_warning", cfg.CreditWarning).
			WithContext("credit_critical", cfg.CreditCritical)
	}
	return nil
}

// pdfSuggestive reports whether the URL likely points at a PDF document, in
// which case the service gets a pdf parser hint.
func pdfSuggestive(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "pdf")
}

func (c *Client) buildOptions(url string, mobile bool) map[string]any {
	formats := c.cfg.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	wireFormats := make([]any, len(formats))
	for i, f := range formats {
		wireFormats[i] = f
	}
	opts := map[string]any{
		"url":                 url,
		"mobile":              mobile,
		"maxAge":              c.cfg.MaxAgeMillis,
		"removeBase64Images":  c.cfg.RemoveBase64,
		"blockAds":            c.cfg.BlockAds,
		"skipTlsVerification": c.cfg.SkipTLSVerify,
		"formats":             wireFormats,
	}
	if pdfSuggestive(url) {
		opts["parsers"] = []any{"pdf"}
	}
	return opts
}

// ScrapeMarkdown fetches a page as markdown, retrying transient failures. A
// 5xx flips the mobile rendering flag on the next attempt to dodge
// rendering-mode-specific failures; 429 honors the server's retry hint and
// keeps the rendering mode. The returned error is non-nil only for context
// cancellation; every service failure becomes a structured Result.
func (c *Client) ScrapeMarkdown(ctx context.Context, url string, mobile bool, requestID int64) (*Result, error) {
	start := time.Now()
	currentMobile := mobile

	var lastResult *Result
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		opts := c.buildOptions(url, currentMobile)
		status, body, err := c.post(ctx, scrapeEndpoint, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if apperrors.IsResponseTooLarge(err) {
				lastResult = c.errorResult(url, requestID, start, opts, err.Error(), map[string]any{"kind": "response_too_large"})
				if attempt < c.cfg.MaxRetries {
					if serr := retry.Sleep(ctx, retry.Delay(attempt, retryBaseDelay, retryMaxDelay)); serr != nil {
						return nil, serr
					}
					continue
				}
				return lastResult, nil
			}
			c.logger.Warn("scrape transport error",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			lastResult = c.errorResult(url, requestID, start, opts, "Scrape request failed: "+err.Error(), nil)
			if attempt < c.cfg.MaxRetries && retry.IsTransient(err) {
				if serr := retry.Sleep(ctx, retry.Delay(attempt, retryBaseDelay, retryMaxDelay)); serr != nil {
					return nil, serr
				}
				continue
			}
			return lastResult, nil
		}

		switch {
		case status >= 200 && status < 300:
			result, parseErr := c.interpretBody(url, requestID, start, opts, body)
			if parseErr != nil {
				lastResult = c.errorResult(url, requestID, start, opts, "Scrape response was not valid JSON", map[string]any{
					"status_code": status,
				})
				if attempt < c.cfg.MaxRetries {
					if serr := retry.Sleep(ctx, retry.Delay(attempt, retryBaseDelay, retryMaxDelay)); serr != nil {
						return nil, serr
					}
					continue
				}
				return lastResult, nil
			}
			return result, nil

		case status == http.StatusTooManyRequests:
			delay := retryAfterDelay(body)
			if delay <= 0 {
				delay = retry.Delay(attempt, retryBaseDelay, retryMaxDelay)
			}
			c.logger.Warn("scrape rate limited",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			lastResult = c.errorResult(url, requestID, start, opts, statusMessages[429], map[string]any{
				"status_code": status,
			})
			if attempt < c.cfg.MaxRetries {
				if serr := retry.Sleep(ctx, delay); serr != nil {
					return nil, serr
				}
				continue
			}
			return lastResult, nil

		case status >= 500:
			lastResult = c.errorResult(url, requestID, start, opts, statusMessage(status), map[string]any{
				"status_code": status,
				"message":     truncateBody(body),
			})
			if attempt < c.cfg.MaxRetries {
				// Flip rendering mode; some pages only render on one of
				// desktop/mobile.
				currentMobile = !currentMobile
				c.logger.Warn("scrape server error, toggling rendering mode",
					zap.String("url", url), zap.Int("status", status),
					zap.Bool("next_mobile", currentMobile))
				if serr := retry.Sleep(ctx, retry.Delay(attempt, retryBaseDelay, retryMaxDelay)); serr != nil {
					return nil, serr
				}
				continue
			}
			return lastResult, nil

		default:
			return c.errorResult(url, requestID, start, opts, statusMessage(status), map[string]any{
				"status_code": status,
				"message":     truncateBody(body),
			}), nil
		}
	}
	return lastResult, nil
}

// interpretBody parses a 2xx scrape body and decides whether it actually
// succeeded. The service sometimes reports failures inside a 200 envelope;
// those become error results that keep whatever partial content arrived.
func (c *Client) interpretBody(url string, requestID int64, start time.Time, opts map[string]any, body []byte) (*Result, error) {
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	markdown, html, links, metadata := extractContent(obj)

	if reason := embeddedError(obj, markdown, html); reason != "" {
		result := c.errorResult(url, requestID, start, opts, reason, map[string]any{"embedded": true})
		result.Markdown = markdown
		result.HTML = html
		result.Links = links
		result.Metadata = metadata
		return result, nil
	}

	return &Result{
		Success:     true,
		URL:         url,
		Markdown:    markdown,
		HTML:        html,
		Links:       links,
		Metadata:    metadata,
		Endpoint:    scrapeEndpoint,
		LatencyMs:   time.Since(start).Milliseconds(),
		RequestID:   requestID,
		OptionsJSON: opts,
	}, nil
}

// extractContent pulls markdown/html/links/metadata out of the response,
// whether data is a list of page objects or a single object.
func extractContent(obj map[string]any) (markdown, html string, links []string, metadata map[string]any) {
	var page map[string]any
	switch data := obj["data"].(type) {
	case []any:
		if len(data) > 0 {
			page, _ = data[0].(map[string]any)
		}
	case map[string]any:
		page = data
	}
	if page == nil {
		page = obj
	}

	markdown, _ = page["markdown"].(string)
	html, _ = page["html"].(string)
	metadata, _ = page["metadata"].(map[string]any)
	if raw, ok := page["links"].([]any); ok {
		for _, l := range raw {
			if s, ok := l.(string); ok {
				links = append(links, s)
			}
		}
	}
	return markdown, html, links, metadata
}

// embeddedError detects failure reported inside a 2xx envelope. Returns the
// human-readable reason, or "" when the body is a genuine success.
func embeddedError(obj map[string]any, markdown, html string) string {
	if errText, ok := obj["error"].(string); ok && errText != "" {
		return "Scrape service reported an error: " + errText
	}
	if success, ok := obj["success"].(bool); ok && !success {
		return "Scrape service reported success=false"
	}
	if data, ok := obj["data"].([]any); ok {
		if len(data) == 0 {
			return "Scrape service returned no data"
		}
		allFailed := true
		for _, item := range data {
			entry, ok := item.(map[string]any)
			if !ok {
				allFailed = false
				break
			}
			if errText, ok := entry["error"].(string); !ok || errText == "" {
				allFailed = false
				break
			}
		}
		if allFailed {
			return "Every scraped page reported an error"
		}
	}
	if markdown == "" && html == "" {
		return "Scrape returned no content"
	}
	return ""
}

// Search runs a single web search. Unlike scrape there is no retry loop; the
// caller decides whether a failed search is worth repeating.
func (c *Client) Search(ctx context.Context, query string, limit int, requestID *int64) (*SearchResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" || len(query) > maxQueryLength {
		return nil, apperrors.NewInvalidInputError("search query must be 1-500 characters").
			WithContext("length", len(query))
	}
	if limit < 1 || limit > maxSearchLimit {
		return nil, apperrors.NewInvalidInputError("search limit must be in [1, 10]").
			WithContext("limit", limit)
	}
	if requestID != nil && *requestID <= 0 {
		return nil, apperrors.NewInvalidInputError("request_id must be positive").
			WithContext("request_id", *requestID)
	}

	status, body, err := c.post(ctx, searchEndpoint, map[string]any{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &SearchResult{
			Query:     query,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorText: "Search request failed: " + err.Error(),
		}, nil
	}
	if status < 200 || status >= 300 {
		return &SearchResult{
			Query:     query,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorText: statusMessage(status),
			ErrorCtx:  map[string]any{"status_code": status, "message": truncateBody(body)},
		}, nil
	}

	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return &SearchResult{
			Query:     query,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorText: "Search response was not valid JSON",
		}, nil
	}
	obj, _ := value.(map[string]any)
	if obj == nil {
		return &SearchResult{
			Query:     query,
			LatencyMs: time.Since(start).Milliseconds(),
			ErrorText: "Search response was not a JSON object",
		}, nil
	}

	items := normalizeSearchItems(obj, limit)
	return &SearchResult{
		Success:      true,
		Query:        query,
		Items:        items,
		TotalResults: totalResults(obj, len(items)),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

// normalizeSearchItems flattens the service's loosely shaped hits into
// SearchItems, dropping duplicate URLs while preserving first-seen order.
func normalizeSearchItems(obj map[string]any, limit int) []SearchItem {
	data, _ := obj["data"].([]any)
	seen := make(map[string]struct{}, len(data))
	items := make([]SearchItem, 0, limit)
	for _, raw := range data {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url, _ := entry["url"].(string)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		title, _ := entry["title"].(string)
		if title == "" {
			title = url
		}
		items = append(items, SearchItem{
			Title:     title,
			URL:       url,
			Snippet:   firstString(entry, "snippet", "description", "summary", "content"),
			Source:    sourceString(entry),
			Published: publishedString(entry),
		})
		if len(items) >= limit {
			break
		}
	}
	return items
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func sourceString(entry map[string]any) string {
	for _, key := range []string{"source", "site", "publisher"} {
		switch v := entry[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if s := firstString(v, "name", "title"); s != "" {
				return s
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

func publishedString(entry map[string]any) string {
	for _, key := range []string{"published_at", "publishedAt", "published", "date"} {
		switch v := entry[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if s := firstString(v, "iso", "value"); s != "" {
				return s
			}
		}
	}
	return ""
}

func totalResults(obj map[string]any, fallback int) int {
	for _, key := range []string{"totalResults", "total_results", "numResults", "total"} {
		if f, ok := obj[key].(float64); ok {
			return int(f)
		}
	}
	return fallback
}

// post sends one JSON POST and returns the status plus the size-guarded body.
func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) (int, []byte, error) {
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if err := httpx.CheckResponseSize(resp, 0, c.budget, c.logger); err != nil {
		return resp.StatusCode, nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.budget+1))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	if err := httpx.CheckResponseSize(resp, int64(len(data)), c.budget, c.logger); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// retryAfterDelay extracts the server's retry hint from a 429 body, capped
// at maxRetryAfter. Zero means no usable hint.
func retryAfterDelay(body []byte) time.Duration {
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return 0
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return 0
	}
	var seconds float64
	switch v := obj["retry_after"].(type) {
	case float64:
		seconds = v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			seconds = f
		}
	}
	if seconds <= 0 {
		return 0
	}
	delay := time.Duration(seconds * float64(time.Second))
	if delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	return delay
}

func (c *Client) errorResult(url string, requestID int64, start time.Time, opts map[string]any, text string, errCtx map[string]any) *Result {
	return &Result{
		URL:         url,
		Endpoint:    scrapeEndpoint,
		LatencyMs:   time.Since(start).Milliseconds(),
		RequestID:   requestID,
		ErrorText:   text,
		ErrorCtx:    errCtx,
		OptionsJSON: opts,
	}
}

func statusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	if status >= 500 {
		return statusMessages[500]
	}
	return fmt.Sprintf("Scrape failed with HTTP %d", status)
}

func truncateBody(body []byte) string {
	const max = 500
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
