package karakeep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/httpx"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 10 << 20
)

// Client talks to the remote bookmark service's REST API. It carries no
// retry policy of its own; high-level retries live in the sync executor.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a bookmark client on the shared HTTP pool.
func New(cfg config.KarakeepConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewInvalidInputError("bookmark service base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, apperrors.NewInvalidInputError("bookmark service api_key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	key := httpx.NewClientKey(baseURL, timeout, 10, 5, cfg.APIKey)
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    httpx.DefaultPool.Acquire(key),
		logger:  logger.With(zap.String("component", "karakeep")),
	}, nil
}

// HealthCheck verifies the service is reachable and the credential works.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListBookmarks(ctx, 1, "", nil, nil)
	return err
}

// ListBookmarks fetches one page. archived/favourited filter when non-nil.
func (c *Client) ListBookmarks(ctx context.Context, limit int, cursor string, archived, favourited *bool) (*BookmarkPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if archived != nil {
		q.Set("archived", strconv.FormatBool(*archived))
	}
	if favourited != nil {
		q.Set("favourited", strconv.FormatBool(*favourited))
	}

	var page BookmarkPage
	if err := c.do(ctx, http.MethodGet, "/bookmarks?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	var b Bookmark
	if err := c.do(ctx, http.MethodGet, "/bookmarks/"+url.PathEscape(id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CreateBookmark(ctx context.Context, req CreateBookmarkRequest) (*Bookmark, error) {
	if req.Type == "" {
		req.Type = "link"
	}
	var b Bookmark
	if err := c.do(ctx, http.MethodPost, "/bookmarks", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) UpdateBookmark(ctx context.Context, id string, req UpdateBookmarkRequest) (*Bookmark, error) {
	var b Bookmark
	if err := c.do(ctx, http.MethodPatch, "/bookmarks/"+url.PathEscape(id), req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) DeleteBookmark(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bookmarks/"+url.PathEscape(id), nil, nil)
}

// AttachTags attaches tags by name; the service creates missing tags.
func (c *Client) AttachTags(ctx context.Context, bookmarkID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	tags := make([]map[string]string, len(names))
	for i, n := range names {
		tags[i] = map[string]string{"tagName": n}
	}
	path := "/bookmarks/" + url.PathEscape(bookmarkID) + "/tags"
	return c.do(ctx, http.MethodPost, path, map[string]any{"tags": tags}, nil)
}

// DetachTag removes a tag from a bookmark, addressed by tag id.
func (c *Client) DetachTag(ctx context.Context, bookmarkID, tagID string) error {
	path := "/bookmarks/" + url.PathEscape(bookmarkID) + "/tags/" + url.PathEscape(tagID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	var out struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.do(ctx, http.MethodGet, "/tags", nil, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (c *Client) SearchBookmarks(ctx context.Context, query string, limit int) ([]Bookmark, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page BookmarkPage
	if err := c.do(ctx, http.MethodGet, "/bookmarks/search?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return page.Bookmarks, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := jsonx.Marshal(payload)
		if err != nil {
			return apperrors.NewInternalErrorWithCause("failed to encode bookmark request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.NewInternalErrorWithCause("failed to build bookmark request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, method, path, data)
	}

	if out != nil && len(data) > 0 {
		if err := jsonx.Unmarshal(data, out); err != nil {
			return apperrors.NewInternalError("bookmark response was not valid JSON: " + err.Error()).
				WithContext("path", path)
		}
	}
	return nil
}

func statusError(status int, method, path string, body []byte) error {
	msg := fmt.Sprintf("bookmark service returned HTTP %d for %s %s", status, method, path)
	var appErr *apperrors.AppError
	switch {
	case status == http.StatusNotFound:
		appErr = apperrors.NewNotFoundError(msg)
	case status == http.StatusTooManyRequests:
		appErr = apperrors.New(apperrors.CodeRateLimited, msg)
	case status >= 400 && status < 500:
		appErr = apperrors.NewInvalidInputError(msg)
	default:
		appErr = apperrors.NewInternalError(msg)
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 300 {
		detail = detail[:300] + "..."
	}
	return appErr.
		WithContext("status_code", status).
		WithContext("message", detail)
}

// StatusCode extracts the HTTP status a client error carries; 0 when the
// error did not come from an HTTP response.
func StatusCode(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Context == nil {
		return 0
	}
	if status, ok := appErr.Context["status_code"].(int); ok {
		return status
	}
	return 0
}
