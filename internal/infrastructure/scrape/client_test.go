package scrape

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
)

func testConfig(baseURL string, retries int) config.FirecrawlConfig {
	return config.FirecrawlConfig{
		APIKey:          "fc-test",
		BaseURL:         baseURL,
		Timeout:         5 * time.Second,
		MaxRetries:      retries,
		MaxConnections:  2,
		MaxKeepalive:    2,
		KeepaliveExpiry: 5 * time.Second,
		MaxResponseMB:   1,
		Formats:         []string{"markdown"},
	}
}

func newTestClient(t *testing.T, baseURL string, retries int) *Client {
	t.Helper()
	client, err := New(testConfig(baseURL, retries), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	return client
}

func decodeOptions(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	body, _ := io.ReadAll(r.Body)
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	opts, _ := value.(map[string]any)
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := jsonx.Marshal(v)
	_, _ = w.Write(b)
}

func successBody(markdown string) map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"markdown": markdown,
			"metadata": map[string]any{"title": "Test Page"},
			"links":    []any{"https://example.com/next"},
		},
	}
}

func TestScrapeMarkdown_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/scrape" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		opts := decodeOptions(t, r)
		if opts["mobile"] != false {
			t.Errorf("expected desktop rendering, got mobile=%v", opts["mobile"])
		}
		writeJSON(w, 200, successBody("# Hello"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	result, err := client.ScrapeMarkdown(context.Background(), "https://example.com/article", false, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected success, got %q", result.ErrorText)
	}
	if result.Markdown != "# Hello" {
		t.Errorf("markdown = %q", result.Markdown)
	}
	if result.Metadata["title"] != "Test Page" {
		t.Errorf("metadata = %v", result.Metadata)
	}
	if result.RequestID != 7 {
		t.Errorf("request id = %d", result.RequestID)
	}
}

func TestScrapeMarkdown_TogglesMobileOnServerError(t *testing.T) {
	var mobiles []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := decodeOptions(t, r)
		mobiles = append(mobiles, opts["mobile"])
		if len(mobiles) == 1 {
			writeJSON(w, 502, map[string]any{"error": "render crashed"})
			return
		}
		writeJSON(w, 200, successBody("content"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	result, err := client.ScrapeMarkdown(context.Background(), "https://example.com", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected recovery, got %q", result.ErrorText)
	}
	if len(mobiles) != 2 || mobiles[0] != false || mobiles[1] != true {
		t.Errorf("expected desktop then mobile, got %v", mobiles)
	}
}

func TestScrapeMarkdown_KeepsPDFHintAcrossRetries(t *testing.T) {
	var parsers []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := decodeOptions(t, r)
		parsers = append(parsers, opts["parsers"])
		if len(parsers) == 1 {
			writeJSON(w, 500, map[string]any{"error": "boom"})
			return
		}
		writeJSON(w, 200, successBody("pdf text"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	result, _ := client.ScrapeMarkdown(context.Background(), "https://example.com/paper.pdf", false, 0)
	if !result.OK() {
		t.Fatalf("expected success, got %q", result.ErrorText)
	}
	if len(parsers) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(parsers))
	}
	for i, p := range parsers {
		list, ok := p.([]any)
		if !ok || len(list) != 1 || list[0] != "pdf" {
			t.Errorf("attempt %d: expected parsers [pdf], got %v", i, p)
		}
	}
}

func TestScrapeMarkdown_RateLimitRetriesWithoutModeFlip(t *testing.T) {
	var mobiles []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := decodeOptions(t, r)
		mobiles = append(mobiles, opts["mobile"])
		if len(mobiles) == 1 {
			writeJSON(w, 429, map[string]any{"retry_after": 0.01})
			return
		}
		writeJSON(w, 200, successBody("ok"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 2)
	result, err := client.ScrapeMarkdown(context.Background(), "https://example.com", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.OK() {
		t.Fatalf("expected success after rate limit, got %q", result.ErrorText)
	}
	if len(mobiles) != 2 || mobiles[1] != false {
		t.Errorf("rate limiting must not flip rendering mode, got %v", mobiles)
	}
}

func TestScrapeMarkdown_EmbeddedErrorKeepsPartialContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"success": false,
			"data": map[string]any{
				"markdown": "partial content",
				"metadata": map[string]any{"title": "Partial"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	result, err := client.ScrapeMarkdown(context.Background(), "https://example.com", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK() {
		t.Fatal("success=false body must produce an error result")
	}
	if result.Markdown != "partial content" {
		t.Errorf("partial markdown should be preserved, got %q", result.Markdown)
	}
	if result.ErrorCtx["embedded"] != true {
		t.Errorf("expected embedded flag, got %v", result.ErrorCtx)
	}
}

func TestScrapeMarkdown_EmptyContentIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"data": map[string]any{"metadata": map[string]any{}}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	result, _ := client.ScrapeMarkdown(context.Background(), "https://example.com", false, 0)
	if result.OK() {
		t.Fatal("a body with no markdown or html is not a success")
	}
}

func TestScrapeMarkdown_ClientErrorIsTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, 404, map[string]any{"error": "no such page"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	result, err := client.ScrapeMarkdown(context.Background(), "https://example.com/gone", false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.OK() {
		t.Fatal("expected error result")
	}
	if calls != 1 {
		t.Errorf("4xx must not be retried, saw %d calls", calls)
	}
	if result.ErrorCtx["status_code"] != 404 {
		t.Errorf("expected status in context, got %v", result.ErrorCtx)
	}
}

func TestScrapeMarkdown_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"error": "always failing"})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.ScrapeMarkdown(ctx, "https://example.com", false, 0); err == nil {
		t.Fatal("cancelled context must surface as an error")
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	bad := []func(*config.FirecrawlConfig){
		func(c *config.FirecrawlConfig) { c.APIKey = "" },
		func(c *config.FirecrawlConfig) { c.APIKey = "sk-wrong-prefix" },
		func(c *config.FirecrawlConfig) { c.Timeout = 0 },
		func(c *config.FirecrawlConfig) { c.MaxRetries = 11 },
		func(c *config.FirecrawlConfig) { c.MaxConnections = 0 },
		func(c *config.FirecrawlConfig) { c.MaxResponseMB = 2000 },
		func(c *config.FirecrawlConfig) { c.CreditWarning = 5; c.CreditCritical = 10 },
	}
	for i, mutate := range bad {
		cfg := testConfig("http://localhost", 1)
		mutate(&cfg)
		if _, err := New(cfg, zap.NewNop()); err == nil {
			t.Errorf("case %d: expected config rejection", i)
		}
	}
}

func TestSearch_NormalizesItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, 200, map[string]any{
			"data": []any{
				map[string]any{
					"url":         "https://a.example.com",
					"title":       "First",
					"description": "via description key",
					"source":      map[string]any{"name": "Example News"},
					"publishedAt": "2026-01-02",
				},
				map[string]any{"url": "https://a.example.com", "title": "Duplicate"},
				map[string]any{"url": "https://b.example.com"},
				map[string]any{"title": "no url, dropped"},
			},
			"totalResults": 42.0,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	result, err := client.Search(context.Background(), "example query", 5, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.ErrorText)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 deduplicated items, got %d", len(result.Items))
	}
	first := result.Items[0]
	if first.Snippet != "via description key" {
		t.Errorf("snippet = %q", first.Snippet)
	}
	if first.Source != "Example News" {
		t.Errorf("source = %q", first.Source)
	}
	if first.Published != "2026-01-02" {
		t.Errorf("published = %q", first.Published)
	}
	// Missing title falls back to the URL.
	if result.Items[1].Title != "https://b.example.com" {
		t.Errorf("title fallback = %q", result.Items[1].Title)
	}
	if result.TotalResults != 42 {
		t.Errorf("total = %d", result.TotalResults)
	}
}

func TestSearch_ValidatesInput(t *testing.T) {
	client := newTestClient(t, "http://localhost:1", 0)

	if _, err := client.Search(context.Background(), "   ", 5, nil); err == nil {
		t.Error("blank query must be rejected")
	}
	if _, err := client.Search(context.Background(), "q", 0, nil); err == nil {
		t.Error("limit 0 must be rejected")
	}
	if _, err := client.Search(context.Background(), "q", 11, nil); err == nil {
		t.Error("limit 11 must be rejected")
	}
	bad := int64(-1)
	if _, err := client.Search(context.Background(), "q", 5, &bad); err == nil {
		t.Error("negative request id must be rejected")
	}
}

func TestSearch_ServiceErrorBecomesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"error": "search backend down"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	result, err := client.Search(context.Background(), "query", 3, nil)
	if err != nil {
		t.Fatalf("service failures must not be Go errors: %v", err)
	}
	if result.Success {
		t.Fatal("expected failed result")
	}
	if result.ErrorCtx["status_code"] != 500 {
		t.Errorf("expected status context, got %v", result.ErrorCtx)
	}
}
