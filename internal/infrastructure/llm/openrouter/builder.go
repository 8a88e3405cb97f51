package openrouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	llm "github.com/bsrbot/bsr/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://openrouter.ai"
	chatEndpoint   = "/api/v1/chat/completions"
	modelsEndpoint = "/api/v1/models"

	refererHeader = "https://github.com/bsrbot/bsr"
	titleHeader   = "BSR"
)

func init() {
	llm.RegisterFactory("openrouter", func(cfg llm.BuilderConfig, logger *zap.Logger) llm.Builder {
		return New(cfg, logger)
	})
}

// Builder produces OpenRouter aggregator requests. OpenRouter is
// OpenAI-compatible on the wire but adds provider routing preferences,
// middle-out compression transforms, and a structured-output model catalogue.
type Builder struct {
	name          string
	baseURL       string
	apiKey        string
	providerOrder []string
	logger        *zap.Logger
}

// New creates an OpenRouter request builder.
func New(cfg llm.BuilderConfig, logger *zap.Logger) *Builder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openrouter"
	}
	return &Builder{
		name:          name,
		baseURL:       baseURL,
		apiKey:        cfg.APIKey,
		providerOrder: cfg.ProviderOrder,
		logger:        logger.With(zap.String("provider", name), zap.String("type", "openrouter")),
	}
}

var _ llm.Builder = (*Builder)(nil)
var _ llm.StructuredModelLister = (*Builder)(nil)

func (b *Builder) Name() string         { return b.name }
func (b *Builder) BaseURL() string      { return b.baseURL }
func (b *Builder) ChatEndpoint() string { return chatEndpoint }

func (b *Builder) BuildHeaders(structured bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+b.apiKey)
	h.Set("HTTP-Referer", refererHeader)
	h.Set("X-Title", titleHeader)
	return h
}

func (b *Builder) BuildBody(model string, req *llm.ChatRequest, rf *llm.ResponseFormat, maxTokens int, compress bool) (map[string]any, error) {
	body := map[string]any{
		"model":       model,
		"messages":    wireMessages(req.Messages),
		"temperature": req.Temperature,
	}
	if maxTokens > 0 {
		body["max_tokens"] = maxTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.Stream {
		body["stream"] = true
	}
	if rf != nil {
		body["response_format"] = wireResponseFormat(rf)
	}
	if compress {
		body["transforms"] = []string{"middle-out"}
	}
	if len(b.providerOrder) > 0 {
		body["provider"] = map[string]any{"order": b.providerOrder}
	}
	return body, nil
}

// wireResponseFormat rewrites the abstract format to OpenRouter's native
// shape. A caller-supplied fully wrapped object passes through.
func wireResponseFormat(rf *llm.ResponseFormat) map[string]any {
	if rf.Type == llm.FormatJSONObject {
		return map[string]any{"type": "json_object"}
	}
	if wrapped, ok := rf.Schema["json_schema"].(map[string]any); ok {
		return map[string]any{"type": "json_schema", "json_schema": wrapped}
	}
	name := rf.Name
	if name == "" {
		name = "response"
	}
	return map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   name,
			"strict": rf.Strict,
			"schema": rf.Schema,
		},
	}
}

func (b *Builder) RedactHeaders(h http.Header) map[string]string {
	return llm.RedactAuthHeaders(h)
}

func (b *Builder) ParseEnvelope(body []byte) (*llm.Envelope, error) {
	return llm.ParseOpenAIEnvelope(body)
}

// ListStructuredModels fetches the model catalogue filtered to models that
// support structured outputs.
func (b *Builder) ListStructuredModels(ctx context.Context, client *http.Client) ([]string, error) {
	url := b.baseURL + modelsEndpoint + "?supported_parameters=structured_outputs"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models catalogue fetch failed: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, err
	}

	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("models catalogue is not an object")
	}
	data, _ := obj["data"].([]any)

	models := make([]string, 0, len(data))
	for _, item := range data {
		if entry, ok := item.(map[string]any); ok {
			if id, ok := entry["id"].(string); ok && id != "" {
				models = append(models, id)
			}
		}
	}
	return models, nil
}

func wireMessages(messages []llm.ChatMessage) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
