package openai

import (
	"net/http"
	"strings"

	llm "github.com/bsrbot/bsr/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	chatEndpoint   = "/v1/chat/completions"
)

func init() {
	llm.RegisterFactory("openai", func(cfg llm.BuilderConfig, logger *zap.Logger) llm.Builder {
		return New(cfg, logger)
	})
}

// Builder produces direct OpenAI chat-completions requests.
type Builder struct {
	name    string
	baseURL string
	apiKey  string
	orgID   string
	logger  *zap.Logger
}

// New creates an OpenAI request builder.
func New(cfg llm.BuilderConfig, logger *zap.Logger) *Builder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &Builder{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		orgID:   cfg.OrgID,
		logger:  logger.With(zap.String("provider", name), zap.String("type", "openai")),
	}
}

var _ llm.Builder = (*Builder)(nil)

func (b *Builder) Name() string         { return b.name }
func (b *Builder) BaseURL() string      { return b.baseURL }
func (b *Builder) ChatEndpoint() string { return chatEndpoint }

func (b *Builder) BuildHeaders(structured bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+b.apiKey)
	if b.orgID != "" {
		h.Set("OpenAI-Organization", b.orgID)
	}
	return h
}

func (b *Builder) BuildBody(model string, req *llm.ChatRequest, rf *llm.ResponseFormat, maxTokens int, compress bool) (map[string]any, error) {
	// Strip an aggregator prefix if the configured model carries one
	// (e.g. "openai/gpt-4o-mini" → "gpt-4o-mini").
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

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
	if rf != nil {
		if rf.Type == llm.FormatJSONObject {
			body["response_format"] = map[string]any{"type": "json_object"}
		} else {
			name := rf.Name
			if name == "" {
				name = "response"
			}
			body["response_format"] = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   name,
					"strict": true,
					"schema": rf.Schema,
				},
			}
		}
	}
	return body, nil
}

func (b *Builder) RedactHeaders(h http.Header) map[string]string {
	return llm.RedactAuthHeaders(h)
}

func (b *Builder) ParseEnvelope(body []byte) (*llm.Envelope, error) {
	return llm.ParseOpenAIEnvelope(body)
}

func wireMessages(messages []llm.ChatMessage) []map[string]any {
	out := make([]map[string]any, len(messages))
	for i, m := range messages {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}
