package anthropic

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	llm "github.com/bsrbot/bsr/internal/infrastructure/llm"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	chatEndpoint     = "/v1/messages"
	anthropicVersion = "2023-06-01"
	structuredBeta   = "structured-outputs-2025-11-13"

	// Anthropic requires an explicit max_tokens on every request.
	defaultMaxTokens = 4096
)

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.BuilderConfig, logger *zap.Logger) llm.Builder {
		return New(cfg, logger)
	})
}

// Builder produces Anthropic Messages API requests. System messages move to
// the top-level system parameter; only user/assistant roles survive in the
// messages array; structured output is opt-in via a beta header.
type Builder struct {
	name    string
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// New creates an Anthropic request builder.
func New(cfg llm.BuilderConfig, logger *zap.Logger) *Builder {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	return &Builder{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		logger:  logger.With(zap.String("provider", name), zap.String("type", "anthropic")),
	}
}

var _ llm.Builder = (*Builder)(nil)

func (b *Builder) Name() string         { return b.name }
func (b *Builder) BaseURL() string      { return b.baseURL }
func (b *Builder) ChatEndpoint() string { return chatEndpoint }

func (b *Builder) BuildHeaders(structured bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-api-key", b.apiKey)
	h.Set("anthropic-version", anthropicVersion)
	if structured {
		h.Set("anthropic-beta", structuredBeta)
	}
	return h
}

func (b *Builder) BuildBody(model string, req *llm.ChatRequest, rf *llm.ResponseFormat, maxTokens int, compress bool) (map[string]any, error) {
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	temperature := req.Temperature
	if temperature > 1 {
		temperature = 1
	}

	system, rest := llm.JoinSystemMessages(req.Messages)

	messages := make([]map[string]any, 0, len(rest))
	for _, m := range rest {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("anthropic request needs at least one user or assistant message")
	}

	body := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages":    messages,
	}
	if system != "" {
		body["system"] = system
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if rf != nil {
		if rf.Type == llm.FormatJSONObject {
			body["output_format"] = map[string]any{"type": "json_object"}
		} else {
			body["output_format"] = map[string]any{
				"type":   "json_schema",
				"schema": rf.Schema,
			}
		}
	}
	return body, nil
}

func (b *Builder) RedactHeaders(h http.Header) map[string]string {
	return llm.RedactAuthHeaders(h)
}

// ParseEnvelope normalizes the Anthropic response: content blocks become the
// message's content part list, stop_reason maps onto finish_reason.
func (b *Builder) ParseEnvelope(body []byte) (*llm.Envelope, error) {
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return nil, err
	}
	raw, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	message := map[string]any{}
	if content, ok := raw["content"]; ok {
		message["content"] = content
	}

	env := &llm.Envelope{
		Message: message,
		Raw:     raw,
	}
	if model, ok := raw["model"].(string); ok {
		env.Model = model
	}
	if stop, ok := raw["stop_reason"].(string); ok {
		env.FinishReason = stop
		env.NativeFinishReason = stop
	}
	if usage, ok := raw["usage"].(map[string]any); ok {
		if in, ok := usage["input_tokens"].(float64); ok {
			env.Usage.PromptTokens = int(in)
		}
		if out, ok := usage["output_tokens"].(float64); ok {
			env.Usage.CompletionTokens = int(out)
		}
		env.Usage.TotalTokens = env.Usage.PromptTokens + env.Usage.CompletionTokens
		if read, ok := usage["cache_read_input_tokens"].(float64); ok {
			env.Usage.CacheReadTokens = int(read)
		}
		if created, ok := usage["cache_creation_input_tokens"].(float64); ok {
			env.Usage.CacheCreationTokens = int(created)
		}
	}
	return env, nil
}
