package llm

import (
	"regexp"
	"strings"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
)

// Message roles accepted in a ChatRequest.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	maxMessages        = 50
	maxTokensCeiling   = 100000
	sanitizedMsgLength = 1000
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormatType selects the structured-output negotiation mode.
type ResponseFormatType string

const (
	FormatJSONObject ResponseFormatType = "json_object"
	FormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat is the provider-agnostic structured-output request. Builders
// rewrite it into each provider's native shape.
type ResponseFormat struct {
	Type   ResponseFormatType `json:"type"`
	Name   string             `json:"name,omitempty"`
	Strict bool               `json:"strict,omitempty"`
	Schema map[string]any     `json:"schema,omitempty"`
}

// ChatRequest is the input to the chat orchestrator.
type ChatRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	RequestID      int64           `json:"request_id,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	ModelOverride  string          `json:"model,omitempty"`
}

// Validate rejects malformed requests before any wire call. Violations carry a
// context map naming the offending field.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return apperrors.NewInvalidInputError("messages must not be empty").WithContext("field", "messages")
	}
	if len(r.Messages) > maxMessages {
		return apperrors.NewInvalidInputError("too many messages").
			WithContext("field", "messages").WithContext("count", len(r.Messages))
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return apperrors.NewInvalidInputError("invalid message role").
				WithContext("field", "messages").WithContext("index", i).WithContext("role", m.Role)
		}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return apperrors.NewInvalidInputError("temperature out of range [0, 2]").
			WithContext("field", "temperature").WithContext("value", r.Temperature)
	}
	if r.MaxTokens < 0 || r.MaxTokens > maxTokensCeiling {
		return apperrors.NewInvalidInputError("max_tokens out of range (0, 100000]").
			WithContext("field", "max_tokens").WithContext("value", r.MaxTokens)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return apperrors.NewInvalidInputError("top_p out of range [0, 1]").
			WithContext("field", "top_p").WithContext("value", *r.TopP)
	}
	if r.RequestID < 0 {
		return apperrors.NewInvalidInputError("request_id must be a positive integer").
			WithContext("field", "request_id").WithContext("value", r.RequestID)
	}
	return nil
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore previous instructions`),
	regexp.MustCompile(`(?i)forget previous instructions`),
	regexp.MustCompile(`(?i)^\s*system:`),
	regexp.MustCompile(`(?i)^\s*assistant:`),
	regexp.MustCompile(`(?i)^\s*user:`),
	regexp.MustCompile("```"),
}

// ScrubUserContent strips prompt-injection patterns from user-role messages.
// System and assistant content pass through untouched.
func ScrubUserContent(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = m
		if m.Role != RoleUser {
			continue
		}
		content := m.Content
		for _, p := range injectionPatterns {
			content = p.ReplaceAllString(content, "")
		}
		out[i].Content = content
	}
	return out
}

// SanitizeMessages truncates very long message bodies for logging.
func SanitizeMessages(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = m
		if len(m.Content) > sanitizedMsgLength {
			out[i].Content = m.Content[:sanitizedMsgLength] + "...[truncated]"
		}
	}
	return out
}

// CacheMetrics reports prompt-cache usage when the provider supplies it.
type CacheMetrics struct {
	ReadTokens     int     `json:"read_tokens"`
	CreationTokens int     `json:"creation_tokens"`
	Discount       float64 `json:"discount"`
	Hit            bool    `json:"hit"`
}

// ChatResult is the outcome of one orchestrated chat call.
type ChatResult struct {
	Status        string         `json:"status"` // "ok" | "error"
	Model         string         `json:"model"`
	ResponseText  string         `json:"response_text"`
	ResponseBody  map[string]any `json:"response_body,omitempty"`
	PromptTokens  int            `json:"prompt_tokens"`
	OutputTokens  int            `json:"completion_tokens"`
	TotalTokens   int            `json:"total_tokens"`
	CostUSD       *float64       `json:"cost_usd,omitempty"`
	LatencyMillis int64          `json:"latency_ms"`
	ErrorText     string         `json:"error_text,omitempty"`
	ErrorContext  map[string]any `json:"error_context,omitempty"`

	RequestHeaders    map[string]string `json:"request_headers,omitempty"`
	RequestMessages   []ChatMessage     `json:"request_messages,omitempty"`
	Endpoint          string            `json:"endpoint,omitempty"`
	StructuredUsed    bool              `json:"structured_output_used"`
	StructuredMode    string            `json:"structured_output_mode,omitempty"`
	Cache             *CacheMetrics     `json:"cache_metrics,omitempty"`
}

// OK reports whether the call produced usable output. An ok result always has
// non-empty text or body.
func (r *ChatResult) OK() bool {
	return r.Status == "ok" && (r.ResponseText != "" || len(r.ResponseBody) > 0)
}

// JoinSystemMessages concatenates system-role content in order. Used by the
// anthropic builder, which takes the system prompt as a top-level parameter.
func JoinSystemMessages(messages []ChatMessage) (system string, rest []ChatMessage) {
	var parts []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}
