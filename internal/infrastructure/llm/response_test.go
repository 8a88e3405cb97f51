package llm

import (
	"strings"
	"testing"
)

func TestExtractStructuredContent_ParsedFieldWins(t *testing.T) {
	message := map[string]any{
		"parsed":  map[string]any{"tldr": "from parsed"},
		"content": "from content",
	}
	text, ok := ExtractStructuredContent(message, true)
	if !ok {
		t.Fatal("expected content")
	}
	if !strings.Contains(text, "from parsed") {
		t.Errorf("parsed field should win, got %q", text)
	}
}

func TestExtractStructuredContent_ParsedIgnoredWithoutFormat(t *testing.T) {
	message := map[string]any{
		"parsed":  map[string]any{"tldr": "from parsed"},
		"content": "from content",
	}
	text, _ := ExtractStructuredContent(message, false)
	if text != "from content" {
		t.Errorf("without a requested format, content should win, got %q", text)
	}
}

func TestExtractStructuredContent_ContentParts(t *testing.T) {
	message := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "some prose"},
			map[string]any{"type": "text", "text": `{"tldr": "embedded json"}`},
		},
	}
	text, ok := ExtractStructuredContent(message, true)
	if !ok {
		t.Fatal("expected content")
	}
	if !strings.Contains(text, "embedded json") {
		t.Errorf("JSON-bearing part should win over prose, got %q", text)
	}
	if strings.Contains(text, "some prose") {
		t.Errorf("prose should be dropped when JSON parts exist, got %q", text)
	}
}

func TestExtractStructuredContent_ReasoningFallback(t *testing.T) {
	message := map[string]any{
		"content":   "",
		"reasoning": `The answer is {"tldr": "from reasoning"} as requested.`,
	}
	text, ok := ExtractStructuredContent(message, true)
	if !ok {
		t.Fatal("expected content")
	}
	if !strings.Contains(text, "from reasoning") {
		t.Errorf("expected object extracted from reasoning, got %q", text)
	}
}

func TestExtractStructuredContent_ToolCallFallback(t *testing.T) {
	message := map[string]any{
		"content": "",
		"tool_calls": []any{
			map[string]any{
				"function": map[string]any{
					"name":      "emit_summary",
					"arguments": `{"tldr": "from tool call"}`,
				},
			},
		},
	}
	text, ok := ExtractStructuredContent(message, true)
	if !ok {
		t.Fatal("expected content")
	}
	if !strings.Contains(text, "from tool call") {
		t.Errorf("expected tool call arguments, got %q", text)
	}
}

func TestExtractStructuredContent_Empty(t *testing.T) {
	if _, ok := ExtractStructuredContent(nil, true); ok {
		t.Error("nil message should yield nothing")
	}
	if _, ok := ExtractStructuredContent(map[string]any{"content": ""}, true); ok {
		t.Error("empty message should yield nothing")
	}
}

func summaryFormat() *ResponseFormat {
	return &ResponseFormat{
		Type: FormatJSONSchema,
		Name: "summary",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary_250": map[string]any{"type": "string"},
				"tldr":        map[string]any{"type": "string"},
			},
			"required": []any{"tldr"},
		},
	}
}

func TestValidateStructuredResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"valid summary", `{"tldr": "short", "summary_250": "longer"}`, true},
		{"whitespace padded", "  {\"tldr\": \"short\"}\n", true},
		{"empty text", "", false},
		{"not json", "plain text answer", false},
		{"json array", `[1, 2, 3]`, false},
		{"all summary fields empty", `{"tldr": "", "summary_250": "  "}`, false},
		{"schema violation", `{"tldr": 42}`, false},
	}
	rf := summaryFormat()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, normalized := ValidateStructuredResponse(tt.text, rf)
			if ok != tt.want {
				t.Errorf("ValidateStructuredResponse(%q) = %v, want %v", tt.text, ok, tt.want)
			}
			if ok && normalized != strings.TrimSpace(tt.text) {
				t.Errorf("normalized text should be trimmed, got %q", normalized)
			}
		})
	}
}

func TestValidateStructuredResponse_NonSummarySchema(t *testing.T) {
	rf := &ResponseFormat{
		Type: FormatJSONSchema,
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"answer": map[string]any{"type": "string"}},
		},
	}
	// No summary-field requirement for unrelated schemas.
	if ok, _ := ValidateStructuredResponse(`{"answer": "yes"}`, rf); !ok {
		t.Error("non-summary schema should validate on schema alone")
	}
}

func TestIsCompletionTruncated(t *testing.T) {
	tests := []struct {
		finish string
		native string
		want   bool
	}{
		{"stop", "stop", false},
		{"length", "", true},
		{"max_tokens", "", true},
		{"stop", "MAX-TOKENS", true},
		{"", "model_length", true},
	}
	for _, tt := range tests {
		env := &Envelope{FinishReason: tt.finish, NativeFinishReason: tt.native}
		got, _, _ := IsCompletionTruncated(env)
		if got != tt.want {
			t.Errorf("IsCompletionTruncated(%q, %q) = %v, want %v", tt.finish, tt.native, got, tt.want)
		}
	}
}

func TestErrorContext(t *testing.T) {
	ctx := ErrorContext(429, []byte(`{"error": {"message": "slow down"}}`), "openrouter")
	if ctx["status_code"] != 429 {
		t.Errorf("status_code = %v", ctx["status_code"])
	}
	if ctx["provider"] != "openrouter" {
		t.Errorf("provider = %v", ctx["provider"])
	}
	if ctx["api_error"] != "slow down" {
		t.Errorf("api_error = %v", ctx["api_error"])
	}
	if msg, _ := ctx["message"].(string); !strings.Contains(msg, "Rate limited") {
		t.Errorf("message = %v", ctx["message"])
	}
}

func TestErrorContext_KeyLimitHint(t *testing.T) {
	ctx := ErrorContext(403, []byte(`{"error": {"message": "Key limit exceeded"}}`), "openrouter")
	if msg, _ := ctx["message"].(string); !strings.Contains(msg, "spending limit") {
		t.Errorf("expected spending-limit hint, got %v", ctx["message"])
	}
}

func TestErrorContext_UnknownServerStatus(t *testing.T) {
	ctx := ErrorContext(521, nil, "")
	if msg, _ := ctx["message"].(string); !strings.Contains(msg, "internal error") {
		t.Errorf("5xx without a mapping should fall back to the 500 message, got %v", ctx["message"])
	}
}

func TestFormatErrorText(t *testing.T) {
	ctx := map[string]any{"message": "Rate limited by the provider", "api_error": "slow down"}
	text := FormatErrorText(429, ctx)
	if text != "HTTP 429: Rate limited by the provider (slow down)" {
		t.Errorf("unexpected text %q", text)
	}
	if FormatErrorText(418, map[string]any{}) != "HTTP 418" {
		t.Error("bare status fallback broken")
	}
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("openai/gpt-4o-mini", 1000, 1000)
	if cost == nil {
		t.Fatal("known model should have a price")
	}
	want := 0.00015 + 0.0006
	if diff := *cost - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("cost = %g, want %g", *cost, want)
	}
}

func TestEstimateCost_PrefixMatch(t *testing.T) {
	if EstimateCost("openai/gpt-4o-2024-11-20", 100, 100) == nil {
		t.Error("versioned model id should match its family prefix")
	}
	// gpt-4o-mini-X must price as mini, not as gpt-4o.
	mini := EstimateCost("openai/gpt-4o-mini-2024-07-18", 1000, 0)
	if mini == nil || *mini != 0.00015 {
		t.Errorf("longest prefix should win, got %v", mini)
	}
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	if EstimateCost("acme/unknown-model", 100, 100) != nil {
		t.Error("unknown model must return nil, not zero")
	}
}
