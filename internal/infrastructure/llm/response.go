package llm

import (
	"fmt"
	"strings"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/xeipuuv/gojsonschema"
)

// summaryFields is the field family a structured summary response must
// populate (at least one non-empty).
var summaryFields = []string{"summary_250", "summary_1000", "tldr"}

// ExtractStructuredContent pulls the best textual content out of a normalized
// response message. Inspection order: parsed object, plain content string,
// content part list, reasoning, first tool call's arguments.
func ExtractStructuredContent(message map[string]any, rfIncluded bool) (string, bool) {
	if message == nil {
		return "", false
	}

	// 1. parsed field (present when the provider honored structured output)
	if rfIncluded {
		if parsed, ok := message["parsed"]; ok && parsed != nil {
			if b, err := jsonx.Marshal(parsed); err == nil {
				return string(b), true
			}
		}
	}

	// 2. content as plain string
	switch content := message["content"].(type) {
	case string:
		if content != "" {
			return content, true
		}
	case []any:
		// 3. content as a list of typed parts
		if text, ok := walkContentParts(content); ok {
			return text, true
		}
	}

	// 4. reasoning string, preferring an embedded JSON object
	if reasoning, ok := message["reasoning"].(string); ok && reasoning != "" {
		if obj, found := jsonx.ExtractObject(reasoning); found {
			if b, err := jsonx.Marshal(obj); err == nil {
				return string(b), true
			}
		}
		return reasoning, true
	}

	// 5. first tool call's function arguments
	if text, ok := extractToolCallArguments(message["tool_calls"]); ok {
		return text, true
	}

	return "", false
}

// walkContentParts flattens a heterogeneous content part list. JSON-bearing
// segments win over text segments; duplicates (by serialized form) are
// dropped. Recursion is bounded to survive adversarial nesting.
func walkContentParts(parts []any) (string, bool) {
	var jsonSegs, textSegs []string
	seen := make(map[string]struct{})

	add := func(segs *[]string, s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		*segs = append(*segs, s)
	}

	var walk func(v any, depth int)
	walk = func(v any, depth int) {
		if depth > 8 {
			return
		}
		switch part := v.(type) {
		case []any:
			for _, elem := range part {
				walk(elem, depth+1)
			}
		case map[string]any:
			for _, key := range []string{"json", "parsed", "arguments", "output"} {
				if val, ok := part[key]; ok && val != nil {
					if s, ok := val.(string); ok {
						add(&jsonSegs, s)
						continue
					}
					if b, err := jsonx.Marshal(val); err == nil {
						add(&jsonSegs, string(b))
					}
				}
			}
			if fn, ok := part["function"].(map[string]any); ok {
				if args, ok := fn["arguments"].(string); ok {
					add(&jsonSegs, args)
				} else if args, ok := fn["arguments"]; ok && args != nil {
					if b, err := jsonx.Marshal(args); err == nil {
						add(&jsonSegs, string(b))
					}
				}
			}
			if tc, ok := part["tool_calls"]; ok {
				walk(tc, depth+1)
			}
			for _, key := range []string{"text", "content", "reasoning"} {
				val, ok := part[key]
				if !ok || val == nil {
					continue
				}
				if s, ok := val.(string); ok {
					// A string that parses as a JSON object counts as JSON.
					if obj, found := jsonx.ExtractObject(s); found && strings.HasPrefix(strings.TrimSpace(s), "{") {
						if b, err := jsonx.Marshal(obj); err == nil {
							add(&jsonSegs, string(b))
							continue
						}
					}
					add(&textSegs, s)
					continue
				}
				walk(val, depth+1)
			}
		}
	}
	walk(parts, 0)

	if len(jsonSegs) > 0 {
		return strings.Join(jsonSegs, "\n"), true
	}
	if len(textSegs) > 0 {
		return strings.Join(textSegs, "\n"), true
	}
	return "", false
}

func extractToolCallArguments(v any) (string, bool) {
	calls, ok := v.([]any)
	if !ok || len(calls) == 0 {
		return "", false
	}
	call, ok := calls[0].(map[string]any)
	if !ok {
		return "", false
	}
	fn, ok := call["function"].(map[string]any)
	if !ok {
		return "", false
	}
	switch args := fn["arguments"].(type) {
	case string:
		return args, args != ""
	case map[string]any:
		if b, err := jsonx.Marshal(args); err == nil {
			return string(b), true
		}
	}
	return "", false
}

// ExtractResponseData returns the response text, usage, and provider-reported
// cost (nil when the provider does not supply one).
func ExtractResponseData(env *Envelope, rfIncluded bool) (string, Usage, *float64) {
	text, _ := ExtractStructuredContent(env.Message, rfIncluded)
	return text, env.Usage, env.Usage.TotalCost
}

// ValidateStructuredResponse checks that text is valid JSON and, for the
// summary schema family, that at least one summary field is a non-empty
// string. When the requested format carries a schema, the parsed value is
// additionally validated against it. Returns normalized (trimmed) text.
func ValidateStructuredResponse(text string, rf *ResponseFormat) (bool, string) {
	normalized := strings.TrimSpace(text)
	if normalized == "" {
		return false, normalized
	}

	value, err := jsonx.ParseDefault([]byte(normalized))
	if err != nil {
		return false, normalized
	}

	obj, isObj := value.(map[string]any)
	if !isObj {
		return false, normalized
	}

	if isSummarySchema(rf) {
		hasSummary := false
		for _, field := range summaryFields {
			if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
				hasSummary = true
				break
			}
		}
		if !hasSummary {
			return false, normalized
		}
	}

	if rf != nil && rf.Type == FormatJSONSchema && len(rf.Schema) > 0 {
		schemaLoader := gojsonschema.NewGoLoader(rf.Schema)
		docLoader := gojsonschema.NewGoLoader(obj)
		if result, err := gojsonschema.Validate(schemaLoader, docLoader); err == nil && !result.Valid() {
			return false, normalized
		}
	}

	return true, normalized
}

func isSummarySchema(rf *ResponseFormat) bool {
	if rf == nil || rf.Schema == nil {
		return false
	}
	props, ok := rf.Schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	for _, field := range summaryFields {
		if _, ok := props[field]; ok {
			return true
		}
	}
	return false
}

// IsCompletionTruncated reports whether the provider cut the completion off at
// the token limit.
func IsCompletionTruncated(env *Envelope) (bool, string, string) {
	finish := strings.ToLower(env.FinishReason)
	native := strings.ToLower(strings.ReplaceAll(env.NativeFinishReason, "-", "_"))

	truncated := finish == "length" || finish == "max_tokens" ||
		strings.Contains(native, "max_token") || strings.Contains(native, "length")
	return truncated, env.FinishReason, env.NativeFinishReason
}

// statusMessages maps canonical upstream status codes to human messages.
var statusMessages = map[int]string{
	400: "Bad request: the provider rejected the request payload",
	401: "Authentication failed: check the API key",
	402: "Payment required: account balance exhausted",
	403: "Access forbidden for this key or model",
	404: "Model or endpoint not found",
	429: "Rate limited by the provider",
	500: "Provider internal error",
}

// ErrorContext builds the structured error context for a non-200 response.
func ErrorContext(status int, body []byte, provider string) map[string]any {
	ctx := map[string]any{
		"status_code": status,
	}
	if provider != "" {
		ctx["provider"] = provider
	}

	msg, known := statusMessages[status]
	if !known && status >= 500 {
		msg = statusMessages[500]
	}
	if msg != "" {
		ctx["message"] = msg
	}

	if apiErr := extractAPIError(body); apiErr != "" {
		ctx["api_error"] = apiErr
		if status == 403 && strings.Contains(strings.ToLower(apiErr), "key limit exceeded") {
			ctx["message"] = "API key spending limit exceeded; raise the limit or rotate the key"
		}
	}
	return ctx
}

func extractAPIError(body []byte) string {
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return ""
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return ""
	}
	switch e := obj["error"].(type) {
	case string:
		return e
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return m
		}
		if b, err := jsonx.Marshal(e); err == nil {
			return string(b)
		}
	}
	if m, ok := obj["message"].(string); ok {
		return m
	}
	return ""
}

// FormatErrorText renders a short error string for a status + context pair.
func FormatErrorText(status int, ctx map[string]any) string {
	if msg, ok := ctx["message"].(string); ok {
		if apiErr, ok := ctx["api_error"].(string); ok && apiErr != "" {
			return fmt.Sprintf("HTTP %d: %s (%s)", status, msg, apiErr)
		}
		return fmt.Sprintf("HTTP %d: %s", status, msg)
	}
	return fmt.Sprintf("HTTP %d", status)
}
