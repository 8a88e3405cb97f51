package llm

import (
	"fmt"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
)

// ParseOpenAIEnvelope decodes a chat-completions response (OpenAI wire shape,
// shared by the aggregator and direct OpenAI providers) into the normalized
// envelope.
func ParseOpenAIEnvelope(body []byte) (*Envelope, error) {
	value, err := jsonx.ParseDefault(body)
	if err != nil {
		return nil, err
	}
	raw, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	choices, _ := raw["choices"].([]any)
	if len(choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}
	choice, _ := choices[0].(map[string]any)
	if choice == nil {
		return nil, fmt.Errorf("malformed choice")
	}
	message, _ := choice["message"].(map[string]any)

	env := &Envelope{
		Message: message,
		Raw:     raw,
	}
	if model, ok := raw["model"].(string); ok {
		env.Model = model
	}
	if fr, ok := choice["finish_reason"].(string); ok {
		env.FinishReason = fr
	}
	if nfr, ok := choice["native_finish_reason"].(string); ok {
		env.NativeFinishReason = nfr
	}

	if usage, ok := raw["usage"].(map[string]any); ok {
		env.Usage.PromptTokens = intField(usage, "prompt_tokens")
		env.Usage.CompletionTokens = intField(usage, "completion_tokens")
		env.Usage.TotalTokens = intField(usage, "total_tokens")
		if env.Usage.TotalTokens == 0 {
			env.Usage.TotalTokens = env.Usage.PromptTokens + env.Usage.CompletionTokens
		}
		for _, key := range []string{"total_cost", "cost"} {
			if cost, ok := usage[key].(float64); ok && cost > 0 {
				c := cost
				env.Usage.TotalCost = &c
				break
			}
		}
		if details, ok := usage["prompt_tokens_details"].(map[string]any); ok {
			env.Usage.CacheReadTokens = intField(details, "cached_tokens")
		}
		if created := intField(usage, "cache_creation_input_tokens"); created > 0 {
			env.Usage.CacheCreationTokens = created
		}
	}

	return env, nil
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}
