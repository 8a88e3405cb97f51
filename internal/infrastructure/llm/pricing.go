package llm

import "strings"

// modelPrice is USD per 1k tokens.
type modelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// pricingTable is keyed on the exact model id or a family prefix. Exact ids
// win over prefixes; the longest matching prefix wins among prefixes.
var pricingTable = map[string]modelPrice{
	"openai/gpt-4o-mini":          {0.00015, 0.0006},
	"openai/gpt-4o":               {0.0025, 0.01},
	"openai/gpt-4.1-mini":         {0.0004, 0.0016},
	"openai/gpt-4.1":              {0.002, 0.008},
	"gpt-4o-mini":                 {0.00015, 0.0006},
	"gpt-4o":                      {0.0025, 0.01},
	"anthropic/claude-3-5-haiku":  {0.0008, 0.004},
	"anthropic/claude-sonnet-4":   {0.003, 0.015},
	"claude-3-5-haiku":            {0.0008, 0.004},
	"claude-sonnet-4":             {0.003, 0.015},
	"google/gemini-2.0-flash":     {0.0001, 0.0004},
	"google/gemini-2.5-flash":     {0.0003, 0.0025},
	"deepseek/deepseek-chat":      {0.00027, 0.0011},
	"meta-llama/llama-3.3-70b":    {0.00012, 0.0003},
}

// EstimateCost computes the USD cost for a call from the configured per-1k
// prices. Returns nil when the model is unknown, so callers can distinguish
// "free" from "unpriced".
func EstimateCost(model string, promptTokens, completionTokens int) *float64 {
	price, ok := lookupPrice(model)
	if !ok {
		return nil
	}
	cost := float64(promptTokens)/1000*price.InputPer1K +
		float64(completionTokens)/1000*price.OutputPer1K
	return &cost
}

func lookupPrice(model string) (modelPrice, bool) {
	if p, ok := pricingTable[model]; ok {
		return p, true
	}
	var best string
	for key := range pricingTable {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return pricingTable[best], true
	}
	return modelPrice{}, false
}
