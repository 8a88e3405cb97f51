package sync

import (
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
)

// SummaryPayload is the structured-output JSON a summary row carries,
// loosened to tolerate legacy rows that stored plain text.
type SummaryPayload struct {
	Summary250  string
	Summary1000 string
	TLDR        string
	Topics      []string
}

// Note derives the bookmark note: the tldr when present, else the short
// summary.
func (p *SummaryPayload) Note() string {
	if p.TLDR != "" {
		return p.TLDR
	}
	return p.Summary250
}

// parsePayload decodes a summary payload. Legacy non-JSON payloads normalize
// to a wrapper object whose text becomes the tldr; a blank payload yields an
// empty value.
func parsePayload(raw string) *SummaryPayload {
	value, _ := jsonx.NormalizeLegacy(&raw)
	obj, ok := value.(map[string]any)
	if !ok {
		return &SummaryPayload{}
	}

	p := &SummaryPayload{}
	if s, ok := obj[jsonx.LegacyTextKey].(string); ok {
		p.TLDR = s
		return p
	}
	p.Summary250, _ = obj["summary_250"].(string)
	p.Summary1000, _ = obj["summary_1000"].(string)
	p.TLDR, _ = obj["tldr"].(string)
	if topics, ok := obj["topics"].([]any); ok {
		for _, t := range topics {
			if s, ok := t.(string); ok && s != "" {
				p.Topics = append(p.Topics, s)
			}
		}
	}
	return p
}
