package jsonx

import "strings"

// LegacyTextKey wraps non-JSON legacy payloads so downstream consumers always
// see an object.
const LegacyTextKey = "__legacy_text__"

// NormalizeLegacy handles historical summary payload columns that predate
// structured storage:
//
//	nil            → nil, no rewrite
//	blank string   → nil, flagged for rewrite
//	non-JSON text  → {__legacy_text__: text}, flagged for rewrite
//	valid JSON     → parsed value, no rewrite
func NormalizeLegacy(raw *string) (any, bool) {
	if raw == nil {
		return nil, false
	}
	if strings.TrimSpace(*raw) == "" {
		return nil, true
	}

	value, err := ParseDefault([]byte(*raw))
	if err != nil {
		return map[string]any{LegacyTextKey: *raw}, true
	}
	return value, false
}
