package jsonx

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Limits bounds what the parser will accept.
type Limits struct {
	MaxBytes    int
	MaxDepth    int
	MaxArrayLen int
	MaxDictKeys int
}

// DefaultLimits matches the service-wide parsing budget.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:    10 * 1024 * 1024,
		MaxDepth:    20,
		MaxArrayLen: 10000,
		MaxDictKeys: 1000,
	}
}

// Parse decodes data under the given limits. It never panics; all failures
// come back as errors.
func Parse(data []byte, limits Limits) (any, error) {
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, fmt.Errorf("json exceeds size limit: %d > %d bytes", len(data), limits.MaxBytes)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("json parse failed: %w", err)
	}

	if err := checkBounds(value, 0, limits); err != nil {
		return nil, err
	}
	return value, nil
}

// ParseDefault decodes data under DefaultLimits.
func ParseDefault(data []byte) (any, error) {
	return Parse(data, DefaultLimits())
}

func checkBounds(value any, depth int, limits Limits) error {
	if limits.MaxDepth > 0 && depth > limits.MaxDepth {
		return fmt.Errorf("json exceeds depth limit %d", limits.MaxDepth)
	}

	switch v := value.(type) {
	case map[string]any:
		if limits.MaxDictKeys > 0 && len(v) > limits.MaxDictKeys {
			return fmt.Errorf("json object exceeds key limit: %d > %d", len(v), limits.MaxDictKeys)
		}
		for _, elem := range v {
			if err := checkBounds(elem, depth+1, limits); err != nil {
				return err
			}
		}
	case []any:
		if limits.MaxArrayLen > 0 && len(v) > limits.MaxArrayLen {
			return fmt.Errorf("json array exceeds length limit: %d > %d", len(v), limits.MaxArrayLen)
		}
		for _, elem := range v {
			if err := checkBounds(elem, depth+1, limits); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExtractObject finds the first balanced JSON object embedded in free text and
// returns its parsed value. Used for models that wrap JSON in prose.
func ExtractObject(text string) (map[string]any, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				var obj map[string]any
				if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
					return obj, true
				}
				// Unparseable candidate; keep scanning after it.
				start = -1
			}
		}
	}
	return nil, false
}

// Marshal serializes v with the shared jsoniter config.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes into a typed value with the shared jsoniter config. The
// bounded Parse is for untrusted free-form payloads; this is for known wire
// shapes.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
