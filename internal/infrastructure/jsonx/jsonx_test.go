package jsonx

import (
	"strings"
	"testing"
)

func TestParse_WithinLimits(t *testing.T) {
	value, err := ParseDefault([]byte(`{"a": [1, 2, 3], "b": {"c": "d"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", value)
	}
	if len(obj) != 2 {
		t.Errorf("expected 2 keys, got %d", len(obj))
	}
}

func TestParse_RejectsOversizedInput(t *testing.T) {
	limits := Limits{MaxBytes: 10}
	if _, err := Parse([]byte(`{"key": "a long value"}`), limits); err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestParse_RejectsDeepNesting(t *testing.T) {
	depth := 30
	data := strings.Repeat(`{"a":`, depth) + "1" + strings.Repeat("}", depth)

	if _, err := Parse([]byte(data), Limits{MaxDepth: 20}); err == nil {
		t.Fatal("expected depth limit error")
	}
	if _, err := Parse([]byte(data), Limits{MaxDepth: 100}); err != nil {
		t.Fatalf("depth within limit should parse: %v", err)
	}
}

func TestParse_RejectsLongArrays(t *testing.T) {
	data := "[" + strings.TrimSuffix(strings.Repeat("1,", 50), ",") + "]"
	if _, err := Parse([]byte(data), Limits{MaxArrayLen: 10}); err == nil {
		t.Fatal("expected array length error")
	}
}

func TestParse_RejectsWideObjects(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("{")
	for i := 0; i < 20; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"k`)
		sb.WriteByte(byte('a' + i))
		sb.WriteString(`": 1`)
	}
	sb.WriteString("}")

	if _, err := Parse([]byte(sb.String()), Limits{MaxDictKeys: 10}); err == nil {
		t.Fatal("expected key count error")
	}
}

func TestParse_MalformedInput(t *testing.T) {
	if _, err := ParseDefault([]byte(`{"unterminated": `)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		ok   bool
		key  string
	}{
		{"bare object", `{"summary": "hi"}`, true, "summary"},
		{"prose wrapped", "Here is the JSON you asked for:\n```json\n{\"tldr\": \"short\"}\n```\nDone!", true, "tldr"},
		{"nested braces", `prefix {"a": {"b": "}"}} suffix`, true, "a"},
		{"brace in string", `{"text": "a { b } c"}`, true, "text"},
		{"no object", "just some text", false, ""},
		{"unbalanced", `{"a": 1`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, ok := ExtractObject(tt.text)
			if ok != tt.ok {
				t.Fatalf("ExtractObject ok=%v, want %v", ok, tt.ok)
			}
			if tt.ok {
				if _, present := obj[tt.key]; !present {
					t.Errorf("expected key %q in %v", tt.key, obj)
				}
			}
		})
	}
}

func TestExtractObject_SkipsUnparseableCandidate(t *testing.T) {
	text := `{invalid} then {"valid": true}`
	obj, ok := ExtractObject(text)
	if !ok {
		t.Fatal("expected second candidate to parse")
	}
	if obj["valid"] != true {
		t.Errorf("unexpected object %v", obj)
	}
}

func TestNormalizeLegacy(t *testing.T) {
	t.Run("nil payload", func(t *testing.T) {
		value, rewrite := NormalizeLegacy(nil)
		if value != nil || rewrite {
			t.Errorf("got value=%v rewrite=%v", value, rewrite)
		}
	})

	t.Run("blank payload", func(t *testing.T) {
		s := "   "
		value, rewrite := NormalizeLegacy(&s)
		if value != nil {
			t.Errorf("blank should yield nil, got %v", value)
		}
		if !rewrite {
			t.Error("blank payload should be flagged for rewrite")
		}
	})

	t.Run("plain text payload", func(t *testing.T) {
		s := "an old unstructured summary"
		value, rewrite := NormalizeLegacy(&s)
		obj, ok := value.(map[string]any)
		if !ok {
			t.Fatalf("expected wrapper object, got %T", value)
		}
		if obj[LegacyTextKey] != s {
			t.Errorf("expected text under %s, got %v", LegacyTextKey, obj)
		}
		if !rewrite {
			t.Error("legacy text should be flagged for rewrite")
		}
	})

	t.Run("valid json payload", func(t *testing.T) {
		s := `{"tldr": "fine"}`
		value, rewrite := NormalizeLegacy(&s)
		if rewrite {
			t.Error("valid JSON should not be rewritten")
		}
		obj, ok := value.(map[string]any)
		if !ok || obj["tldr"] != "fine" {
			t.Errorf("unexpected value %v", value)
		}
	})
}
