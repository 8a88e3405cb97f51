package sync

import (
	"time"

	"go.uber.org/zap"
)

// timestampLayouts are tried in order when the store or the remote hands back
// a timestamp as a string.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// coerceTime normalizes whatever a datetime column or API field came back as
// into a UTC time, or nil. Naive values are assumed UTC; anything
// unrecognizable is logged and dropped rather than half-parsed.
func coerceTime(value any, logger *zap.Logger) *time.Time {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v.UTC()
		return &t
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil
		}
		t := v.UTC()
		return &t
	case string:
		if v == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				t = t.UTC()
				return &t
			}
		}
		logger.Warn("unparseable timestamp", zap.String("value", v))
		return nil
	default:
		logger.Warn("unexpected timestamp type", zap.Any("value", value))
		return nil
	}
}

// laterOf picks the newer of two optional timestamps; nil loses to anything.
func laterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.After(*b) {
		return a
	}
	return b
}
