package youtube

import (
	"os"
	"regexp"
	"strings"
)

var (
	vttTimestampLine = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?\.\d{3}\s+-->\s+`)
	vttTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// knownLangCodes is the code list used to infer a subtitle language from the
// filename (e.g. "..._Title.en.vtt" → "en").
var knownLangCodes = map[string]bool{
	"en": true, "es": true, "fr": true, "de": true, "it": true,
	"pt": true, "ru": true, "ja": true, "ko": true, "zh": true,
	"ar": true, "hi": true, "nl": true, "pl": true, "tr": true,
	"vi": true, "th": true, "id": true, "sv": true, "uk": true,
}

// parseVTTFile reads a WebVTT subtitle file into plain transcript text:
// timestamps, cue settings and markup are stripped and consecutive duplicate
// lines (auto-caption rollups) collapse to one.
func parseVTTFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return parseVTT(string(data)), nil
}

func parseVTT(content string) string {
	var parts []string
	var last string

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || line == "WEBVTT" ||
			strings.HasPrefix(line, "Kind:") ||
			strings.HasPrefix(line, "Language:") ||
			strings.HasPrefix(line, "NOTE") ||
			strings.HasPrefix(line, "STYLE") ||
			vttTimestampLine.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(vttTagPattern.ReplaceAllString(line, ""))
		if line == "" || line == last {
			continue
		}
		parts = append(parts, line)
		last = line
	}

	joined := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if len(joined) > maxTranscriptChars {
		joined = joined[:maxTranscriptChars]
	}
	return joined
}

// inferVTTLanguage extracts the language code from a subtitle filename like
// "<id>_Title.en.vtt". Returns "" when no segment matches a known code.
func inferVTTLanguage(filename string) string {
	name := strings.TrimSuffix(filename, ".vtt")
	segments := strings.Split(name, ".")
	for i := len(segments) - 1; i >= 0; i-- {
		code := strings.ToLower(segments[i])
		if base, _, found := strings.Cut(code, "-"); found {
			code = base
		}
		if knownLangCodes[code] {
			return code
		}
	}
	return ""
}
