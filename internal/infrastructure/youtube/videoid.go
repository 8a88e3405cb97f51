package youtube

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
	"www.youtu.be":      true,
}

// ExtractVideoID pulls the 11-character video id out of any recognized
// YouTube URL form: watch?v=, youtu.be/, shorts/, embed/, live/. Returns ""
// when the URL is not a YouTube video link.
func ExtractVideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !youtubeHosts[strings.ToLower(u.Host)] {
		return ""
	}

	host := strings.ToLower(u.Host)
	if host == "youtu.be" || host == "www.youtu.be" {
		return validID(strings.TrimPrefix(u.Path, "/"))
	}

	if v := u.Query().Get("v"); v != "" {
		return validID(v)
	}

	for _, prefix := range []string{"/shorts/", "/embed/", "/live/", "/v/"} {
		if strings.HasPrefix(u.Path, prefix) {
			rest := strings.TrimPrefix(u.Path, prefix)
			if idx := strings.IndexByte(rest, '/'); idx >= 0 {
				rest = rest[:idx]
			}
			return validID(rest)
		}
	}
	return ""
}

func validID(candidate string) string {
	if videoIDPattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

// CanonicalURL is the normalized watch URL for a video id; dedupe hashes are
// computed over this form so every URL variant of a video collapses to one
// request.
func CanonicalURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
