package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/httpx"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/bsrbot/bsr/internal/infrastructure/retry"
	"go.uber.org/zap"
)

const (
	// maxTranscriptChars caps stored transcripts (~125k tokens).
	maxTranscriptChars = 500_000

	transcriptAttempts  = 3
	transcriptBaseDelay = 1 * time.Second
)

// Transcript failure signals.
var (
	// ErrTranscriptsDisabled means the uploader turned transcripts off;
	// the pipeline continues to the subtitle fallback.
	ErrTranscriptsDisabled = errors.New("transcripts are disabled for this video")
	// ErrVideoUnavailable is fatal: private, deleted or region-blocked.
	ErrVideoUnavailable = errors.New("video is unavailable")
)

// TranscriptSegment is one timed piece of transcript text.
type TranscriptSegment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// TranscriptInfo is one available transcript track with its segments.
type TranscriptInfo struct {
	Language     string              `json:"language"`
	LanguageCode string              `json:"language_code"`
	IsGenerated  bool                `json:"is_generated"`
	Segments     []TranscriptSegment `json:"segments"`
}

// TranscriptService lists the transcripts available for a video.
type TranscriptService interface {
	ListTranscripts(ctx context.Context, videoID string) ([]TranscriptInfo, error)
}

// apiTranscriptService talks to the transcript sidecar over HTTP.
type apiTranscriptService struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewTranscriptService builds the HTTP-backed transcript service.
func NewTranscriptService(baseURL string, timeout time.Duration, logger *zap.Logger) TranscriptService {
	baseURL = strings.TrimRight(baseURL, "/")
	key := httpx.NewClientKey(baseURL, timeout, 5, 2, "")
	return &apiTranscriptService{
		baseURL: baseURL,
		http:    httpx.DefaultPool.Acquire(key),
		logger:  logger.With(zap.String("component", "transcript")),
	}
}

func (s *apiTranscriptService) ListTranscripts(ctx context.Context, videoID string) ([]TranscriptInfo, error) {
	endpoint := s.baseURL + "/api/v1/transcripts/" + url.PathEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyTranscriptError(resp.StatusCode, body)
	}

	var out struct {
		Transcripts []TranscriptInfo `json:"transcripts"`
	}
	if err := jsonx.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("transcript response was not valid JSON: %w", err)
	}
	return out.Transcripts, nil
}

func classifyTranscriptError(status int, body []byte) error {
	text := strings.ToLower(string(body))
	switch {
	case strings.Contains(text, "transcripts_disabled"), strings.Contains(text, "transcripts are disabled"):
		return ErrTranscriptsDisabled
	case strings.Contains(text, "video_unavailable"), strings.Contains(text, "video unavailable"):
		return ErrVideoUnavailable
	default:
		return fmt.Errorf("transcript service returned HTTP %d", status)
	}
}

// fetchTranscript pulls the best transcript for the video: a manually created
// track in the configured languages wins over an auto-generated one. Disabled
// transcripts yield ("", "") so the subtitle fallback can run; unavailable
// videos are fatal.
func (p *Pipeline) fetchTranscript(ctx context.Context, videoID string) (text, lang string, err error) {
	var tracks []TranscriptInfo
	for attempt := 0; attempt < transcriptAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.TranscriptTimeout)
		tracks, err = p.transcripts.ListTranscripts(attemptCtx, videoID)
		cancel()

		if err == nil {
			break
		}
		if errors.Is(err, ErrTranscriptsDisabled) {
			p.logger.Info("transcripts disabled, will try subtitle fallback",
				zap.String("video_id", videoID))
			return "", "", nil
		}
		if errors.Is(err, ErrVideoUnavailable) || ctx.Err() != nil {
			return "", "", err
		}
		if attempt < transcriptAttempts-1 {
			if serr := retry.Sleep(ctx, retry.Delay(attempt, transcriptBaseDelay, 10*time.Second)); serr != nil {
				return "", "", serr
			}
		}
	}
	if err != nil {
		p.logger.Warn("transcript fetch exhausted retries",
			zap.String("video_id", videoID), zap.Error(err))
		return "", "", nil
	}

	track := pickTranscript(tracks, p.cfg.Languages)
	if track == nil {
		return "", "", nil
	}
	return joinSegments(track.Segments), track.LanguageCode, nil
}

// pickTranscript prefers a manual track in the configured language order,
// then the first generated track matching any configured language.
func pickTranscript(tracks []TranscriptInfo, languages []string) *TranscriptInfo {
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	for _, lang := range languages {
		for i := range tracks {
			if !tracks[i].IsGenerated && langMatches(tracks[i].LanguageCode, lang) {
				return &tracks[i]
			}
		}
	}
	for _, lang := range languages {
		for i := range tracks {
			if tracks[i].IsGenerated && langMatches(tracks[i].LanguageCode, lang) {
				return &tracks[i]
			}
		}
	}
	return nil
}

func langMatches(code, want string) bool {
	code = strings.ToLower(code)
	want = strings.ToLower(want)
	return code == want || strings.HasPrefix(code, want+"-")
}

// joinSegments concatenates transcript segments, collapses whitespace and
// truncates at the storage cap.
func joinSegments(segments []TranscriptSegment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	joined := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if len(joined) > maxTranscriptChars {
		joined = joined[:maxTranscriptChars]
	}
	return joined
}
