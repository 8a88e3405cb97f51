package youtube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// Transcript sources.
const (
	SourceAPI    = "api"
	SourceVTT    = "vtt"
	SourceCached = "cached"
)

// Options tune one acquisition call.
type Options struct {
	// Silent suppresses the cached-hit notification.
	Silent bool
	// Progress receives per-stage updates when set.
	Progress func(stage string)
	// Notify delivers user-facing messages when set.
	Notify func(text string)
}

// Result is the outcome of one acquisition: the transcript with a metadata
// header prepended, plus where it came from.
type Result struct {
	RequestID  uint           `json:"request_id"`
	VideoID    string         `json:"video_id"`
	Transcript string         `json:"transcript"`
	Source     string         `json:"source"`
	Language   string         `json:"language"`
	Metadata   *VideoMetadata `json:"metadata,omitempty"`
	Cached     bool           `json:"cached"`
}

// Pipeline acquires YouTube videos: transcript first, then the video file
// with subtitle fallback. Duplicate submissions are serialized per dedupe
// hash and resolve to the cached transcript.
type Pipeline struct {
	cfg         config.YouTubeConfig
	store       *persistence.Store
	transcripts TranscriptService
	downloader  VideoDownloader
	locks       *keyedMutex
	logger      *zap.Logger
}

// NewPipeline wires the acquisition pipeline.
func NewPipeline(cfg config.YouTubeConfig, store *persistence.Store, transcripts TranscriptService, downloader VideoDownloader, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		store:       store,
		transcripts: transcripts,
		downloader:  downloader,
		locks:       newKeyedMutex(),
		logger:      logger.With(zap.String("component", "youtube")),
	}
}

// DownloadAndExtract runs the full acquisition for one URL.
func (p *Pipeline) DownloadAndExtract(ctx context.Context, videoURL string, userID int64, opts Options) (*Result, error) {
	videoID := ExtractVideoID(videoURL)
	if videoID == "" {
		return nil, apperrors.NewInvalidInputError("Invalid YouTube URL").
			WithContext("url", videoURL)
	}

	if err := p.enforceStorageBudget(ctx); err != nil {
		return nil, err
	}

	canonical := CanonicalURL(videoID)
	hash := urlx.Hash(canonical)

	// Critical section: the database check plus the row writes, nothing
	// else. Concurrent submissions of the same video serialize here.
	unlock := p.locks.Lock(hash)

	request, download, cached, err := p.resolveRequest(ctx, hash, videoURL, canonical, videoID, userID)
	if err != nil {
		unlock()
		return nil, err
	}
	if cached != nil {
		unlock()
		if opts.Notify != nil && !opts.Silent {
			opts.Notify("Already processed; returning the cached transcript.")
		}
		return cached, nil
	}
	unlock()

	result, err := p.heavyWork(ctx, request, download, videoID, canonical, opts)
	if err != nil {
		p.markFailed(request.ID, download.ID, err)
		return nil, err
	}
	return result, nil
}

// resolveRequest runs under the per-hash lock: either returns the cached
// transcript for a completed download, or creates/reuses the request and
// download rows for fresh work.
func (p *Pipeline) resolveRequest(ctx context.Context, hash, inputURL, normalizedURL, videoID string, userID int64) (*models.RequestModel, *models.VideoDownloadModel, *Result, error) {
	request, err := p.store.GetRequestByDedupeHash(ctx, hash)
	if err != nil {
		return nil, nil, nil, err
	}

	if request != nil {
		download, err := p.store.GetVideoDownloadByRequest(ctx, request.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		if download != nil && download.Status == models.DownloadStatusCompleted {
			p.logger.Info("returning cached transcript",
				zap.String("video_id", videoID), zap.Uint("request_id", request.ID))
			return nil, nil, &Result{
				RequestID:  request.ID,
				VideoID:    videoID,
				Transcript: metadataHeaderFromRow(download) + download.Transcript,
				Source:     SourceCached,
				Language:   download.TranscriptLang,
				Cached:     true,
			}, nil
		}
		if download == nil {
			download, err = p.store.CreateVideoDownload(ctx, request.ID, videoID, models.DownloadStatusPending)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		return request, download, nil, nil
	}

	request, err = p.store.CreateRequest(ctx, userID, inputURL, normalizedURL, hash)
	if err != nil {
		return nil, nil, nil, err
	}
	download, err := p.store.CreateVideoDownload(ctx, request.ID, videoID, models.DownloadStatusPending)
	if err != nil {
		return nil, nil, nil, err
	}
	return request, download, nil, nil
}

// heavyWork performs transcript fetch, video download and persistence,
// outside the dedupe lock. The deferred cleanup removes partial files on any
// abnormal exit, cancellation included.
func (p *Pipeline) heavyWork(ctx context.Context, request *models.RequestModel, download *models.VideoDownloadModel, videoID, canonical string, opts Options) (result *Result, err error) {
	outDir := filepath.Join(p.cfg.StorageRoot, time.Now().Format("20060102"))
	succeeded := false
	defer func() {
		if !succeeded {
			p.cleanupPartialFiles(outDir, videoID)
		}
	}()

	progress := func(stage string) {
		if opts.Progress != nil {
			opts.Progress(stage)
		}
	}

	if err := p.store.UpdateVideoDownloadStatus(ctx, download.ID, models.DownloadStatusDownloading); err != nil {
		return nil, err
	}

	progress("transcript")
	transcript, lang, err := p.fetchTranscript(ctx, videoID)
	if err != nil {
		return nil, err
	}
	source := SourceAPI

	progress("download")
	downloadCtx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	meta, err := p.downloader.Download(downloadCtx, videoID, canonical, outDir)
	cancel()
	if err != nil {
		return nil, err
	}

	if transcript == "" && meta.SubtitlePath != "" {
		progress("subtitles")
		transcript, err = parseVTTFile(meta.SubtitlePath)
		if err != nil {
			p.logger.Warn("subtitle parse failed",
				zap.String("path", meta.SubtitlePath), zap.Error(err))
		}
		if transcript != "" {
			source = SourceVTT
			if lang == "" {
				lang = inferVTTLanguage(filepath.Base(meta.SubtitlePath))
			}
		}
	}

	if transcript == "" {
		return nil, fmt.Errorf("no transcript available for video %s", videoID)
	}
	if lang == "" {
		lang = detectLanguage(transcript)
	}

	if err := p.persistOutcome(ctx, request, download, meta, transcript, source, lang); err != nil {
		return nil, err
	}
	succeeded = true

	progress("done")
	return &Result{
		RequestID:  request.ID,
		VideoID:    videoID,
		Transcript: metadataHeader(meta) + transcript,
		Source:     source,
		Language:   lang,
		Metadata:   meta,
	}, nil
}

func (p *Pipeline) persistOutcome(ctx context.Context, request *models.RequestModel, download *models.VideoDownloadModel, meta *VideoMetadata, transcript, source, lang string) error {
	fields := map[string]any{
		"status":            models.DownloadStatusCompleted,
		"title":             meta.Title,
		"channel":           meta.Channel,
		"channel_id":        meta.ChannelID,
		"duration_sec":      meta.DurationSec,
		"upload_date":       meta.UploadDate,
		"view_count":        meta.ViewCount,
		"like_count":        meta.LikeCount,
		"resolution":        meta.Resolution,
		"file_size":         meta.FileSize,
		"video_codec":       meta.VideoCodec,
		"audio_codec":       meta.AudioCodec,
		"format_id":         meta.FormatID,
		"video_path":        meta.VideoPath,
		"subtitle_path":     meta.SubtitlePath,
		"thumbnail_path":    meta.ThumbnailPath,
		"transcript":        transcript,
		"transcript_source": source,
		"transcript_lang":   lang,
	}
	if err := p.store.UpdateVideoDownload(ctx, download.ID, fields); err != nil {
		return err
	}
	if err := p.store.UpdateRequestStatus(ctx, request.ID, models.RequestStatusOK); err != nil {
		return err
	}
	return p.store.UpdateRequestLangDetected(ctx, request.ID, lang)
}

// markFailed transitions the rows to error. Runs on a fresh context so the
// transition lands even when the caller's context is already cancelled.
func (p *Pipeline) markFailed(requestID, downloadID uint, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.UpdateVideoDownload(ctx, downloadID, map[string]any{
		"status":     models.DownloadStatusError,
		"error_text": cause.Error(),
	}); err != nil {
		p.logger.Warn("failed to mark download as errored", zap.Error(err))
	}
	if err := p.store.UpdateRequestStatus(ctx, requestID, models.RequestStatusError); err != nil {
		p.logger.Warn("failed to mark request as errored", zap.Error(err))
	}
}

// cleanupPartialFiles removes this video's leftovers from an aborted run:
// every "<video_id>_"-prefixed .mp4.part/.m4a/.mp4 under the date directory,
// then the directory itself if that left it empty. Unrelated files stay.
func (p *Pipeline) cleanupPartialFiles(outDir, videoID string) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return
	}
	prefix := videoID + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if !strings.HasSuffix(name, ".mp4.part") &&
			!strings.HasSuffix(name, ".m4a") &&
			!strings.HasSuffix(name, ".mp4") {
			continue
		}
		path := filepath.Join(outDir, name)
		if err := os.Remove(path); err != nil {
			p.logger.Warn("cleanup failed to remove partial file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		p.logger.Info("cleaned up partial file", zap.String("path", path))
	}
	removeDirIfEmpty(outDir)
}

// metadataHeader renders the compact header prepended to transcripts.
func metadataHeader(meta *VideoMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", meta.Title)
	fmt.Fprintf(&b, "Channel: %s\n", meta.Channel)
	if meta.DurationSec > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", formatDuration(meta.DurationSec))
	}
	if meta.UploadDate != "" {
		fmt.Fprintf(&b, "Uploaded: %s\n", meta.UploadDate)
	}
	if meta.ViewCount > 0 {
		fmt.Fprintf(&b, "Views: %d\n", meta.ViewCount)
	}
	b.WriteString("\n")
	return b.String()
}

func metadataHeaderFromRow(row *models.VideoDownloadModel) string {
	return metadataHeader(&VideoMetadata{
		Title:       row.Title,
		Channel:     row.Channel,
		DurationSec: row.DurationSec,
		UploadDate:  row.UploadDate,
		ViewCount:   row.ViewCount,
	})
}

func formatDuration(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// detectLanguage is a coarse script-based guess used only when neither the
// transcript API nor the subtitle filename named a language.
func detectLanguage(text string) string {
	sample := text
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	var cjk, cyrillic, latin int
	for _, r := range sample {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF, r >= 0x3040 && r <= 0x30FF, r >= 0xAC00 && r <= 0xD7AF:
			cjk++
		case r >= 0x0400 && r <= 0x04FF:
			cyrillic++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	switch {
	case cjk > latin && cjk > cyrillic:
		return "zh"
	case cyrillic > latin:
		return "ru"
	default:
		return "en"
	}
}
