package youtube

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"go.uber.org/zap"
)

// VideoMetadata is what the downloader learns about a video.
type VideoMetadata struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	ChannelID   string `json:"channel_id"`
	DurationSec int    `json:"duration_sec"`
	UploadDate  string `json:"upload_date"`
	ViewCount   int64  `json:"view_count"`
	LikeCount   int64  `json:"like_count"`
	Resolution  string `json:"resolution"`
	FileSize    int64  `json:"file_size"`
	VideoCodec  string `json:"video_codec"`
	AudioCodec  string `json:"audio_codec"`
	FormatID    string `json:"format_id"`

	VideoPath     string `json:"video_path,omitempty"`
	SubtitlePath  string `json:"subtitle_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
}

// VideoDownloader fetches one video plus its subtitle tracks into outDir.
type VideoDownloader interface {
	Download(ctx context.Context, videoID, videoURL, outDir string) (*VideoMetadata, error)
}

// Downloader shells out to yt-dlp. One Download call fetches metadata, the
// video file and subtitle tracks into the chosen directory.
type Downloader struct {
	quality   string
	languages []string
	logger    *zap.Logger
}

// NewDownloader builds a yt-dlp wrapper; quality is "1080p" style.
func NewDownloader(quality string, languages []string, logger *zap.Logger) *Downloader {
	if quality == "" {
		quality = "1080p"
	}
	return &Downloader{
		quality:   quality,
		languages: languages,
		logger:    logger.With(zap.String("component", "ytdlp")),
	}
}

// CheckBinary verifies yt-dlp is installed.
func CheckBinary() error {
	if _, err := exec.LookPath("yt-dlp"); err != nil {
		return fmt.Errorf("yt-dlp not found in PATH: %w", err)
	}
	return nil
}

// Download runs yt-dlp for one video. Files land in outDir with the
// "<video_id>_" name prefix the cleanup pass keys on. The caller owns the
// timeout through ctx.
func (d *Downloader) Download(ctx context.Context, videoID, videoURL, outDir string) (*VideoMetadata, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	meta, err := d.fetchMetadata(ctx, videoURL)
	if err != nil {
		return nil, err
	}
	meta.VideoID = videoID

	outTpl := filepath.Join(outDir, videoID+"_%(title).200s.%(ext)s")
	args := []string{
		"--no-playlist", "--no-color", "--newline",
		"-f", formatSelector(d.quality),
		"--merge-output-format", "mp4",
		"--write-subs", "--write-auto-subs",
		"--sub-format", "vtt",
		"--restrict-filenames",
		"-o", outTpl,
		videoURL,
	}
	if len(d.languages) > 0 {
		args = append([]string{"--sub-langs", strings.Join(d.languages, ",")}, args...)
	}

	d.logger.Info("starting video download",
		zap.String("video_id", videoID), zap.String("quality", d.quality))

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyDownloadError(err, stderr.String())
	}

	d.locateOutputs(meta, outDir, videoID)
	return meta, nil
}

// fetchMetadata asks yt-dlp for the video's info JSON without downloading.
func (d *Downloader) fetchMetadata(ctx context.Context, videoURL string) (*VideoMetadata, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp", "-J", "--no-playlist", videoURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyDownloadError(err, stderr.String())
	}

	var info struct {
		Title      string  `json:"title"`
		Channel    string  `json:"channel"`
		ChannelID  string  `json:"channel_id"`
		Duration   float64 `json:"duration"`
		UploadDate string  `json:"upload_date"`
		ViewCount  int64   `json:"view_count"`
		LikeCount  int64   `json:"like_count"`
		Height     int     `json:"height"`
		Filesize   int64   `json:"filesize_approx"`
		VCodec     string  `json:"vcodec"`
		ACodec     string  `json:"acodec"`
		FormatID   string  `json:"format_id"`
	}
	if err := jsonx.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to parse video metadata: %w", err)
	}

	resolution := ""
	if info.Height > 0 {
		resolution = fmt.Sprintf("%dp", info.Height)
	}
	return &VideoMetadata{
		Title:       info.Title,
		Channel:     info.Channel,
		ChannelID:   info.ChannelID,
		DurationSec: int(info.Duration),
		UploadDate:  info.UploadDate,
		ViewCount:   info.ViewCount,
		LikeCount:   info.LikeCount,
		Resolution:  resolution,
		FileSize:    info.Filesize,
		VideoCodec:  info.VCodec,
		AudioCodec:  info.ACodec,
		FormatID:    info.FormatID,
	}, nil
}

// locateOutputs records the paths yt-dlp produced for this video.
func (d *Downloader) locateOutputs(meta *VideoMetadata, outDir, videoID string) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return
	}
	prefix := videoID + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		full := filepath.Join(outDir, entry.Name())
		switch {
		case strings.HasSuffix(entry.Name(), ".mp4"):
			meta.VideoPath = full
			if info, err := entry.Info(); err == nil {
				meta.FileSize = info.Size()
			}
		case strings.HasSuffix(entry.Name(), ".vtt"):
			meta.SubtitlePath = full
		case strings.HasSuffix(entry.Name(), ".jpg"), strings.HasSuffix(entry.Name(), ".webp"):
			meta.ThumbnailPath = full
		}
	}
}

// formatSelector maps a "1080p" style quality to a yt-dlp format expression.
func formatSelector(quality string) string {
	height := strings.TrimSuffix(strings.ToLower(quality), "p")
	if height == "" || height == quality {
		return "bestvideo+bestaudio/best"
	}
	return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", height, height)
}

// classifyDownloadError turns yt-dlp stderr into a human-readable error.
func classifyDownloadError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "sign in to confirm your age"),
		strings.Contains(lower, "age-restricted"):
		return fmt.Errorf("video is age-restricted and cannot be downloaded")
	case strings.Contains(lower, "not available in your country"),
		strings.Contains(lower, "geo restriction"):
		return fmt.Errorf("video is geo-blocked in this region")
	case strings.Contains(lower, "private video"):
		return fmt.Errorf("video is private")
	case strings.Contains(lower, "http error 429"), strings.Contains(lower, "rate limit"):
		return fmt.Errorf("download rate-limited by the video service")
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return fmt.Errorf("video download timed out")
	case strings.Contains(lower, "http error 404"), strings.Contains(lower, "video unavailable"):
		return fmt.Errorf("video not found or removed")
	default:
		tail := strings.TrimSpace(stderr)
		if len(tail) > 300 {
			tail = tail[len(tail)-300:]
		}
		if tail != "" {
			return fmt.Errorf("video download failed: %v: %s", err, tail)
		}
		return fmt.Errorf("video download failed: %w", err)
	}
}
