package models

import (
	"time"
)

// Video download statuses.
const (
	DownloadStatusPending     = "pending"
	DownloadStatusDownloading = "downloading"
	DownloadStatusCompleted   = "completed"
	DownloadStatusError       = "error"
)

// VideoDownloadModel tracks one YouTube acquisition: metadata, file paths and
// the extracted transcript.
type VideoDownloadModel struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID uint   `gorm:"index;not null"`
	VideoID   string `gorm:"index;size:32;not null"`
	Status    string `gorm:"size:16;not null;default:pending"`

	Title       string `gorm:"type:text"`
	Channel     string `gorm:"size:256"`
	ChannelID   string `gorm:"size:64"`
	DurationSec int
	UploadDate  string `gorm:"size:16"`
	ViewCount   int64
	LikeCount   int64
	Resolution  string `gorm:"size:16"`
	FileSize    int64
	VideoCodec  string `gorm:"size:32"`
	AudioCodec  string `gorm:"size:32"`
	FormatID    string `gorm:"size:32"`

	VideoPath     string `gorm:"type:text"`
	SubtitlePath  string `gorm:"type:text"`
	ThumbnailPath string `gorm:"type:text"`

	Transcript       string `gorm:"type:text"`
	TranscriptSource string `gorm:"size:16"` // api, vtt
	TranscriptLang   string `gorm:"size:16"`

	ErrorText string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (VideoDownloadModel) TableName() string {
	return "video_downloads"
}
