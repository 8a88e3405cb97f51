package models

import (
	"time"
)

// Request statuses.
const (
	RequestStatusPending = "pending"
	RequestStatusOK      = "ok"
	RequestStatusError   = "error"
)

// RequestModel is one ingestion request: a URL submitted for summarization.
// DedupeHash is the SHA-256 of the normalized URL and is unique; duplicate
// submissions resolve to the existing row.
type RequestModel struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        int64  `gorm:"index"`
	InputURL      string `gorm:"type:text;not null"`
	NormalizedURL string `gorm:"type:text;not null"`
	DedupeHash    string `gorm:"uniqueIndex;size:64;not null"`
	Status        string `gorm:"size:16;not null;default:pending"`
	LangDetected  string `gorm:"size:16"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RequestModel) TableName() string {
	return "requests"
}
