package models

import (
	"time"
)

// SummaryModel is the produced summary for one request. Payload is the raw
// structured-output JSON (summary_250, summary_1000, tldr, topics, ...);
// consumers parse what they need rather than this table mirroring the schema.
type SummaryModel struct {
	ID        uint  `gorm:"primaryKey"`
	RequestID uint  `gorm:"index;not null"`
	UserID    int64 `gorm:"index"`

	Payload string `gorm:"type:text;not null"`
	Model   string `gorm:"size:128"`

	IsRead      bool `gorm:"not null;default:false"`
	IsFavorited bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SummaryModel) TableName() string {
	return "summaries"
}
