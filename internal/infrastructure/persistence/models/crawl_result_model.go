package models

import (
	"time"
)

// CrawlResultModel stores the scraped page for a request: the markdown body
// plus the page metadata the scrape service extracted.
type CrawlResultModel struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID uint   `gorm:"uniqueIndex;not null"`
	Title     string `gorm:"type:text"`
	Markdown  string `gorm:"type:text"`
	Metadata  string `gorm:"type:text"` // JSON encoded page metadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CrawlResultModel) TableName() string {
	return "crawl_results"
}
