package models

import (
	"time"
)

// Sync directions.
const (
	DirectionBSRToKarakeep = "bsr_to_karakeep"
	DirectionKarakeepToBSR = "karakeep_to_bsr"
)

// SyncRecordModel links a local summary (or request) to a remote bookmark.
// The (url_hash, direction) pair is unique so racing inserters collide at the
// database instead of producing duplicate linkages; URLHash is the full
// 64-char dedupe hash, though historical rows may hold only its first 16
// characters.
type SyncRecordModel struct {
	ID         uint   `gorm:"primaryKey"`
	SummaryID  *uint  `gorm:"index"`
	RequestID  *uint  `gorm:"index"`
	BookmarkID string `gorm:"size:64"`
	URLHash    string `gorm:"uniqueIndex:idx_sync_hash_dir;size:64;not null"`
	Direction  string `gorm:"uniqueIndex:idx_sync_hash_dir;size:32;not null"`

	SyncedAt           time.Time
	BSRModifiedAt      *time.Time
	KarakeepModifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SyncRecordModel) TableName() string {
	return "sync_records"
}
