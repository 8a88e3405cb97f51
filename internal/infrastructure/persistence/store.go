package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	apperrors "github.com/bsrbot/bsr/pkg/errors"
)

// Store is the persistence read/write surface consumed by the ingestion and
// sync layers. All lookups that feed dedupe decisions return (nil, nil) on
// absence so callers branch on existence instead of unwrapping errors.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a live gorm connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ---- requests ----

// GetRequestByDedupeHash returns the request with the given dedupe hash, or
// (nil, nil) when none exists.
func (s *Store) GetRequestByDedupeHash(ctx context.Context, hash string) (*models.RequestModel, error) {
	var m models.RequestModel
	err := s.db.WithContext(ctx).First(&m, "dedupe_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load request: " + err.Error())
	}
	return &m, nil
}

// GetRequestByID returns a request row, or (nil, nil) when absent.
func (s *Store) GetRequestByID(ctx context.Context, id uint) (*models.RequestModel, error) {
	var m models.RequestModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load request: " + err.Error())
	}
	return &m, nil
}

// CreateRequest inserts a fresh ingestion request in state pending.
func (s *Store) CreateRequest(ctx context.Context, userID int64, inputURL, normalizedURL, dedupeHash string) (*models.RequestModel, error) {
	m := &models.RequestModel{
		UserID:        userID,
		InputURL:      inputURL,
		NormalizedURL: normalizedURL,
		DedupeHash:    dedupeHash,
		Status:        models.RequestStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to create request: " + err.Error())
	}
	return m, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id uint, status string) error {
	return s.updateColumns(ctx, &models.RequestModel{}, id, map[string]any{"status": status}, "request")
}

func (s *Store) UpdateRequestLangDetected(ctx context.Context, id uint, lang string) error {
	return s.updateColumns(ctx, &models.RequestModel{}, id, map[string]any{"lang_detected": lang}, "request")
}

// GetExistingRequestHashes returns the set of every known dedupe hash.
func (s *Store) GetExistingRequestHashes(ctx context.Context) (map[string]struct{}, error) {
	var hashes []string
	err := s.db.WithContext(ctx).
		Model(&models.RequestModel{}).
		Pluck("dedupe_hash", &hashes).Error
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load request hashes: " + err.Error())
	}
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}

// ---- video downloads ----

func (s *Store) CreateVideoDownload(ctx context.Context, requestID uint, videoID, status string) (*models.VideoDownloadModel, error) {
	m := &models.VideoDownloadModel{
		RequestID: requestID,
		VideoID:   videoID,
		Status:    status,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to create video download: " + err.Error())
	}
	return m, nil
}

func (s *Store) UpdateVideoDownloadStatus(ctx context.Context, id uint, status string) error {
	return s.updateColumns(ctx, &models.VideoDownloadModel{}, id, map[string]any{"status": status}, "video download")
}

// UpdateVideoDownload applies arbitrary column updates (metadata, transcript,
// file paths) to a download row.
func (s *Store) UpdateVideoDownload(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return s.updateColumns(ctx, &models.VideoDownloadModel{}, id, fields, "video download")
}

// GetVideoDownloadByRequest returns the download row for a request, or
// (nil, nil) when there is none.
func (s *Store) GetVideoDownloadByRequest(ctx context.Context, requestID uint) (*models.VideoDownloadModel, error) {
	var m models.VideoDownloadModel
	err := s.db.WithContext(ctx).First(&m, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load video download: " + err.Error())
	}
	return &m, nil
}

// ---- summaries ----

func (s *Store) CreateSummary(ctx context.Context, m *models.SummaryModel) (*models.SummaryModel, error) {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to create summary: " + err.Error())
	}
	return m, nil
}

// GetSummariesForSync returns every summary eligible for outbound sync,
// optionally filtered to one user.
func (s *Store) GetSummariesForSync(ctx context.Context, userID *int64) ([]models.SummaryModel, error) {
	q := s.db.WithContext(ctx).Model(&models.SummaryModel{}).Order("id asc")
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var out []models.SummaryModel
	if err := q.Find(&out).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to load summaries: " + err.Error())
	}
	return out, nil
}

func (s *Store) GetSummaryByID(ctx context.Context, id uint) (*models.SummaryModel, error) {
	var m models.SummaryModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load summary: " + err.Error())
	}
	return &m, nil
}

// GetSummaryByRequestID returns the summary produced for a request, or
// (nil, nil) when none exists yet.
func (s *Store) GetSummaryByRequestID(ctx context.Context, requestID uint) (*models.SummaryModel, error) {
	var m models.SummaryModel
	err := s.db.WithContext(ctx).First(&m, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load summary: " + err.Error())
	}
	return &m, nil
}

// UpdateSummaryStatus writes read/favourite flags; nil fields are untouched.
func (s *Store) UpdateSummaryStatus(ctx context.Context, id uint, isRead, isFavorited *bool) error {
	fields := map[string]any{}
	if isRead != nil {
		fields["is_read"] = *isRead
	}
	if isFavorited != nil {
		fields["is_favorited"] = *isFavorited
	}
	if len(fields) == 0 {
		return nil
	}
	return s.updateColumns(ctx, &models.SummaryModel{}, id, fields, "summary")
}

// ---- crawl results ----

func (s *Store) SaveCrawlResult(ctx context.Context, m *models.CrawlResultModel) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			UpdateAll: true,
		}).
		Create(m).Error
	if err != nil {
		return apperrors.NewInternalError("failed to save crawl result: " + err.Error())
	}
	return nil
}

// GetCrawlResultTitle returns the scraped page title for a request; empty
// when no crawl result exists.
func (s *Store) GetCrawlResultTitle(ctx context.Context, requestID uint) (string, error) {
	var m models.CrawlResultModel
	err := s.db.WithContext(ctx).
		Select("title").
		First(&m, "request_id = ?", requestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.NewInternalError("failed to load crawl result: " + err.Error())
	}
	return m.Title, nil
}

// ---- sync records ----

// GetSyncedHashesByDirection returns the set of URL hashes already synced in
// the given direction. Entries may be full 64-char hashes or 16-char legacy
// prefixes.
func (s *Store) GetSyncedHashesByDirection(ctx context.Context, direction string) (map[string]struct{}, error) {
	var hashes []string
	err := s.db.WithContext(ctx).
		Model(&models.SyncRecordModel{}).
		Where("direction = ?", direction).
		Pluck("url_hash", &hashes).Error
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load synced hashes: " + err.Error())
	}
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}

// CreateSyncRecord inserts a sync linkage. A unique-constraint collision on
// (url_hash, direction) returns (nil, nil): the caller lost a race and must
// compensate rather than treat it as success.
func (s *Store) CreateSyncRecord(ctx context.Context, m *models.SyncRecordModel) (*models.SyncRecordModel, error) {
	if m.SyncedAt.IsZero() {
		m.SyncedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Create(m).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, apperrors.NewInternalError("failed to create sync record: " + err.Error())
	}
	return m, nil
}

// UpsertSyncRecord inserts or, on (url_hash, direction) conflict, refreshes
// the existing linkage.
func (s *Store) UpsertSyncRecord(ctx context.Context, m *models.SyncRecordModel) (*models.SyncRecordModel, error) {
	if m.SyncedAt.IsZero() {
		m.SyncedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url_hash"}, {Name: "direction"}},
			UpdateAll: true,
		}).
		Create(m).Error
	if err != nil {
		return nil, apperrors.NewInternalError("failed to upsert sync record: " + err.Error())
	}
	return m, nil
}

// UpdateSyncTimestamps writes the last-seen modification timestamps on a
// linkage; nil values are untouched.
func (s *Store) UpdateSyncTimestamps(ctx context.Context, id uint, localModified, remoteModified *time.Time) error {
	fields := map[string]any{}
	if localModified != nil {
		fields["bsr_modified_at"] = *localModified
	}
	if remoteModified != nil {
		fields["karakeep_modified_at"] = *remoteModified
	}
	if len(fields) == 0 {
		return nil
	}
	return s.updateColumns(ctx, &models.SyncRecordModel{}, id, fields, "sync record")
}

// DeleteAllSyncRecords removes linkages, optionally restricted to one
// direction. Returns the number of deleted rows.
func (s *Store) DeleteAllSyncRecords(ctx context.Context, direction string) (int64, error) {
	q := s.db.WithContext(ctx)
	if direction != "" {
		q = q.Where("direction = ?", direction)
	} else {
		q = q.Where("1 = 1")
	}
	result := q.Delete(&models.SyncRecordModel{})
	if result.Error != nil {
		return 0, apperrors.NewInternalError("failed to delete sync records: " + result.Error.Error())
	}
	return result.RowsAffected, nil
}

// SyncedItem pairs a sync linkage with its local summary for the status
// reconciler.
type SyncedItem struct {
	Record  models.SyncRecordModel
	Summary *models.SummaryModel
}

// GetSyncedItemsWithBookmarkAndSummary returns every linkage that names both
// a remote bookmark and a local summary, with the summary loaded.
func (s *Store) GetSyncedItemsWithBookmarkAndSummary(ctx context.Context) ([]SyncedItem, error) {
	var records []models.SyncRecordModel
	err := s.db.WithContext(ctx).
		Where("bookmark_id <> '' AND summary_id IS NOT NULL").
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load synced items: " + err.Error())
	}

	items := make([]SyncedItem, 0, len(records))
	for _, rec := range records {
		item := SyncedItem{Record: rec}
		if rec.SummaryID != nil {
			summary, err := s.GetSummaryByID(ctx, *rec.SummaryID)
			if err != nil {
				return nil, err
			}
			item.Summary = summary
		}
		items = append(items, item)
	}
	return items, nil
}

// SyncStats summarizes the linkage table.
type SyncStats struct {
	Total        int64            `json:"total"`
	ByDirection  map[string]int64 `json:"by_direction"`
	LastSyncedAt *time.Time       `json:"last_synced_at,omitempty"`
}

func (s *Store) GetSyncStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{ByDirection: map[string]int64{}}

	if err := s.db.WithContext(ctx).Model(&models.SyncRecordModel{}).Count(&stats.Total).Error; err != nil {
		return nil, apperrors.NewInternalError("failed to count sync records: " + err.Error())
	}

	type row struct {
		Direction string
		N         int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.SyncRecordModel{}).
		Select("direction, count(*) as n").
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.NewInternalError("failed to group sync records: " + err.Error())
	}
	for _, r := range rows {
		stats.ByDirection[r.Direction] = r.N
	}

	var last models.SyncRecordModel
	err = s.db.WithContext(ctx).Order("synced_at desc").First(&last).Error
	if err == nil {
		t := last.SyncedAt
		stats.LastSyncedAt = &t
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewInternalError("failed to load last sync record: " + err.Error())
	}

	return stats, nil
}

// ---- helpers ----

func (s *Store) updateColumns(ctx context.Context, model any, id uint, fields map[string]any, what string) error {
	result := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return apperrors.NewInternalError("failed to update " + what + ": " + result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError(what + " not found")
	}
	return nil
}

// isUniqueViolation matches the translated gorm error plus the raw driver
// strings for dialects without error translation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}
