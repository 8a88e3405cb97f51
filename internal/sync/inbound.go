package sync

import (
	"context"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// Inbound pulls remote bookmarks into the local ingestion pipeline: each new
// bookmark URL becomes a local request row, queued for summarization.
type Inbound struct {
	store  *persistence.Store
	cache  *Cache
	logger *zap.Logger
}

// NewInbound wires the inbound syncer.
func NewInbound(store *persistence.Store, cache *Cache, logger *zap.Logger) *Inbound {
	return &Inbound{
		store:  store,
		cache:  cache,
		logger: logger.With(zap.String("component", "sync-inbound")),
	}
}

// Run imports up to limit new bookmarks for the user. Uses the cached
// bookmark list when a scope already populated it, else streams pages.
func (i *Inbound) Run(ctx context.Context, userID int64, limit int) *Result {
	start := time.Now()
	result := NewResult(models.DirectionKarakeepToBSR)
	defer func() { result.Duration = time.Since(start) }()

	syncedHashes, err := i.store.GetSyncedHashesByDirection(ctx, models.DirectionKarakeepToBSR)
	if err != nil {
		result.addError(err.Error(), isRetryable(err))
		return result
	}
	localHashes, err := i.store.GetExistingRequestHashes(ctx)
	if err != nil {
		result.addError(err.Error(), isRetryable(err))
		return result
	}

	err = i.cache.IterBookmarks(ctx, func(normalizedURL string, bookmark *karakeep.Bookmark) (bool, error) {
		if limit > 0 && result.Synced >= limit {
			return false, nil
		}
		i.importBookmark(ctx, normalizedURL, bookmark, userID, syncedHashes, localHashes, result)
		return true, nil
	})
	if err != nil {
		result.addError(err.Error(), isRetryable(err))
	}
	return result
}

func (i *Inbound) importBookmark(ctx context.Context, normalizedURL string, bookmark *karakeep.Bookmark, userID int64, syncedHashes, localHashes map[string]struct{}, result *Result) {
	if bookmark.URL() == "" {
		result.SkippedNoURL++
		return
	}
	if normalizedURL == "" {
		result.SkippedHashFailed++
		return
	}
	hash := urlx.Hash(normalizedURL)

	if urlx.InSet(hash, syncedHashes) {
		result.SkippedAlreadySynced++
		return
	}

	if _, exists := localHashes[hash]; exists {
		// Already ingested locally: just record the linkage.
		existing, err := i.store.GetRequestByDedupeHash(ctx, hash)
		if err != nil {
			result.Failed++
			result.addError(err.Error(), isRetryable(err))
			return
		}
		link := &models.SyncRecordModel{
			BookmarkID: bookmark.ID,
			URLHash:    hash,
			Direction:  models.DirectionKarakeepToBSR,
		}
		if existing != nil {
			requestID := existing.ID
			link.RequestID = &requestID
		}
		if _, err := i.store.CreateSyncRecord(ctx, link); err != nil {
			result.addError(err.Error(), false)
		}
		result.SkippedExistsInTarget++
		return
	}

	request, err := i.store.CreateRequest(ctx, userID, bookmark.URL(), normalizedURL, hash)
	if err != nil {
		result.Failed++
		result.addError(err.Error(), isRetryable(err))
		return
	}

	requestID := request.ID
	record, err := i.store.CreateSyncRecord(ctx, &models.SyncRecordModel{
		RequestID:  &requestID,
		BookmarkID: bookmark.ID,
		URLHash:    hash,
		Direction:  models.DirectionKarakeepToBSR,
	})
	if err != nil {
		result.Failed++
		result.addError(err.Error(), false)
		return
	}
	if record == nil {
		result.Failed++
		result.addError("duplicate sync record detected", true)
		return
	}

	i.logger.Info("imported bookmark for ingestion",
		zap.String("bookmark_id", bookmark.ID), zap.Uint("request_id", request.ID))
	result.Synced++
}
