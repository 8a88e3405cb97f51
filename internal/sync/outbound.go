package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// workItem is one summary queued for a remote write.
type workItem struct {
	summary  models.SummaryModel
	payload  *SummaryPayload
	url      string
	hash     string
	existing *karakeep.Bookmark // non-nil forces an update instead of a create
}

// Outbound pushes local summaries to the remote bookmark service.
type Outbound struct {
	store    *persistence.Store
	client   *karakeep.Client
	cache    *Cache
	executor *Executor
	applier  *MetadataApplier
	logger   *zap.Logger
}

// NewOutbound wires the outbound syncer.
func NewOutbound(store *persistence.Store, client *karakeep.Client, cache *Cache, executor *Executor, applier *MetadataApplier, logger *zap.Logger) *Outbound {
	return &Outbound{
		store:    store,
		client:   client,
		cache:    cache,
		executor: executor,
		applier:  applier,
		logger:   logger.With(zap.String("component", "sync-outbound")),
	}
}

// Run syncs eligible summaries up to limit. With force, already-synced and
// existing bookmarks are rewritten instead of skipped.
func (o *Outbound) Run(ctx context.Context, userID *int64, limit int, force bool) *Result {
	start := time.Now()
	result := NewResult(models.DirectionBSRToKarakeep)
	defer func() { result.Duration = time.Since(start) }()

	queue, err := o.collect(ctx, result, userID, limit, force)
	if err != nil {
		result.addError(err.Error(), isRetryable(err))
		return result
	}

	for _, item := range queue {
		if ctx.Err() != nil {
			result.addError("sync cancelled", false)
			return result
		}
		o.syncItem(ctx, item, result)
	}
	return result
}

// collect walks the eligible summaries and decides, per summary, whether to
// skip, link, or enqueue a remote write.
func (o *Outbound) collect(ctx context.Context, result *Result, userID *int64, limit int, force bool) ([]workItem, error) {
	urlIndex, err := o.cache.GetURLIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build remote URL index: %w", err)
	}

	syncedHashes, err := o.store.GetSyncedHashesByDirection(ctx, models.DirectionBSRToKarakeep)
	if err != nil {
		return nil, err
	}

	summaries, err := o.store.GetSummariesForSync(ctx, userID)
	if err != nil {
		return nil, err
	}

	var queue []workItem
	for _, summary := range summaries {
		if limit > 0 && len(queue) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		url, err := o.summaryURL(ctx, &summary)
		if err != nil {
			return nil, err
		}
		if url == "" {
			result.SkippedNoURL++
			continue
		}

		normalized := urlx.Normalize(url)
		if normalized == "" {
			result.SkippedHashFailed++
			continue
		}
		hash := urlx.Hash(normalized)

		if urlx.InSet(hash, syncedHashes) && !force {
			result.SkippedAlreadySynced++
			continue
		}

		item := workItem{
			summary: summary,
			payload: parsePayload(summary.Payload),
			url:     normalized,
			hash:    hash,
		}

		if existing, ok := urlIndex[normalized]; ok {
			if !force {
				// Already in the target: just record the linkage.
				summaryID := summary.ID
				if _, err := o.store.CreateSyncRecord(ctx, &models.SyncRecordModel{
					SummaryID:  &summaryID,
					BookmarkID: existing.ID,
					URLHash:    hash,
					Direction:  models.DirectionBSRToKarakeep,
				}); err != nil {
					result.addError(err.Error(), false)
				}
				result.SkippedExistsInTarget++
				continue
			}
			item.existing = existing
		}
		queue = append(queue, item)
	}
	return queue, nil
}

// summaryURL resolves the normalized URL a summary came from via its request.
func (o *Outbound) summaryURL(ctx context.Context, summary *models.SummaryModel) (string, error) {
	request, err := o.store.GetRequestByID(ctx, summary.RequestID)
	if err != nil {
		return "", err
	}
	if request == nil {
		return "", nil
	}
	if request.NormalizedURL != "" {
		return request.NormalizedURL, nil
	}
	return request.InputURL, nil
}

// syncItem performs the remote write for one queued summary.
func (o *Outbound) syncItem(ctx context.Context, item workItem, result *Result) {
	title, err := o.store.GetCrawlResultTitle(ctx, item.summary.RequestID)
	if err != nil {
		o.logger.Debug("no crawl title for summary",
			zap.Uint("summary_id", item.summary.ID), zap.Error(err))
	}

	bookmark, created, ok := o.writeBookmark(ctx, item, title, result)
	if !ok {
		return
	}

	summaryID := item.summary.ID
	link := &models.SyncRecordModel{
		SummaryID:  &summaryID,
		BookmarkID: bookmark.ID,
		URLHash:    item.hash,
		Direction:  models.DirectionBSRToKarakeep,
	}
	var record *models.SyncRecordModel
	if created {
		record, err = o.store.CreateSyncRecord(ctx, link)
	} else {
		record, err = o.store.UpsertSyncRecord(ctx, link)
	}
	if err != nil {
		result.Failed++
		result.addError(err.Error(), false)
		return
	}
	if record == nil {
		// Lost an insert race: another worker linked this URL first. Undo
		// the bookmark we just created so the remote holds one copy.
		if created {
			if derr := o.client.DeleteBookmark(ctx, bookmark.ID); derr != nil {
				o.logger.Warn("failed to delete bookmark after losing sync race",
					zap.String("bookmark_id", bookmark.ID), zap.Error(derr))
			}
		}
		result.Failed++
		result.addError("duplicate sync record detected", true)
		return
	}

	modifiedAt, metaErrs := o.applier.Apply(ctx, bookmark.ID, &item.summary, item.payload, result)
	result.Errors = append(result.Errors, metaErrs...)
	if modifiedAt != nil {
		if err := o.store.UpdateSyncTimestamps(ctx, record.ID, nil, modifiedAt); err != nil {
			result.addError(err.Error(), false)
		}
	}

	result.Synced++
}

// writeBookmark creates or updates the remote bookmark under the executor.
func (o *Outbound) writeBookmark(ctx context.Context, item workItem, title string, result *Result) (bookmark *karakeep.Bookmark, created, ok bool) {
	note := item.payload.Note()

	if item.existing != nil {
		bookmark, success, retryable, err := DoValue(ctx, o.executor, "update_bookmark", func(ctx context.Context) (*karakeep.Bookmark, error) {
			req := karakeep.UpdateBookmarkRequest{Note: &note}
			if title != "" {
				req.Title = &title
			}
			return o.client.UpdateBookmark(ctx, item.existing.ID, req)
		})
		if !success {
			result.Failed++
			result.addError(fmt.Sprintf("failed to update bookmark for %s: %v", item.url, err), retryable)
			return nil, false, false
		}
		return bookmark, false, true
	}

	bookmark, success, retryable, err := DoValue(ctx, o.executor, "create_bookmark", func(ctx context.Context) (*karakeep.Bookmark, error) {
		return o.client.CreateBookmark(ctx, karakeep.CreateBookmarkRequest{
			Type:  "link",
			URL:   item.url,
			Title: title,
			Note:  note,
		})
	})
	if !success {
		result.Failed++
		result.addError(fmt.Sprintf("failed to create bookmark for %s: %v", item.url, err), retryable)
		return nil, false, false
	}
	return bookmark, true, true
}
