package sync

import (
	"context"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

// StatusResult summarizes one reconciliation pass over the sync linkages.
type StatusResult struct {
	Checked            int           `json:"checked"`
	BSRToRemoteUpdates int           `json:"bsr_to_remote_updates"`
	RemoteToBSRUpdates int           `json:"remote_to_bsr_updates"`
	TagsUpdated        int           `json:"tags_updated"`
	FavouritesUpdated  int           `json:"favourites_updated"`
	Errors             []SyncError   `json:"errors,omitempty"`
	Duration           time.Duration `json:"duration"`
}

// Reconciler propagates read/favourite state across existing linkages in
// whichever direction holds the newer data.
type Reconciler struct {
	store    *persistence.Store
	client   *karakeep.Client
	cache    *Cache
	executor *Executor
	readTag  string
	logger   *zap.Logger
}

// NewReconciler wires the status reconciler.
func NewReconciler(store *persistence.Store, client *karakeep.Client, cache *Cache, executor *Executor, readTag string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		client:   client,
		cache:    cache,
		executor: executor,
		readTag:  readTag,
		logger:   logger.With(zap.String("component", "sync-status")),
	}
}

// Run reconciles every linkage that names both a summary and a bookmark.
func (r *Reconciler) Run(ctx context.Context) *StatusResult {
	start := time.Now()
	result := &StatusResult{}
	defer func() { result.Duration = time.Since(start) }()

	items, err := r.store.GetSyncedItemsWithBookmarkAndSummary(ctx)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{Message: err.Error(), Retryable: isRetryable(err)})
		return result
	}

	index, err := r.bookmarkIndex(ctx)
	if err != nil {
		result.Errors = append(result.Errors, SyncError{Message: err.Error(), Retryable: isRetryable(err)})
		return result
	}

	for _, item := range items {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, SyncError{Message: "reconciliation cancelled", Retryable: false})
			return result
		}
		if item.Summary == nil {
			continue
		}
		bookmark, ok := index[item.Record.BookmarkID]
		if !ok {
			continue
		}
		result.Checked++
		r.reconcileOne(ctx, item, bookmark, result)
	}
	return result
}

func (r *Reconciler) bookmarkIndex(ctx context.Context) (map[string]*karakeep.Bookmark, error) {
	bookmarks, err := r.cache.GetBookmarks(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*karakeep.Bookmark, len(bookmarks))
	for i := range bookmarks {
		index[bookmarks[i].ID] = &bookmarks[i]
	}
	return index, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, item persistence.SyncedItem, bookmark *karakeep.Bookmark, result *StatusResult) {
	summary := item.Summary
	record := item.Record

	remoteRead := bookmark.HasTag(r.readTag)
	remoteFavourited := bookmark.Favourited
	localRead := summary.IsRead
	localFavourited := summary.IsFavorited

	if localRead == remoteRead && localFavourited == remoteFavourited {
		return
	}

	if r.localWins(&record, summary, bookmark) {
		r.pushLocalState(ctx, &record, summary, bookmark, remoteRead, remoteFavourited, result)
	} else {
		r.pullRemoteState(ctx, &record, summary, remoteRead, remoteFavourited, result)
	}
}

// localWins picks the source of truth: the newer side when both timestamps
// are known, the stored last-seen timestamps as fallback, and finally the
// direction recorded on the linkage.
func (r *Reconciler) localWins(record *models.SyncRecordModel, summary *models.SummaryModel, bookmark *karakeep.Bookmark) bool {
	localUpdated := coerceTime(summary.UpdatedAt, r.logger)
	remoteModified := coerceTime(bookmark.ModifiedAt, r.logger)

	if localUpdated != nil && remoteModified != nil {
		// Ties go to the local side.
		return laterOf(remoteModified, localUpdated) == localUpdated
	}

	storedLocal := coerceTime(record.BSRModifiedAt, r.logger)
	storedRemote := coerceTime(record.KarakeepModifiedAt, r.logger)
	if localUpdated != nil && storedLocal != nil && localUpdated.After(*storedLocal) {
		return true
	}
	if remoteModified != nil && storedRemote != nil && remoteModified.After(*storedRemote) {
		return false
	}

	return record.Direction == models.DirectionBSRToKarakeep
}

// pushLocalState writes the summary's state onto the bookmark.
func (r *Reconciler) pushLocalState(ctx context.Context, record *models.SyncRecordModel, summary *models.SummaryModel, bookmark *karakeep.Bookmark, remoteRead, remoteFavourited bool, result *StatusResult) {
	changed := false
	var latestModified *time.Time

	if summary.IsRead != remoteRead {
		var err error
		if summary.IsRead {
			_, _, err = r.executor.Do(ctx, "attach_read_tag", func(ctx context.Context) error {
				return r.client.AttachTags(ctx, bookmark.ID, []string{r.readTag})
			})
		} else if tagID := bookmark.TagID(r.readTag); tagID != "" {
			_, _, err = r.executor.Do(ctx, "detach_read_tag", func(ctx context.Context) error {
				return r.client.DetachTag(ctx, bookmark.ID, tagID)
			})
		}
		if err != nil {
			result.Errors = append(result.Errors, SyncError{Message: "failed to update read tag: " + err.Error(), Retryable: isRetryable(err)})
		} else {
			result.TagsUpdated++
			changed = true
		}
	}

	if summary.IsFavorited != remoteFavourited {
		favourited := summary.IsFavorited
		updated, ok, retryable, err := DoValue(ctx, r.executor, "update_favourite", func(ctx context.Context) (*karakeep.Bookmark, error) {
			return r.client.UpdateBookmark(ctx, bookmark.ID, karakeep.UpdateBookmarkRequest{Favourited: &favourited})
		})
		if !ok {
			result.Errors = append(result.Errors, SyncError{Message: "failed to update favourite: " + err.Error(), Retryable: retryable})
		} else {
			result.FavouritesUpdated++
			changed = true
			if updated != nil {
				latestModified = coerceTime(updated.ModifiedAt, r.logger)
			}
		}
	}

	if changed {
		if latestModified == nil {
			now := time.Now().UTC()
			latestModified = &now
		}
		if err := r.store.UpdateSyncTimestamps(ctx, record.ID, nil, latestModified); err != nil {
			result.Errors = append(result.Errors, SyncError{Message: err.Error(), Retryable: false})
		}
		result.BSRToRemoteUpdates++
	}
}

// pullRemoteState writes the bookmark's state back into the summary.
func (r *Reconciler) pullRemoteState(ctx context.Context, record *models.SyncRecordModel, summary *models.SummaryModel, remoteRead, remoteFavourited bool, result *StatusResult) {
	var isRead, isFavorited *bool
	if summary.IsRead != remoteRead {
		isRead = &remoteRead
	}
	if summary.IsFavorited != remoteFavourited {
		isFavorited = &remoteFavourited
	}
	if isRead == nil && isFavorited == nil {
		return
	}

	if err := r.store.UpdateSummaryStatus(ctx, summary.ID, isRead, isFavorited); err != nil {
		result.Errors = append(result.Errors, SyncError{Message: err.Error(), Retryable: isRetryable(err)})
		return
	}
	now := time.Now().UTC()
	if err := r.store.UpdateSyncTimestamps(ctx, record.ID, &now, nil); err != nil {
		result.Errors = append(result.Errors, SyncError{Message: err.Error(), Retryable: false})
	}
	result.RemoteToBSRUpdates++
}
