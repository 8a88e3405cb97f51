package sync

import (
	"context"
	"strings"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

// maxTopicTags caps how many topic tags one summary contributes.
const maxTopicTags = 5

// MetadataApplier pushes a summary's favourite flag and tag set onto its
// remote bookmark. Failures are collected and reported as non-fatal; the
// bookmark itself already exists by the time this runs.
type MetadataApplier struct {
	client   *karakeep.Client
	executor *Executor
	syncTag  string
	readTag  string
	logger   *zap.Logger
}

// NewMetadataApplier wires the applier.
func NewMetadataApplier(client *karakeep.Client, executor *Executor, syncTag, readTag string, logger *zap.Logger) *MetadataApplier {
	return &MetadataApplier{
		client:   client,
		executor: executor,
		syncTag:  syncTag,
		readTag:  readTag,
		logger:   logger.With(zap.String("component", "sync-metadata")),
	}
}

// Apply updates one bookmark from one summary. Returns the bookmark's new
// modified-at timestamp when any write reported one, plus the collected
// non-fatal errors.
func (a *MetadataApplier) Apply(ctx context.Context, bookmarkID string, summary *models.SummaryModel, payload *SummaryPayload, result *Result) (*time.Time, []SyncError) {
	var errs []SyncError
	var modifiedAt *time.Time

	if summary.IsFavorited {
		favourited := true
		updated, ok, retryable, err := DoValue(ctx, a.executor, "update_bookmark", func(ctx context.Context) (*karakeep.Bookmark, error) {
			return a.client.UpdateBookmark(ctx, bookmarkID, karakeep.UpdateBookmarkRequest{Favourited: &favourited})
		})
		if ok {
			result.FavouritesUpdated++
			if updated != nil {
				modifiedAt = coerceTime(updated.ModifiedAt, a.logger)
			}
		} else if err != nil {
			errs = append(errs, SyncError{Message: "failed to set favourite: " + err.Error(), Retryable: retryable})
		}
	}

	tags := a.buildTagSet(summary, payload)
	ok, retryable, err := a.executor.Do(ctx, "attach_tags", func(ctx context.Context) error {
		return a.client.AttachTags(ctx, bookmarkID, tags)
	})
	if ok {
		result.TagsAttached += len(tags)
	} else if err != nil {
		errs = append(errs, SyncError{Message: "failed to attach tags: " + err.Error(), Retryable: retryable})
	}

	return modifiedAt, errs
}

// buildTagSet assembles the tags for one summary: the sync marker always,
// the read marker when read, then up to five topic tags with any leading '#'
// stripped.
func (a *MetadataApplier) buildTagSet(summary *models.SummaryModel, payload *SummaryPayload) []string {
	tags := []string{a.syncTag}
	if summary.IsRead && a.readTag != "" {
		tags = append(tags, a.readTag)
	}

	topics := payload.Topics
	if len(topics) > maxTopicTags {
		a.logger.Debug("truncating topic tags",
			zap.Uint("summary_id", summary.ID), zap.Int("count", len(topics)))
		topics = topics[:maxTopicTags]
	}
	for _, topic := range topics {
		topic = strings.TrimSpace(strings.TrimPrefix(topic, "#"))
		if topic != "" {
			tags = append(tags, topic)
		}
	}
	return tags
}
