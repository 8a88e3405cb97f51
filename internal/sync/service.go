package sync

import (
	"context"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// ClientFactory opens a fresh bookmark client. The facade creates one per
// public call so credential or endpoint changes take effect without restart.
type ClientFactory func() (*karakeep.Client, error)

// FullSyncResult bundles the three phases of a full sync.
type FullSyncResult struct {
	Outbound *Result       `json:"outbound"`
	Inbound  *Result       `json:"inbound"`
	Status   *StatusResult `json:"status"`
}

// Preview reports what a sync run would do without mutating anything.
type Preview struct {
	WouldSync               int `json:"would_sync"`
	WouldSkip               int `json:"would_skip"`
	AlreadyExistsInKarakeep int `json:"already_exists_in_karakeep"`
	AlreadyExistsInBSR      int `json:"already_exists_in_bsr"`
}

// Service is the sync facade. Every public method health-checks the remote
// first and returns a retryable-error result instead of proceeding blind.
type Service struct {
	cfg     config.SyncConfig
	store   *persistence.Store
	factory ClientFactory
	logger  *zap.Logger
}

// NewService wires the facade.
func NewService(cfg config.SyncConfig, store *persistence.Store, factory ClientFactory, logger *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		factory: factory,
		logger:  logger.With(zap.String("component", "sync")),
	}
}

// components builds the per-call plumbing around one client.
type components struct {
	client   *karakeep.Client
	cache    *Cache
	executor *Executor
	outbound *Outbound
	inbound  *Inbound
	status   *Reconciler
}

func (s *Service) connect(ctx context.Context) (*components, error) {
	client, err := s.factory()
	if err != nil {
		return nil, err
	}
	if err := client.HealthCheck(ctx); err != nil {
		return nil, err
	}

	cache := NewCache(client, s.logger)
	executor := NewExecutor(s.cfg.MaxRetries, s.cfg.BaseDelay, s.cfg.MaxDelay, s.logger)
	applier := NewMetadataApplier(client, executor, s.cfg.SyncTag, s.cfg.ReadTag, s.logger)

	return &components{
		client:   client,
		cache:    cache,
		executor: executor,
		outbound: NewOutbound(s.store, client, cache, executor, applier, s.logger),
		inbound:  NewInbound(s.store, cache, s.logger),
		status:   NewReconciler(s.store, client, cache, executor, s.cfg.ReadTag, s.logger),
	}, nil
}

func unavailableResult(direction string, err error) *Result {
	r := NewResult(direction)
	r.addError("bookmark service unavailable: "+err.Error(), true)
	return r
}

// SyncBSRToRemote pushes local summaries to the bookmark service.
func (s *Service) SyncBSRToRemote(ctx context.Context, userID *int64, limit int, force bool) *Result {
	c, err := s.connect(ctx)
	if err != nil {
		return unavailableResult(models.DirectionBSRToKarakeep, err)
	}

	var result *Result
	_ = c.cache.Scope(ctx, func(ctx context.Context) error {
		result = c.outbound.Run(ctx, userID, limit, force)
		return nil
	})
	return result
}

// ResetSyncRecords drops the stored linkages for one direction (or all when
// direction is empty), forcing the next run to rebuild them from scratch.
func (s *Service) ResetSyncRecords(ctx context.Context, direction string) (int64, error) {
	deleted, err := s.store.DeleteAllSyncRecords(ctx, direction)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Sync records reset",
		zap.String("direction", direction), zap.Int64("deleted", deleted))
	return deleted, nil
}

// SyncRemoteToBSR imports remote bookmarks into the local pipeline.
func (s *Service) SyncRemoteToBSR(ctx context.Context, userID int64, limit int) *Result {
	c, err := s.connect(ctx)
	if err != nil {
		return unavailableResult(models.DirectionKarakeepToBSR, err)
	}

	var result *Result
	_ = c.cache.Scope(ctx, func(ctx context.Context) error {
		result = c.inbound.Run(ctx, userID, limit)
		return nil
	})
	return result
}

// RunFullSync runs outbound, then inbound (only when a user is supplied),
// then status reconciliation, all inside one cache scope.
func (s *Service) RunFullSync(ctx context.Context, userID *int64, limit int, force bool) *FullSyncResult {
	c, err := s.connect(ctx)
	if err != nil {
		return &FullSyncResult{
			Outbound: unavailableResult(models.DirectionBSRToKarakeep, err),
			Inbound:  unavailableResult(models.DirectionKarakeepToBSR, err),
			Status:   &StatusResult{Errors: []SyncError{{Message: err.Error(), Retryable: true}}},
		}
	}

	full := &FullSyncResult{}
	_ = c.cache.Scope(ctx, func(ctx context.Context) error {
		full.Outbound = c.outbound.Run(ctx, userID, limit, force)

		if userID != nil {
			full.Inbound = c.inbound.Run(ctx, *userID, limit)
		} else {
			full.Inbound = NewResult(models.DirectionKarakeepToBSR)
			full.Inbound.Skipped = true
			full.Inbound.SkippedReason = "no user supplied for inbound sync"
		}

		full.Status = c.status.Run(ctx)
		return nil
	})
	return full
}

// SyncStatusUpdates runs only the reconciliation phase.
func (s *Service) SyncStatusUpdates(ctx context.Context) *StatusResult {
	c, err := s.connect(ctx)
	if err != nil {
		return &StatusResult{Errors: []SyncError{{Message: "bookmark service unavailable: " + err.Error(), Retryable: true}}}
	}

	var result *StatusResult
	_ = c.cache.Scope(ctx, func(ctx context.Context) error {
		result = c.status.Run(ctx)
		return nil
	})
	return result
}

// GetSyncStatus reports linkage statistics from the store.
func (s *Service) GetSyncStatus(ctx context.Context) (*persistence.SyncStats, error) {
	return s.store.GetSyncStats(ctx)
}

// PreviewSync applies the outbound and inbound decision logic without
// touching the remote service or the linkage table.
func (s *Service) PreviewSync(ctx context.Context, userID *int64, limit int) (*Preview, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	preview := &Preview{}
	err = c.cache.Scope(ctx, func(ctx context.Context) error {
		if err := s.previewOutbound(ctx, c, userID, limit, preview); err != nil {
			return err
		}
		if userID != nil {
			return s.previewInbound(ctx, c, preview, limit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func (s *Service) previewOutbound(ctx context.Context, c *components, userID *int64, limit int, preview *Preview) error {
	urlIndex, err := c.cache.GetURLIndex(ctx)
	if err != nil {
		return err
	}
	syncedHashes, err := s.store.GetSyncedHashesByDirection(ctx, models.DirectionBSRToKarakeep)
	if err != nil {
		return err
	}
	summaries, err := s.store.GetSummariesForSync(ctx, userID)
	if err != nil {
		return err
	}

	queued := 0
	for _, summary := range summaries {
		if limit > 0 && queued >= limit {
			break
		}
		request, err := s.store.GetRequestByID(ctx, summary.RequestID)
		if err != nil {
			return err
		}
		if request == nil || request.NormalizedURL == "" {
			preview.WouldSkip++
			continue
		}
		hash := urlx.Hash(request.NormalizedURL)
		if urlx.InSet(hash, syncedHashes) {
			preview.WouldSkip++
			continue
		}
		if _, exists := urlIndex[request.NormalizedURL]; exists {
			preview.AlreadyExistsInKarakeep++
			continue
		}
		preview.WouldSync++
		queued++
	}
	return nil
}

func (s *Service) previewInbound(ctx context.Context, c *components, preview *Preview, limit int) error {
	syncedHashes, err := s.store.GetSyncedHashesByDirection(ctx, models.DirectionKarakeepToBSR)
	if err != nil {
		return err
	}
	localHashes, err := s.store.GetExistingRequestHashes(ctx)
	if err != nil {
		return err
	}

	counted := 0
	return c.cache.IterBookmarks(ctx, func(normalizedURL string, bookmark *karakeep.Bookmark) (bool, error) {
		if limit > 0 && counted >= limit {
			return false, nil
		}
		if bookmark.URL() == "" {
			preview.WouldSkip++
			return true, nil
		}
		hash := urlx.Hash(normalizedURL)
		switch {
		case urlx.InSet(hash, syncedHashes):
			preview.WouldSkip++
		case hasHash(localHashes, hash):
			preview.AlreadyExistsInBSR++
		default:
			preview.WouldSync++
			counted++
		}
		return true, nil
	})
}

func hasHash(set map[string]struct{}, hash string) bool {
	_, ok := set[hash]
	return ok
}
