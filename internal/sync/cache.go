package sync

import (
	"context"
	stdsync "sync"

	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

const bookmarkPageSize = 100

// Cache memoizes the remote bookmark library for the duration of one sync
// run. Outside a Scope every read goes straight to the service; inside,
// the first call populates and later calls hit memory. Never share one cache
// across independent sync invocations.
type Cache struct {
	client *karakeep.Client
	logger *zap.Logger

	mu        stdsync.Mutex
	active    bool
	bookmarks []karakeep.Bookmark
	fetched   bool
	urlIndex  map[string]*karakeep.Bookmark
}

// NewCache wraps a bookmark client.
func NewCache(client *karakeep.Client, logger *zap.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger.With(zap.String("component", "sync-cache")),
	}
}

// Scope runs fn with cache reuse enabled. Prior cached data is dropped on
// entry and the reuse flag restored on exit.
func (c *Cache) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	previous := c.active
	c.active = true
	c.bookmarks = nil
	c.fetched = false
	c.urlIndex = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = previous
		c.mu.Unlock()
	}()

	return fn(ctx)
}

// GetBookmarks returns the full remote library, cached within a scope.
func (c *Cache) GetBookmarks(ctx context.Context) ([]karakeep.Bookmark, error) {
	c.mu.Lock()
	if c.active && c.fetched {
		cached := c.bookmarks
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	var all []karakeep.Bookmark
	err := c.fetchPages(ctx, func(b karakeep.Bookmark) {
		all = append(all, b)
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.active {
		c.bookmarks = all
		c.fetched = true
	}
	c.mu.Unlock()
	return all, nil
}

// GetURLIndex returns a normalized-URL → bookmark index for O(1) dedupe
// lookups, cached within a scope.
func (c *Cache) GetURLIndex(ctx context.Context) (map[string]*karakeep.Bookmark, error) {
	c.mu.Lock()
	if c.active && c.urlIndex != nil {
		cached := c.urlIndex
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	bookmarks, err := c.GetBookmarks(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]*karakeep.Bookmark, len(bookmarks))
	for i := range bookmarks {
		if url := bookmarks[i].URL(); url != "" {
			index[urlx.Normalize(url)] = &bookmarks[i]
		}
	}

	c.mu.Lock()
	if c.active {
		c.urlIndex = index
	}
	c.mu.Unlock()
	return index, nil
}

// HasCachedBookmarks reports whether the full list is already in memory.
func (c *Cache) HasCachedBookmarks() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.fetched
}

// IterBookmarks streams (normalized URL, bookmark) pairs page by page
// without building the full index, for bounded-memory traversal of large
// libraries. fn returning false stops the iteration.
func (c *Cache) IterBookmarks(ctx context.Context, fn func(normalizedURL string, bookmark *karakeep.Bookmark) (bool, error)) error {
	c.mu.Lock()
	if c.active && c.fetched {
		cached := c.bookmarks
		c.mu.Unlock()
		for i := range cached {
			cont, err := fn(urlx.Normalize(cached[i].URL()), &cached[i])
			if err != nil || !cont {
				return err
			}
		}
		return nil
	}
	c.mu.Unlock()

	return c.fetchPagesUntil(ctx, func(b karakeep.Bookmark) (bool, error) {
		return fn(urlx.Normalize(b.URL()), &b)
	})
}

func (c *Cache) fetchPages(ctx context.Context, visit func(karakeep.Bookmark)) error {
	return c.fetchPagesUntil(ctx, func(b karakeep.Bookmark) (bool, error) {
		visit(b)
		return true, nil
	})
}

func (c *Cache) fetchPagesUntil(ctx context.Context, visit func(karakeep.Bookmark) (bool, error)) error {
	cursor := ""
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.client.ListBookmarks(ctx, bookmarkPageSize, cursor, nil, nil)
		if err != nil {
			return err
		}
		pages++
		for _, b := range page.Bookmarks {
			cont, err := visit(b)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		if page.NextCursor == "" {
			c.logger.Debug("bookmark enumeration finished", zap.Int("pages", pages))
			return nil
		}
		cursor = page.NextCursor
	}
}
