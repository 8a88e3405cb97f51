package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/jsonx"
	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/persistence/models"
	"github.com/bsrbot/bsr/pkg/urlx"
	"go.uber.org/zap"
)

// fakeRemote is an in-memory bookmark service behind an httptest server.
type fakeRemote struct {
	mu        stdsync.Mutex
	bookmarks []karakeep.Bookmark
	nextID    int

	creates     int
	updates     int
	deletes     int
	tagAttaches int
	tagDetaches int
}

func (f *fakeRemote) addBookmark(url string, favourited bool, modifiedAt string, tags ...karakeep.Tag) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("bm_%d", f.nextID)
	f.bookmarks = append(f.bookmarks, karakeep.Bookmark{
		ID:         id,
		Favourited: favourited,
		ModifiedAt: modifiedAt,
		Tags:       tags,
		Content:    karakeep.BookmarkContent{Type: "link", URL: url},
	})
	return id
}

func (f *fakeRemote) find(id string) *karakeep.Bookmark {
	for i := range f.bookmarks {
		if f.bookmarks[i].ID == id {
			return &f.bookmarks[i]
		}
	}
	return nil
}

func (f *fakeRemote) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case r.Method == http.MethodGet && len(parts) == 1:
			page := karakeep.BookmarkPage{Bookmarks: f.bookmarks}
			b, _ := jsonx.Marshal(page)
			_, _ = w.Write(b)

		case r.Method == http.MethodPost && len(parts) == 1:
			var req karakeep.CreateBookmarkRequest
			decodeBody(r, &req)
			f.creates++
			f.nextID++
			bm := karakeep.Bookmark{
				ID:         fmt.Sprintf("bm_%d", f.nextID),
				Title:      req.Title,
				Note:       req.Note,
				ModifiedAt: time.Now().UTC().Format(time.RFC3339),
				Content:    karakeep.BookmarkContent{Type: "link", URL: req.URL},
			}
			f.bookmarks = append(f.bookmarks, bm)
			b, _ := jsonx.Marshal(bm)
			_, _ = w.Write(b)

		case r.Method == http.MethodPatch && len(parts) == 2:
			var req karakeep.UpdateBookmarkRequest
			decodeBody(r, &req)
			f.updates++
			bm := f.find(parts[1])
			if bm == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if req.Favourited != nil {
				bm.Favourited = *req.Favourited
			}
			if req.Note != nil {
				bm.Note = *req.Note
			}
			bm.ModifiedAt = time.Now().UTC().Format(time.RFC3339)
			b, _ := jsonx.Marshal(bm)
			_, _ = w.Write(b)

		case r.Method == http.MethodDelete && len(parts) == 2:
			f.deletes++
			w.WriteHeader(http.StatusNoContent)

		case r.Method == http.MethodPost && len(parts) == 3 && parts[2] == "tags":
			f.tagAttaches++
			_, _ = w.Write([]byte(`{}`))

		case r.Method == http.MethodDelete && len(parts) == 4 && parts[2] == "tags":
			f.tagDetaches++
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func decodeBody(r *http.Request, out any) {
	defer r.Body.Close()
	buf, _ := io.ReadAll(r.Body)
	_ = jsonx.Unmarshal(buf, out)
}

func newSyncTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := persistence.NewDBConnection(&config.DatabaseConfig{Type: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return persistence.NewStore(db)
}

func newRemoteClient(t *testing.T, baseURL string) *karakeep.Client {
	t.Helper()
	client, err := karakeep.New(config.KarakeepConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: time.Second,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build bookmark client: %v", err)
	}
	return client
}

func newOutboundForTest(t *testing.T, store *persistence.Store, baseURL string) *Outbound {
	t.Helper()
	logger := zap.NewNop()
	client := newRemoteClient(t, baseURL)
	cache := NewCache(client, logger)
	executor := newTestExecutor()
	applier := NewMetadataApplier(client, executor, "summarized", "read", logger)
	return NewOutbound(store, client, cache, executor, applier, logger)
}

func seedSummary(t *testing.T, store *persistence.Store, rawURL, payload string) (*models.SummaryModel, string) {
	t.Helper()
	ctx := context.Background()
	normalized := urlx.Normalize(rawURL)
	hash := urlx.Hash(normalized)
	request, err := store.CreateRequest(ctx, 42, rawURL, normalized, hash)
	if err != nil {
		t.Fatalf("failed to seed request: %v", err)
	}
	summary, err := store.CreateSummary(ctx, &models.SummaryModel{
		RequestID: request.ID,
		UserID:    42,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("failed to seed summary: %v", err)
	}
	return summary, hash
}

const testPayload = `{"tldr":"the gist","summary_250":"short","topics":["go"]}`

func TestOutbound_RepeatRunWritesRemotelyOnlyOnce(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newSyncTestStore(t)
	seedSummary(t, store, "https://example.com/article", testPayload)
	outbound := newOutboundForTest(t, store, server.URL)

	first := outbound.Run(context.Background(), nil, 0, false)
	if first.Synced != 1 || first.Failed != 0 {
		t.Fatalf("first pass: synced=%d failed=%d errors=%v", first.Synced, first.Failed, first.Errors)
	}
	if remote.creates != 1 {
		t.Fatalf("first pass should create exactly one bookmark, saw %d", remote.creates)
	}

	second := outbound.Run(context.Background(), nil, 0, false)
	if second.Synced != 0 {
		t.Errorf("second pass must not sync again, synced=%d", second.Synced)
	}
	if second.SkippedAlreadySynced != 1 {
		t.Errorf("second pass skipped_already_synced = %d, want 1", second.SkippedAlreadySynced)
	}
	if remote.creates != 1 || remote.updates != 0 {
		t.Errorf("second pass wrote remotely: creates=%d updates=%d", remote.creates, remote.updates)
	}
}

func TestOutbound_LegacyHashPrefixSkips(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newSyncTestStore(t)
	summary, hash := seedSummary(t, store, "https://example.com/legacy", testPayload)

	// Historical linkage rows carry only the first 16 chars of the hash.
	summaryID := summary.ID
	if _, err := store.CreateSyncRecord(context.Background(), &models.SyncRecordModel{
		SummaryID:  &summaryID,
		BookmarkID: "bm_historic",
		URLHash:    hash[:16],
		Direction:  models.DirectionBSRToKarakeep,
	}); err != nil {
		t.Fatalf("failed to seed legacy sync record: %v", err)
	}

	outbound := newOutboundForTest(t, store, server.URL)
	result := outbound.Run(context.Background(), nil, 0, false)

	if result.SkippedAlreadySynced != 1 {
		t.Errorf("skipped_already_synced = %d, want 1", result.SkippedAlreadySynced)
	}
	if result.Synced != 0 {
		t.Errorf("legacy-linked summary must not sync again, synced=%d", result.Synced)
	}
	if remote.creates != 0 || remote.updates != 0 {
		t.Errorf("expected zero remote writes, saw creates=%d updates=%d", remote.creates, remote.updates)
	}
}

func TestOutbound_ExistingRemoteBookmarkLinksWithoutWrite(t *testing.T) {
	remote := &fakeRemote{}
	remote.addBookmark("https://example.com/known", false, "")
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newSyncTestStore(t)
	_, hash := seedSummary(t, store, "https://example.com/known", testPayload)

	outbound := newOutboundForTest(t, store, server.URL)
	result := outbound.Run(context.Background(), nil, 0, false)

	if result.SkippedExistsInTarget != 1 {
		t.Errorf("skipped_exists_in_target = %d, want 1", result.SkippedExistsInTarget)
	}
	if remote.creates != 0 || remote.updates != 0 {
		t.Errorf("linking must not write remotely: creates=%d updates=%d", remote.creates, remote.updates)
	}

	hashes, err := store.GetSyncedHashesByDirection(context.Background(), models.DirectionBSRToKarakeep)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := hashes[hash]; !ok {
		t.Error("linkage record should have been created for the existing bookmark")
	}
}

func TestOutbound_ForceRewritesExistingBookmark(t *testing.T) {
	remote := &fakeRemote{}
	remote.addBookmark("https://example.com/known", false, "")
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newSyncTestStore(t)
	seedSummary(t, store, "https://example.com/known", testPayload)

	outbound := newOutboundForTest(t, store, server.URL)
	result := outbound.Run(context.Background(), nil, 0, true)

	if result.Synced != 1 {
		t.Fatalf("force pass should sync, got synced=%d errors=%v", result.Synced, result.Errors)
	}
	if remote.updates != 1 {
		t.Errorf("force with existing bookmark should update it, updates=%d", remote.updates)
	}
	if remote.creates != 0 {
		t.Errorf("force must not duplicate the bookmark, creates=%d", remote.creates)
	}
}

func TestOutbound_DuplicateRecordRaceDeletesBookmark(t *testing.T) {
	remote := &fakeRemote{}
	server := httptest.NewServer(remote.handler())
	defer server.Close()

	store := newSyncTestStore(t)
	summary, hash := seedSummary(t, store, "https://example.com/raced", testPayload)

	// A full-hash linkage already exists; force bypasses the skip so the
	// create collides with the unique (url_hash, direction) index.
	summaryID := summary.ID
	if _, err := store.CreateSyncRecord(context.Background(), &models.SyncRecordModel{
		SummaryID:  &summaryID,
		BookmarkID: "bm_winner",
		URLHash:    hash,
		Direction:  models.DirectionBSRToKarakeep,
	}); err != nil {
		t.Fatal(err)
	}

	outbound := newOutboundForTest(t, store, server.URL)
	result := outbound.Run(context.Background(), nil, 0, true)

	if result.Failed != 1 {
		t.Fatalf("expected the race loser to fail, failed=%d errors=%v", result.Failed, result.Errors)
	}
	if remote.creates != 1 || remote.deletes != 1 {
		t.Errorf("race loser must delete its bookmark: creates=%d deletes=%d", remote.creates, remote.deletes)
	}
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e.Message, "duplicate sync record") && e.Retryable {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a retryable duplicate-record error, got %v", result.Errors)
	}
}
