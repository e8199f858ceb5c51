package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"paperfeed/internal/content"
	"paperfeed/internal/download"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/queue"
	"paperfeed/internal/store"
	appsync "paperfeed/internal/sync"
)

type fakeGateway struct {
	offline bool
	apiErr  error

	statusCalls   int
	bookmarkCalls int
	feedCalls     int
	getCalls      int
	entry         *miniflux.Entry
}

func (f *fakeGateway) fail() error {
	if f.offline {
		return &miniflux.TransportError{Op: "test", Err: errors.New("network unreachable")}
	}
	return f.apiErr
}

func (f *fakeGateway) ListEntries(context.Context, miniflux.Filter) (*miniflux.EntryList, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return &miniflux.EntryList{}, nil
}

func (f *fakeGateway) GetEntry(context.Context, int64) (*miniflux.Entry, error) {
	f.getCalls++
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.entry, nil
}

func (f *fakeGateway) UpdateEntriesStatus(context.Context, []int64, string) error {
	f.statusCalls++
	return f.fail()
}

func (f *fakeGateway) ToggleBookmark(context.Context, int64) error {
	f.bookmarkCalls++
	return f.fail()
}

func (f *fakeGateway) MarkFeedRead(context.Context, int64) error {
	f.feedCalls++
	return f.fail()
}

func (f *fakeGateway) MarkCategoryRead(context.Context, int64) error { return f.fail() }
func (f *fakeGateway) MarkAllRead(context.Context) error             { return f.fail() }

type fixture struct {
	gateway *fakeGateway
	queue   *queue.Store
	store   *store.Store
	service *Service
}

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()

	gw := &fakeGateway{}
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	st, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}

	pipeline := content.NewPipeline(content.NewFetcher(content.FetcherOptions{Timeout: time.Second}, nil), nil)
	dl := download.New(st, pipeline, download.Options{})
	rec := appsync.New(q, gw, st, appsync.Options{})
	svc := NewService(gw, q, st, dl, rec, nil, settings, nil)

	return &fixture{gateway: gw, queue: q, store: st, service: svc}
}

func (f *fixture) saveLocal(t *testing.T, id int64, status string, starred bool) {
	t.Helper()
	if err := f.store.WriteDocument(id, "<html><body>x</body></html>"); err != nil {
		t.Fatalf("WriteDocument returned error: %v", err)
	}
	if err := f.store.Save(&store.Metadata{EntryID: id, Status: status, Starred: starred}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
}

func TestSetEntryStatus_OnlineConfirms(t *testing.T) {
	f := newFixture(t, Settings{})
	f.saveLocal(t, 101, "unread", false)

	if err := f.service.SetEntryStatus(context.Background(), 101, "read", "unread"); err != nil {
		t.Fatalf("SetEntryStatus returned error: %v", err)
	}
	if f.gateway.statusCalls != 1 {
		t.Fatalf("expected one gateway call, got %d", f.gateway.statusCalls)
	}

	counts, _ := f.queue.TotalCounts(context.Background())
	if counts.Total() != 0 {
		t.Fatalf("nothing should be queued online: %+v", counts)
	}
	meta, _ := f.store.Load(101)
	if meta.Status != "read" {
		t.Fatalf("local copy not updated: %s", meta.Status)
	}
}

func TestSetEntryStatus_OfflineQueuesWithOptimisticUpdate(t *testing.T) {
	f := newFixture(t, Settings{})
	f.saveLocal(t, 101, "unread", false)
	f.gateway.offline = true

	if err := f.service.SetEntryStatus(context.Background(), 101, "read", "unread"); err != nil {
		t.Fatalf("offline status change must not fail: %v", err)
	}

	pending, _ := f.queue.LoadStatusQueue(context.Background())
	if pending[101].NewStatus != "read" || pending[101].AssumedStatus != "unread" {
		t.Fatalf("mutation not queued: %+v", pending)
	}
	meta, _ := f.store.Load(101)
	if meta.Status != "read" {
		t.Fatalf("optimistic local update missing: %s", meta.Status)
	}
}

func TestSetEntryStatus_TerminalErrorSurfacesWithoutQueueing(t *testing.T) {
	f := newFixture(t, Settings{})
	f.gateway.apiErr = &miniflux.APIError{Op: "update entries status", StatusCode: 400}

	err := f.service.SetEntryStatus(context.Background(), 101, "read", "unread")
	if err == nil {
		t.Fatal("terminal error must surface")
	}
	counts, _ := f.queue.TotalCounts(context.Background())
	if counts.Total() != 0 {
		t.Fatalf("terminal failures must not be queued: %+v", counts)
	}
}

func TestToggleStarred_OfflineQueuesDesiredState(t *testing.T) {
	f := newFixture(t, Settings{})
	f.saveLocal(t, 7, "unread", false)
	f.gateway.offline = true

	if err := f.service.ToggleStarred(context.Background(), 7, false); err != nil {
		t.Fatalf("offline toggle must not fail: %v", err)
	}
	pending, _ := f.queue.LoadBookmarkQueue(context.Background())
	if len(pending) != 1 || !pending[7].Starred {
		t.Fatalf("bookmark not queued: %+v", pending)
	}
	meta, _ := f.store.Load(7)
	if !meta.Starred {
		t.Fatal("optimistic starred update missing")
	}
}

func TestMarkCollectionRead_OfflineQueues(t *testing.T) {
	f := newFixture(t, Settings{})
	f.gateway.offline = true

	if err := f.service.MarkCollectionRead(context.Background(), queue.KindFeed, 4); err != nil {
		t.Fatalf("offline mark-read must not fail: %v", err)
	}
	pending, _ := f.queue.LoadCollectionQueue(context.Background())
	if len(pending) != 1 || pending[0].Kind != queue.KindFeed || pending[0].CollectionID != 4 {
		t.Fatalf("collection not queued: %+v", pending)
	}
}

func TestOpen_PrefersLocalCopyWithoutNetwork(t *testing.T) {
	f := newFixture(t, Settings{})
	f.saveLocal(t, 101, "unread", false)
	f.gateway.offline = true

	res, err := f.service.Open(context.Background(), 101)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if f.gateway.getCalls != 0 {
		t.Fatalf("local open performed %d network fetches", f.gateway.getCalls)
	}
	if res.Downloaded {
		t.Fatal("local open reported as fresh download")
	}
	if res.Path != f.store.DocumentPath(101) {
		t.Fatalf("unexpected path: %s", res.Path)
	}
}

func TestOpen_MarkReadOnOpen(t *testing.T) {
	f := newFixture(t, Settings{MarkReadOnOpen: true})
	f.saveLocal(t, 101, "unread", false)

	res, err := f.service.Open(context.Background(), 101)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if res.Metadata.Status != "read" {
		t.Fatalf("entry not marked read on open: %s", res.Metadata.Status)
	}
	if f.gateway.statusCalls != 1 {
		t.Fatalf("expected one status call, got %d", f.gateway.statusCalls)
	}
}

func TestOpen_DownloadsWhenNoLocalCopy(t *testing.T) {
	f := newFixture(t, Settings{})
	f.gateway.entry = &miniflux.Entry{
		ID:          300,
		Title:       "Fresh",
		URL:         "https://example.com/fresh",
		Content:     "<p>hello</p>",
		Status:      "unread",
		PublishedAt: time.Now(),
	}

	res, err := f.service.Open(context.Background(), 300)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if !res.Downloaded {
		t.Fatal("fresh open should report a download")
	}
	if !f.store.IsDownloaded(300) {
		t.Fatal("entry not stored locally")
	}
}

func TestClose_AppliesPolicy(t *testing.T) {
	f := newFixture(t, Settings{AutoDeleteOnClose: true})
	f.saveLocal(t, 1, "read", true)
	f.saveLocal(t, 2, "read", false)

	deleted, err := f.service.Close(1)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if deleted {
		t.Fatal("starred entry deleted on close")
	}

	deleted, err = f.service.Close(2)
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !deleted {
		t.Fatal("read unstarred entry should be deleted on close")
	}
}

func TestRecoverImages_FetchesOnlyMissingFiles(t *testing.T) {
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, bytes.Repeat([]byte{0}, 40)...)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer ts.Close()

	f := newFixture(t, Settings{})
	f.saveLocal(t, 9, "unread", false)
	if err := f.store.SetImages(9, map[string]string{
		"img_001.png": ts.URL + "/a.png",
		"img_002.png": ts.URL + "/b.png",
	}); err != nil {
		t.Fatalf("SetImages returned error: %v", err)
	}
	// First image already on disk.
	if err := os.WriteFile(filepath.Join(f.store.EntryDir(9), "img_001.png"), png, 0o644); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	fetcher := content.NewFetcher(content.FetcherOptions{HTTPClient: ts.Client()}, nil)
	res, err := f.service.RecoverImages(context.Background(), 9, fetcher)
	if err != nil {
		t.Fatalf("RecoverImages returned error: %v", err)
	}
	if res.Recovered != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("unexpected recovery result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(f.store.EntryDir(9), "img_002.png")); err != nil {
		t.Fatalf("recovered image missing: %v", err)
	}
}
