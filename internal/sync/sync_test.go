package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"paperfeed/internal/miniflux"
	"paperfeed/internal/queue"
)

type bulkCall struct {
	ids    []int64
	status string
}

type fakeGateway struct {
	bulkCalls     []bulkCall
	failStatus    map[string]error
	bookmarkCalls []int64
	bookmarkErr   error
	feedCalls     []int64
	categoryCalls []int64
	collectionErr error
	allCalls      int
}

func (f *fakeGateway) UpdateEntriesStatus(_ context.Context, ids []int64, status string) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	f.bulkCalls = append(f.bulkCalls, bulkCall{ids: sorted, status: status})
	if err, ok := f.failStatus[status]; ok {
		return err
	}
	return nil
}

func (f *fakeGateway) ToggleBookmark(_ context.Context, id int64) error {
	f.bookmarkCalls = append(f.bookmarkCalls, id)
	return f.bookmarkErr
}

func (f *fakeGateway) MarkFeedRead(_ context.Context, id int64) error {
	f.feedCalls = append(f.feedCalls, id)
	return f.collectionErr
}

func (f *fakeGateway) MarkCategoryRead(_ context.Context, id int64) error {
	f.categoryCalls = append(f.categoryCalls, id)
	return f.collectionErr
}

func (f *fakeGateway) MarkAllRead(context.Context) error {
	f.allCalls++
	return f.collectionErr
}

type fakeLocal struct {
	statuses map[int64]string
	starred  map[int64]bool
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{statuses: make(map[int64]string), starred: make(map[int64]bool)}
}

func (f *fakeLocal) SetStatus(id int64, status string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeLocal) SetStarred(id int64, starred bool) error {
	f.starred[id] = starred
	return nil
}

func openQueue(t *testing.T) *queue.Store {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue.Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

var offline = &miniflux.TransportError{Op: "test", Err: errors.New("network unreachable")}

func TestRun_EmptyQueueIsIdle(t *testing.T) {
	q := openQueue(t)
	gw := &fakeGateway{}

	confirmed := false
	r := New(q, gw, newFakeLocal(), Options{Confirmer: func(queue.Counts) Decision {
		confirmed = true
		return SyncNow
	}})

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !report.Nothing() {
		t.Fatalf("expected idle report, got %+v", report)
	}
	if confirmed {
		t.Fatal("confirmer must not fire for an empty queue")
	}
	if len(gw.bulkCalls) != 0 {
		t.Fatalf("no network calls expected, got %v", gw.bulkCalls)
	}
}

func TestRun_BulkCallMinimization(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()

	// Many mutations, two target statuses: at most two network calls.
	for id := int64(1); id <= 40; id++ {
		status := "read"
		if id%2 == 0 {
			status = "unread"
		}
		if err := q.EnqueueStatus(ctx, id, status, ""); err != nil {
			t.Fatalf("EnqueueStatus returned error: %v", err)
		}
	}

	gw := &fakeGateway{}
	r := New(q, gw, newFakeLocal(), Options{})

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(gw.bulkCalls) != 2 {
		t.Fatalf("expected exactly 2 bulk calls, got %d", len(gw.bulkCalls))
	}
	if report.Synced != 40 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	pending, err := q.LoadStatusQueue(ctx)
	if err != nil {
		t.Fatalf("LoadStatusQueue returned error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("queue should be empty, got %d", len(pending))
	}
}

func TestRun_PartialSetFailureKeepsExactlyFailedIDs(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()

	// Scenario: 101 unread-bound, 102/103 read-bound; read succeeds, unread
	// hits the network failure.
	if err := q.EnqueueStatus(ctx, 101, "unread", "read"); err != nil {
		t.Fatalf("EnqueueStatus returned error: %v", err)
	}
	if err := q.EnqueueStatus(ctx, 102, "read", "unread"); err != nil {
		t.Fatalf("EnqueueStatus returned error: %v", err)
	}
	if err := q.EnqueueStatus(ctx, 103, "read", "unread"); err != nil {
		t.Fatalf("EnqueueStatus returned error: %v", err)
	}

	gw := &fakeGateway{failStatus: map[string]error{"unread": offline}}
	local := newFakeLocal()
	r := New(q, gw, local, Options{})

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Synced != 2 || report.Failed != 1 {
		t.Fatalf("expected 2 synced / 1 failed, got %+v", report)
	}

	pending, err := q.LoadStatusQueue(ctx)
	if err != nil {
		t.Fatalf("LoadStatusQueue returned error: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one remaining mutation, got %+v", pending)
	}
	if pending[101].NewStatus != "unread" {
		t.Fatalf("wrong survivor: %+v", pending)
	}

	if local.statuses[102] != "read" || local.statuses[103] != "read" {
		t.Fatalf("confirmed statuses not applied locally: %v", local.statuses)
	}
	if _, ok := local.statuses[101]; ok {
		t.Fatal("failed id must not be applied locally")
	}
}

func TestRun_ConfirmerOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("defer leaves the queue untouched", func(t *testing.T) {
		q := openQueue(t)
		_ = q.EnqueueStatus(ctx, 1, "read", "unread")
		gw := &fakeGateway{}
		r := New(q, gw, newFakeLocal(), Options{Confirmer: func(queue.Counts) Decision { return Defer }})

		report, err := r.Run(ctx)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if !report.Nothing() || len(gw.bulkCalls) != 0 {
			t.Fatalf("defer must do nothing, got %+v, calls %v", report, gw.bulkCalls)
		}
		counts, _ := q.TotalCounts(ctx)
		if counts.Status != 1 {
			t.Fatalf("queue changed on defer: %+v", counts)
		}
	})

	t.Run("discard clears without network calls", func(t *testing.T) {
		q := openQueue(t)
		_ = q.EnqueueStatus(ctx, 1, "read", "unread")
		_ = q.EnqueueCollection(ctx, queue.KindFeed, 3)
		gw := &fakeGateway{}
		r := New(q, gw, newFakeLocal(), Options{Confirmer: func(queue.Counts) Decision { return Discard }})

		report, err := r.Run(ctx)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if report.Discarded != 2 || len(gw.bulkCalls) != 0 {
			t.Fatalf("unexpected discard outcome: %+v, calls %v", report, gw.bulkCalls)
		}
		counts, _ := q.TotalCounts(ctx)
		if counts.Total() != 0 {
			t.Fatalf("queue not cleared on discard: %+v", counts)
		}
	})

	t.Run("confirmer sees pending counts", func(t *testing.T) {
		q := openQueue(t)
		_ = q.EnqueueStatus(ctx, 1, "read", "unread")
		_ = q.EnqueueStatus(ctx, 2, "read", "unread")
		var seen queue.Counts
		r := New(q, &fakeGateway{}, newFakeLocal(), Options{Confirmer: func(c queue.Counts) Decision {
			seen = c
			return SyncNow
		}})
		if _, err := r.Run(ctx); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if seen.Status != 2 {
			t.Fatalf("confirmer saw wrong counts: %+v", seen)
		}
	})
}

func TestRun_DrainsCollectionsOneCallEach(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()

	_ = q.EnqueueCollection(ctx, queue.KindFeed, 4)
	_ = q.EnqueueCollection(ctx, queue.KindCategory, 7)
	_ = q.EnqueueCollection(ctx, queue.KindAll, 0)

	gw := &fakeGateway{}
	r := New(q, gw, newFakeLocal(), Options{})

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Synced != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(gw.feedCalls) != 1 || gw.feedCalls[0] != 4 {
		t.Fatalf("unexpected feed calls: %v", gw.feedCalls)
	}
	if len(gw.categoryCalls) != 1 || gw.categoryCalls[0] != 7 {
		t.Fatalf("unexpected category calls: %v", gw.categoryCalls)
	}
	if gw.allCalls != 1 {
		t.Fatalf("unexpected mark-all calls: %d", gw.allCalls)
	}

	pending, err := q.LoadCollectionQueue(ctx)
	if err != nil {
		t.Fatalf("LoadCollectionQueue returned error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("collections should be drained, got %+v", pending)
	}
}

func TestRun_CollectionFailureStaysQueued(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	_ = q.EnqueueCollection(ctx, queue.KindFeed, 4)

	gw := &fakeGateway{collectionErr: offline}
	r := New(q, gw, newFakeLocal(), Options{})

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Failed != 1 || report.Synced != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	pending, _ := q.LoadCollectionQueue(ctx)
	if len(pending) != 1 {
		t.Fatalf("failed collection must stay queued, got %+v", pending)
	}
}

func TestRun_DrainsBookmarksAndAppliesLocally(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	_ = q.EnqueueBookmark(ctx, 9, true)

	gw := &fakeGateway{}
	local := newFakeLocal()
	r := New(q, gw, local, Options{})

	report, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Synced != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(gw.bookmarkCalls) != 1 || gw.bookmarkCalls[0] != 9 {
		t.Fatalf("unexpected bookmark calls: %v", gw.bookmarkCalls)
	}
	if !local.starred[9] {
		t.Fatal("confirmed bookmark not applied locally")
	}
	pending, _ := q.LoadBookmarkQueue(ctx)
	if len(pending) != 0 {
		t.Fatalf("bookmark queue not drained: %+v", pending)
	}
}

func TestRun_OnEntryStatusHookFires(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	_ = q.EnqueueStatus(ctx, 55, "read", "unread")

	var hooked []int64
	r := New(q, &fakeGateway{}, newFakeLocal(), Options{
		OnEntryStatus: func(id int64, status string) {
			if status == "read" {
				hooked = append(hooked, id)
			}
		},
	})
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(hooked) != 1 || hooked[0] != 55 {
		t.Fatalf("hook not fired correctly: %v", hooked)
	}
}
