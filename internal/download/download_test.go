package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"paperfeed/internal/content"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/store"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
	bytes.Repeat([]byte{0x00}, 60)...)

type scriptPrompter struct {
	decisions []Decision
	calls     int
}

func (s *scriptPrompter) Checkpoint(_ context.Context, _ int64, _ Phase, _, _, _ int) Decision {
	s.calls++
	if len(s.decisions) == 0 {
		return Continue
	}
	d := s.decisions[0]
	s.decisions = s.decisions[1:]
	return d
}

type fixture struct {
	store      *store.Store
	downloader *Downloader
	server     *httptest.Server
	requests   *atomic.Int64
}

func newFixture(t *testing.T, prompter Prompter) *fixture {
	t.Helper()

	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if strings.Contains(r.URL.Path, "broken") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(ts.Close)

	st, err := store.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store.New returned error: %v", err)
	}

	fetcher := content.NewFetcher(content.FetcherOptions{HTTPClient: ts.Client(), Timeout: time.Second}, nil)
	pipeline := content.NewPipeline(fetcher, nil)
	dl := New(st, pipeline, Options{Prompter: prompter, CheckpointEvery: 5})

	return &fixture{store: st, downloader: dl, server: ts, requests: &requests}
}

func (f *fixture) entry(id int64, imageCount int) miniflux.Entry {
	var b strings.Builder
	for i := 0; i < imageCount; i++ {
		fmt.Fprintf(&b, `<img src="%s/img-%d.png"/>`, f.server.URL, i)
	}
	return miniflux.Entry{
		ID:          id,
		Title:       "Entry",
		URL:         f.server.URL + "/article",
		Content:     b.String(),
		Status:      "unread",
		PublishedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Feed:        &miniflux.Feed{ID: 3, Title: "Blog", Category: &miniflux.Category{ID: 2, Title: "Tech"}},
	}
}

func TestDownload_CompletesAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	res := f.downloader.Download(context.Background(), f.entry(101, 3), true)

	if res.Err != nil {
		t.Fatalf("Download returned error: %v", res.Err)
	}
	if res.ImagesOK != 3 || res.ImagesFailed != 0 {
		t.Fatalf("unexpected image counts: %+v", res)
	}
	if !f.store.IsDownloaded(101) {
		t.Fatal("entry not marked downloaded")
	}

	meta, err := f.store.Load(101)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if meta.FeedTitle != "Blog" || meta.CategoryID != 2 {
		t.Fatalf("attribution not persisted: %+v", meta)
	}
	if len(meta.Images) != 3 {
		t.Fatalf("image map not persisted: %+v", meta.Images)
	}

	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !strings.Contains(string(data), `src="img_001.png"`) {
		t.Fatalf("document not rewritten to local references:\n%s", data)
	}
}

func TestDownload_IdempotentReopenMakesNoNetworkCalls(t *testing.T) {
	f := newFixture(t, nil)
	first := f.downloader.Download(context.Background(), f.entry(101, 2), true)
	if first.Err != nil {
		t.Fatalf("first Download returned error: %v", first.Err)
	}
	before := f.requests.Load()

	second := f.downloader.Download(context.Background(), f.entry(101, 2), true)
	if second.Err != nil {
		t.Fatalf("second Download returned error: %v", second.Err)
	}
	if !second.AlreadyLocal {
		t.Fatal("second run should short-circuit to completion")
	}
	if second.Path != first.Path {
		t.Fatalf("paths differ: %s vs %s", first.Path, second.Path)
	}
	if f.requests.Load() != before {
		t.Fatalf("re-open performed %d network calls", f.requests.Load()-before)
	}
}

func TestDownload_PartialImageFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t, nil)
	entry := f.entry(101, 2)
	entry.Content += fmt.Sprintf(`<img src="%s/broken.png"/>`, f.server.URL)

	res := f.downloader.Download(context.Background(), entry, true)
	if res.Err != nil {
		t.Fatalf("Download returned error: %v", res.Err)
	}
	if res.ImagesOK != 2 || res.ImagesFailed != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if !f.store.IsDownloaded(101) {
		t.Fatal("entry with one failed image must still complete")
	}
}

func TestDownload_CancelEntryAtCheckpointDeletesPartialState(t *testing.T) {
	prompter := &scriptPrompter{decisions: []Decision{CancelEntry}}
	f := newFixture(t, prompter)

	res := f.downloader.Download(context.Background(), f.entry(101, 12), true)
	if !res.Canceled {
		t.Fatalf("expected canceled result, got %+v", res)
	}
	if _, err := os.Stat(f.store.EntryDir(101)); !os.IsNotExist(err) {
		t.Fatal("canceled entry left its directory behind")
	}
	if prompter.calls != 1 {
		t.Fatalf("expected a single checkpoint before cancel, got %d", prompter.calls)
	}
}

func TestDownload_SkipImagesStillCompletesEntry(t *testing.T) {
	prompter := &scriptPrompter{decisions: []Decision{SkipImages}}
	f := newFixture(t, prompter)

	res := f.downloader.Download(context.Background(), f.entry(101, 12), true)
	if res.Err != nil || res.Canceled {
		t.Fatalf("unexpected result: %+v", res)
	}
	// First checkpoint fires after five images.
	if res.ImagesOK != 5 {
		t.Fatalf("expected 5 images before skip, got %d", res.ImagesOK)
	}
	if !f.store.IsDownloaded(101) {
		t.Fatal("entry should complete without remaining images")
	}
}

func TestDownloadBatch_SkipImagesAllPropagates(t *testing.T) {
	prompter := &scriptPrompter{decisions: []Decision{SkipImagesAll}}
	f := newFixture(t, prompter)

	entries := []miniflux.Entry{f.entry(101, 12), f.entry(102, 12)}
	results := f.downloader.DownloadBatch(context.Background(), entries, true)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if results[0].ImagesOK != 5 {
		t.Fatalf("first entry should stop at the checkpoint, got %d", results[0].ImagesOK)
	}
	// The second entry inherits the decision and fetches nothing.
	if results[1].ImagesOK != 0 || results[1].ImagesFailed != 0 {
		t.Fatalf("skip-all did not propagate: %+v", results[1])
	}
	for _, id := range []int64{101, 102} {
		if !f.store.IsDownloaded(id) {
			t.Fatalf("entry %d should still complete", id)
		}
	}
}

func TestDownloadBatch_CancelAllStopsRemainingEntries(t *testing.T) {
	prompter := &scriptPrompter{decisions: []Decision{CancelAll}}
	f := newFixture(t, prompter)

	entries := []miniflux.Entry{f.entry(101, 12), f.entry(102, 3)}
	results := f.downloader.DownloadBatch(context.Background(), entries, true)

	if len(results) != 1 {
		t.Fatalf("expected batch to stop after cancel, got %d results", len(results))
	}
	if !results[0].Canceled {
		t.Fatalf("expected canceled first result: %+v", results[0])
	}
	if f.store.IsDownloaded(102) {
		t.Fatal("second entry should never have been processed")
	}
}

func TestDownload_InvalidEntryIsTerminal(t *testing.T) {
	f := newFixture(t, nil)

	res := f.downloader.Download(context.Background(), miniflux.Entry{ID: 0}, true)
	if res.Err == nil {
		t.Fatal("expected validation error")
	}

	entry := f.entry(101, 0)
	entry.URL = ""
	res = f.downloader.Download(context.Background(), entry, true)
	if res.Err == nil {
		t.Fatal("expected error for missing canonical URL")
	}
	if f.store.IsDownloaded(101) {
		t.Fatal("failed entry must not be marked downloaded")
	}
}

func TestDownload_ContextCancellationAbandonsEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.downloader.Download(ctx, f.entry(101, 3), true)
	if !res.Canceled {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if f.store.IsDownloaded(101) {
		t.Fatal("canceled entry must not be marked downloaded")
	}
}
