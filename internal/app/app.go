// Package app wires the gateway, queues, local store and workflows into the
// operations the surrounding application calls. Status and bookmark changes
// are optimistic: the server is tried first, and transport failures fall back
// to the pending queue with a local update instead of an error dialog.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperfeed/internal/download"
	"paperfeed/internal/logging"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/nav"
	"paperfeed/internal/queue"
	"paperfeed/internal/store"
	appsync "paperfeed/internal/sync"
)

// Gateway is the slice of the remote client the service needs.
type Gateway interface {
	ListEntries(ctx context.Context, f miniflux.Filter) (*miniflux.EntryList, error)
	GetEntry(ctx context.Context, id int64) (*miniflux.Entry, error)
	UpdateEntriesStatus(ctx context.Context, ids []int64, status string) error
	ToggleBookmark(ctx context.Context, id int64) error
	MarkFeedRead(ctx context.Context, feedID int64) error
	MarkCategoryRead(ctx context.Context, categoryID int64) error
	MarkAllRead(ctx context.Context) error
}

// Settings are the user preferences the core reads. The host application
// owns them; the core never writes them.
type Settings struct {
	IncludeImages     bool
	MarkReadOnOpen    bool
	AutoDeleteOnClose bool
	Limit             int
	Order             string
	Direction         string
}

// NavContext tells the viewer how to step from the entry it is showing.
type NavContext struct {
	Ref   nav.Ref
	Scope nav.Scope
}

// Viewer is the external content renderer. It receives the finished local
// document path and calls back into the service for status changes and
// navigation.
type Viewer interface {
	ShowEntry(path string, meta *store.Metadata, navCtx NavContext) error
}

// OpenResult describes a resolved entry ready for viewing.
type OpenResult struct {
	Path     string
	Metadata *store.Metadata
	// Downloaded reports whether this open had to fetch the entry first.
	Downloaded bool
}

// Service is the long-lived orchestrator owning the in-memory caches.
type Service struct {
	gateway    Gateway
	queue      *queue.Store
	store      *store.Store
	downloader *download.Downloader
	reconciler *appsync.Reconciler
	cursor     *nav.Cursor
	settings   Settings
	logger     *slog.Logger
}

// NewService builds the orchestrating service from its collaborators.
func NewService(
	gw Gateway,
	q *queue.Store,
	st *store.Store,
	dl *download.Downloader,
	rec *appsync.Reconciler,
	cur *nav.Cursor,
	settings Settings,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		gateway:    gw,
		queue:      q,
		store:      st,
		downloader: dl,
		reconciler: rec,
		cursor:     cur,
		settings:   settings,
		logger:     logger,
	}
}

// SetEntryStatus changes an entry's status, queueing the change when the
// server is unreachable. The local copy is updated either way.
func (s *Service) SetEntryStatus(ctx context.Context, entryID int64, newStatus, assumedStatus string) error {
	if entryID <= 0 {
		return fmt.Errorf("set status: invalid entry id %d", entryID)
	}

	err := s.gateway.UpdateEntriesStatus(ctx, []int64{entryID}, newStatus)
	switch {
	case err == nil:
		// Confirmed: a stale pending mutation for this id is now obsolete.
		if qErr := s.queue.RemoveStatus(ctx, entryID); qErr != nil {
			s.logger.Warn("dequeue after confirmed status failed", logging.Error(qErr))
		}
	case miniflux.IsTransport(err):
		s.logger.Info("server unreachable, status change queued",
			"entry_id", entryID, "status", newStatus)
		if qErr := s.queue.EnqueueStatus(ctx, entryID, newStatus, assumedStatus); qErr != nil {
			return fmt.Errorf("queue status change: %w", qErr)
		}
	default:
		return err
	}

	if sErr := s.store.SetStatus(entryID, newStatus); sErr != nil && !errors.Is(sErr, store.ErrNotFound) {
		return sErr
	}
	return nil
}

// ToggleStarred flips an entry's bookmark, queueing when unreachable.
// current is the starred value before the toggle.
func (s *Service) ToggleStarred(ctx context.Context, entryID int64, current bool) error {
	if entryID <= 0 {
		return fmt.Errorf("toggle starred: invalid entry id %d", entryID)
	}
	desired := !current

	err := s.gateway.ToggleBookmark(ctx, entryID)
	switch {
	case err == nil:
	case miniflux.IsTransport(err):
		s.logger.Info("server unreachable, bookmark change queued",
			"entry_id", entryID, "starred", desired)
		if qErr := s.queue.EnqueueBookmark(ctx, entryID, desired); qErr != nil {
			return fmt.Errorf("queue bookmark change: %w", qErr)
		}
	default:
		return err
	}

	if sErr := s.store.SetStarred(entryID, desired); sErr != nil && !errors.Is(sErr, store.ErrNotFound) {
		return sErr
	}
	return nil
}

// MarkCollectionRead marks a feed, category or everything as read, queueing
// the idempotent request when the server is unreachable.
func (s *Service) MarkCollectionRead(ctx context.Context, kind queue.CollectionKind, collectionID int64) error {
	var err error
	switch kind {
	case queue.KindFeed:
		err = s.gateway.MarkFeedRead(ctx, collectionID)
	case queue.KindCategory:
		err = s.gateway.MarkCategoryRead(ctx, collectionID)
	case queue.KindAll:
		err = s.gateway.MarkAllRead(ctx)
	default:
		return fmt.Errorf("mark collection read: unknown kind %q", kind)
	}

	switch {
	case err == nil:
		return nil
	case miniflux.IsTransport(err):
		s.logger.Info("server unreachable, mark-read queued", "kind", string(kind), "id", collectionID)
		return s.queue.EnqueueCollection(ctx, kind, collectionID)
	default:
		return err
	}
}

// ListEntries queries the server with the user's listing defaults filled in.
func (s *Service) ListEntries(ctx context.Context, f miniflux.Filter) (*miniflux.EntryList, error) {
	if f.Limit <= 0 {
		f.Limit = s.settings.Limit
	}
	if f.Order == "" {
		f.Order = s.settings.Order
	}
	if f.Direction == "" {
		f.Direction = s.settings.Direction
	}
	return s.gateway.ListEntries(ctx, f)
}

// Open resolves an entry for viewing, local copy first. Only when no local
// copy exists is the entry fetched and run through the download workflow.
// Mark-read-on-open applies in both cases.
func (s *Service) Open(ctx context.Context, entryID int64) (*OpenResult, error) {
	if entryID <= 0 {
		return nil, fmt.Errorf("open: invalid entry id %d", entryID)
	}

	res := &OpenResult{}
	if s.store.IsDownloaded(entryID) {
		res.Path = s.store.DocumentPath(entryID)
	} else {
		entry, err := s.gateway.GetEntry(ctx, entryID)
		if err != nil {
			return nil, fmt.Errorf("open entry %d: %w", entryID, err)
		}
		dlRes := s.downloader.Download(ctx, *entry, s.settings.IncludeImages)
		if dlRes.Err != nil {
			return nil, dlRes.Err
		}
		if dlRes.Canceled {
			return nil, fmt.Errorf("open entry %d: download canceled", entryID)
		}
		res.Path = dlRes.Path
		res.Downloaded = !dlRes.AlreadyLocal
	}

	meta, err := s.store.Load(entryID)
	if err != nil {
		return nil, err
	}

	if s.settings.MarkReadOnOpen && meta.Status != miniflux.StatusRead {
		if err := s.SetEntryStatus(ctx, entryID, miniflux.StatusRead, meta.Status); err != nil {
			s.logger.Warn("mark-read-on-open failed", "entry_id", entryID, logging.Error(err))
		} else {
			meta.Status = miniflux.StatusRead
		}
	}

	res.Metadata = meta
	return res, nil
}

// Close applies the auto-delete-on-close policy for an entry the viewer just
// left. Starred entries always survive.
func (s *Service) Close(entryID int64) (bool, error) {
	return s.store.ApplyClosePolicy(entryID, s.settings.AutoDeleteOnClose)
}

// Navigate resolves the adjacent entry and, when a local copy exists, opens
// it without touching the network.
func (s *Service) Navigate(ctx context.Context, navCtx NavContext, dir nav.Direction) (*OpenResult, error) {
	entry, err := s.cursor.Adjacent(ctx, navCtx.Ref, dir, navCtx.Scope)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, entry.ID)
}

// DownloadEntries runs the batch workflow over server entries.
func (s *Service) DownloadEntries(ctx context.Context, entries []miniflux.Entry) []download.Result {
	return s.downloader.DownloadBatch(ctx, entries, s.settings.IncludeImages)
}

// SyncNow runs one reconciliation pass.
func (s *Service) SyncNow(ctx context.Context) (appsync.Report, error) {
	return s.reconciler.Run(ctx)
}

// PendingCounts reports queue depth for UI display.
func (s *Service) PendingCounts(ctx context.Context) (queue.Counts, error) {
	return s.queue.TotalCounts(ctx)
}

// StartBackgroundSync launches periodic best-effort reconciliation. The
// worker shares nothing with callers beyond the durable stores; it drops its
// metadata mirror before each pass in case another process moved the files.
func (s *Service) StartBackgroundSync(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.store.InvalidateCache()
				report, err := s.reconciler.Run(ctx)
				if err != nil {
					s.logger.Warn("background sync failed", logging.Error(err))
					continue
				}
				if !report.Nothing() {
					s.logger.Info("background sync finished",
						"synced", report.Synced, "failed", report.Failed)
				}
			}
		}
	}()
}
