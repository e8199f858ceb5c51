// Package sync replays pending mutations against the feed server and clears
// the ones the server confirmed. The queue itself is the retry mechanism:
// failures stay queued silently and only the aggregate outcome is reported.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"paperfeed/internal/logging"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/queue"
	"paperfeed/internal/store"
)

// Gateway is the slice of the remote client the reconciler needs.
type Gateway interface {
	UpdateEntriesStatus(ctx context.Context, ids []int64, status string) error
	ToggleBookmark(ctx context.Context, id int64) error
	MarkFeedRead(ctx context.Context, feedID int64) error
	MarkCategoryRead(ctx context.Context, categoryID int64) error
	MarkAllRead(ctx context.Context) error
}

// LocalStore receives confirmed changes so the offline copies stay aligned.
type LocalStore interface {
	SetStatus(entryID int64, status string) error
	SetStarred(entryID int64, starred bool) error
}

// Decision is the user's answer when pending changes are found.
type Decision int

const (
	Defer Decision = iota
	SyncNow
	Discard
)

// Confirmer presents the pending count and returns the user's choice. A nil
// confirmer auto-confirms, which is what background reconciliation uses.
type Confirmer func(counts queue.Counts) Decision

// Report summarizes one reconciliation pass.
type Report struct {
	Synced    int
	Failed    int
	Discarded int
}

// Nothing reports whether the pass found an empty queue.
func (r Report) Nothing() bool {
	return r.Synced == 0 && r.Failed == 0 && r.Discarded == 0
}

// Options configures a Reconciler.
type Options struct {
	Confirmer Confirmer
	// OnEntryStatus fires after a confirmed status lands, letting a currently
	// open entry refresh its in-memory view immediately.
	OnEntryStatus func(entryID int64, status string)
	Logger        *slog.Logger
}

// Reconciler drains the persistent queues with the fewest network calls: one
// bulk status call per target status, one call per collection.
type Reconciler struct {
	queue   *queue.Store
	gateway Gateway
	local   LocalStore
	opts    Options
	logger  *slog.Logger
}

// New builds a Reconciler.
func New(q *queue.Store, gw Gateway, local LocalStore, opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{queue: q, gateway: gw, local: local, opts: opts, logger: logger}
}

// Run executes one Idle -> Confirm -> Draining -> Reporting pass.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	counts, err := r.queue.TotalCounts(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("count pending mutations: %w", err)
	}
	if counts.Total() == 0 {
		return Report{}, nil
	}

	if r.opts.Confirmer != nil {
		switch r.opts.Confirmer(counts) {
		case Defer:
			return Report{}, nil
		case Discard:
			if err := r.queue.ClearAll(ctx); err != nil {
				return Report{}, fmt.Errorf("discard pending mutations: %w", err)
			}
			return Report{Discarded: counts.Total()}, nil
		}
	}

	var report Report
	r.drainStatuses(ctx, &report)
	r.drainBookmarks(ctx, &report)
	r.drainCollections(ctx, &report)

	r.logger.Info("reconciliation finished", "synced", report.Synced, "failed", report.Failed)
	return report, nil
}

// drainStatuses partitions pending status mutations by target status and
// issues at most one bulk call per target, so N mutations cost at most two
// network calls.
func (r *Reconciler) drainStatuses(ctx context.Context, report *Report) {
	pending, err := r.queue.LoadStatusQueue(ctx)
	if err != nil {
		r.logger.Warn("load status queue failed", logging.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	sets := make(map[string][]int64)
	for id, p := range pending {
		sets[p.NewStatus] = append(sets[p.NewStatus], id)
	}

	// Deterministic order keeps logs and tests stable.
	targets := make([]string, 0, len(sets))
	for status := range sets {
		targets = append(targets, status)
	}
	sort.Strings(targets)

	for _, status := range targets {
		ids := sets[status]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if err := r.gateway.UpdateEntriesStatus(ctx, ids, status); err != nil {
			// Network trouble is exactly what the queue exists for; stay quiet.
			r.logger.Debug("bulk status update failed, ids stay queued",
				"status", status, "count", len(ids), logging.Error(err))
			report.Failed += len(ids)
			continue
		}

		if err := r.queue.RemoveStatuses(ctx, ids); err != nil {
			r.logger.Warn("confirmed ids could not be dequeued", logging.Error(err))
		}
		for _, id := range ids {
			r.applyStatusLocally(id, status)
		}
		report.Synced += len(ids)
	}
}

func (r *Reconciler) applyStatusLocally(entryID int64, status string) {
	if r.local != nil {
		if err := r.local.SetStatus(entryID, status); err != nil && !isNotFound(err) {
			r.logger.Warn("apply confirmed status to local copy failed",
				"entry_id", entryID, logging.Error(err))
		}
	}
	if r.opts.OnEntryStatus != nil {
		r.opts.OnEntryStatus(entryID, status)
	}
}

func (r *Reconciler) drainBookmarks(ctx context.Context, report *Report) {
	pending, err := r.queue.LoadBookmarkQueue(ctx)
	if err != nil {
		r.logger.Warn("load bookmark queue failed", logging.Error(err))
		return
	}

	ids := make([]int64, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p := pending[id]
		if err := r.gateway.ToggleBookmark(ctx, id); err != nil {
			report.Failed++
			continue
		}
		if err := r.queue.RemoveBookmark(ctx, id); err != nil {
			r.logger.Warn("confirmed bookmark could not be dequeued", logging.Error(err))
		}
		if r.local != nil {
			if err := r.local.SetStarred(id, p.Starred); err != nil && !isNotFound(err) {
				r.logger.Warn("apply confirmed bookmark to local copy failed",
					"entry_id", id, logging.Error(err))
			}
		}
		report.Synced++
	}
}

// drainCollections issues one idempotent mark-read call per collection; the
// gateway cannot batch these.
func (r *Reconciler) drainCollections(ctx context.Context, report *Report) {
	pending, err := r.queue.LoadCollectionQueue(ctx)
	if err != nil {
		r.logger.Warn("load collection queue failed", logging.Error(err))
		return
	}

	for _, p := range pending {
		var callErr error
		switch p.Kind {
		case queue.KindFeed:
			callErr = r.gateway.MarkFeedRead(ctx, p.CollectionID)
		case queue.KindCategory:
			callErr = r.gateway.MarkCategoryRead(ctx, p.CollectionID)
		case queue.KindAll:
			callErr = r.gateway.MarkAllRead(ctx)
		default:
			r.logger.Warn("unknown collection kind dropped", "kind", string(p.Kind))
			_ = r.queue.RemoveCollection(ctx, p.Kind, p.CollectionID)
			continue
		}

		if callErr != nil {
			report.Failed++
			continue
		}
		if err := r.queue.RemoveCollection(ctx, p.Kind, p.CollectionID); err != nil {
			r.logger.Warn("confirmed collection could not be dequeued", logging.Error(err))
		}
		report.Synced++
	}
}

// Entries without a local copy are normal: a mutation may predate or outlive
// the download.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

var _ Gateway = (*miniflux.Client)(nil)
