// Package nav resolves the previous/next entry relative to a reference,
// ordered by publish time when the server is reachable and approximated by
// local entry id when it is not.
package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paperfeed/internal/logging"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/store"
)

// Direction of a navigation step.
type Direction int

const (
	Previous Direction = iota
	Next
)

func (d Direction) String() string {
	if d == Previous {
		return "previous"
	}
	return "next"
}

// ErrNoAdjacent reports that no entry exists in the requested direction
// within the active scope.
var ErrNoAdjacent = errors.New("no adjacent entry")

// Ref is the entry navigation starts from.
type Ref struct {
	EntryID   int64
	Published time.Time
}

// Scope restricts which entries qualify as adjacent. The zero value means
// unrestricted. When Local is set, navigation steps through that explicit
// ordered list instead of querying anything.
type Scope struct {
	FeedID     int64
	CategoryID int64
	Statuses   []string
	Starred    bool

	Local *LocalList
}

// LocalList is an explicit ordered id list, in whatever order the active
// local listing uses.
type LocalList struct {
	IDs []int64
}

// Gateway is the slice of the remote client the cursor needs.
type Gateway interface {
	ListEntries(ctx context.Context, f miniflux.Filter) (*miniflux.EntryList, error)
}

// Cursor unifies online and offline adjacent-entry resolution.
type Cursor struct {
	gateway Gateway
	store   *store.Store
	logger  *slog.Logger
}

// New builds a Cursor.
func New(gw Gateway, st *store.Store, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cursor{gateway: gw, store: st, logger: logger}
}

// Adjacent resolves the entry next to ref in the given direction. Online it
// asks the server for exactly one entry ordered by publish time; when the
// server is unreachable it falls back to scanning the local store by id.
func (c *Cursor) Adjacent(ctx context.Context, ref Ref, dir Direction, scope Scope) (*miniflux.Entry, error) {
	if scope.Local != nil {
		return c.stepLocalList(ref, dir, scope.Local)
	}
	if ref.EntryID <= 0 {
		return nil, fmt.Errorf("nav: invalid reference entry id %d", ref.EntryID)
	}

	entry, err := c.queryServer(ctx, ref, dir, scope)
	if err == nil {
		return entry, nil
	}
	if !miniflux.IsTransport(err) {
		return nil, err
	}

	c.logger.Debug("server unreachable, falling back to local scan",
		"direction", dir.String(), logging.Error(err))
	return c.scanLocal(ref, dir, scope)
}

// queryServer fetches exactly one entry beyond the reference publish time.
// Previous means the nearest later publish time, so ascending order with
// published_after; next is the mirror with published_before and descending.
func (c *Cursor) queryServer(ctx context.Context, ref Ref, dir Direction, scope Scope) (*miniflux.Entry, error) {
	filter := miniflux.Filter{
		Statuses:   scope.Statuses,
		FeedID:     scope.FeedID,
		CategoryID: scope.CategoryID,
		Starred:    scope.Starred,
		Order:      "published_at",
		Limit:      1,
	}
	switch dir {
	case Previous:
		filter.Direction = "asc"
		filter.PublishedAfter = ref.Published.Unix()
	case Next:
		filter.Direction = "desc"
		filter.PublishedBefore = ref.Published.Unix()
	}

	list, err := c.gateway.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(list.Entries) == 0 {
		return nil, ErrNoAdjacent
	}
	entry := list.Entries[0]
	return &entry, nil
}

// scanLocal approximates adjacency by directory name: the closest local id
// strictly beyond the reference id that has a completed copy within scope.
func (c *Cursor) scanLocal(ref Ref, dir Direction, scope Scope) (*miniflux.Entry, error) {
	metas, err := c.store.List()
	if err != nil {
		return nil, fmt.Errorf("nav: scan local store: %w", err)
	}

	var best *store.Metadata
	for _, meta := range metas {
		if !inScope(meta, scope) {
			continue
		}
		switch dir {
		case Next:
			if meta.EntryID <= ref.EntryID {
				continue
			}
			if best == nil || meta.EntryID < best.EntryID {
				best = meta
			}
		case Previous:
			if meta.EntryID >= ref.EntryID {
				continue
			}
			if best == nil || meta.EntryID > best.EntryID {
				best = meta
			}
		}
	}
	if best == nil {
		return nil, ErrNoAdjacent
	}
	return entryFromMetadata(best), nil
}

func (c *Cursor) stepLocalList(ref Ref, dir Direction, list *LocalList) (*miniflux.Entry, error) {
	idx := -1
	for i, id := range list.IDs {
		if id == ref.EntryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("nav: entry %d not in local list", ref.EntryID)
	}

	if dir == Next {
		idx++
	} else {
		idx--
	}
	if idx < 0 || idx >= len(list.IDs) {
		return nil, ErrNoAdjacent
	}

	meta, err := c.store.Load(list.IDs[idx])
	if err != nil {
		return nil, fmt.Errorf("nav: load local entry %d: %w", list.IDs[idx], err)
	}
	return entryFromMetadata(meta), nil
}

func inScope(meta *store.Metadata, scope Scope) bool {
	if scope.FeedID > 0 && meta.FeedID != scope.FeedID {
		return false
	}
	if scope.CategoryID > 0 && meta.CategoryID != scope.CategoryID {
		return false
	}
	if scope.Starred && !meta.Starred {
		return false
	}
	return true
}

// entryFromMetadata rebuilds the projection of an entry a local record holds.
func entryFromMetadata(meta *store.Metadata) *miniflux.Entry {
	entry := &miniflux.Entry{
		ID:          meta.EntryID,
		Title:       meta.Title,
		URL:         meta.URL,
		Status:      meta.Status,
		Starred:     meta.Starred,
		PublishedAt: time.Unix(meta.Published, 0).UTC(),
	}
	if meta.FeedID > 0 || meta.FeedTitle != "" {
		entry.Feed = &miniflux.Feed{ID: meta.FeedID, Title: meta.FeedTitle}
		if meta.CategoryID > 0 || meta.CategoryTitle != "" {
			entry.Feed.Category = &miniflux.Category{ID: meta.CategoryID, Title: meta.CategoryTitle}
		}
	}
	return entry
}
