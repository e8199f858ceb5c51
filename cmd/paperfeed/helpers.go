package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"paperfeed/internal/miniflux"
	"paperfeed/internal/nav"
	"paperfeed/internal/store"
)

func parseEntryIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid entry id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

func entryRow(entry miniflux.Entry, local bool) []string {
	feed := ""
	if entry.Feed != nil {
		feed = entry.Feed.Title
	}
	marker := ""
	if local {
		marker = "✓"
	}
	star := ""
	if entry.Starred {
		star = "★"
	}
	return []string{
		strconv.FormatInt(entry.ID, 10),
		truncate(entry.Title, 60),
		truncate(feed, 30),
		entry.Status,
		star,
		marker,
		entry.PublishedAt.Local().Format("2006-01-02 15:04"),
	}
}

var entryHeaders = []string{"ID", "Title", "Feed", "Status", "", "Local", "Published"}

var entryAligns = []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft}

// resolveRef builds the navigation reference for an entry, preferring the
// local copy so offline navigation needs no network at all.
func resolveRef(ctx context.Context, rt *runtime, entryID int64) (nav.Ref, error) {
	meta, err := rt.store.Load(entryID)
	if err == nil {
		return nav.Ref{EntryID: entryID, Published: time.Unix(meta.Published, 0).UTC()}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nav.Ref{}, err
	}

	entry, err := rt.client.GetEntry(ctx, entryID)
	if err != nil {
		return nav.Ref{}, fmt.Errorf("resolve entry %d: %w", entryID, err)
	}
	return nav.Ref{EntryID: entry.ID, Published: entry.PublishedAt}, nil
}
