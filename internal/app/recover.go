package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"paperfeed/internal/content"
)

// imageFetchParallelism bounds concurrent recovery downloads per entry.
const imageFetchParallelism = 3

// RecoverResult summarizes one image recovery pass.
type RecoverResult struct {
	Recovered int
	Failed    int
	Skipped   int
}

// RecoverImages re-downloads the missing images of an already-downloaded
// entry using the filename to source URL map persisted in its metadata.
// Images already on disk are left alone; individual failures are counted,
// never fatal.
func (s *Service) RecoverImages(ctx context.Context, entryID int64, fetcher *content.Fetcher) (RecoverResult, error) {
	var res RecoverResult
	if fetcher == nil {
		return res, fmt.Errorf("recover images: fetcher is required")
	}

	meta, err := s.store.Load(entryID)
	if err != nil {
		return res, err
	}
	if len(meta.Images) == 0 {
		return res, nil
	}

	dir := s.store.EntryDir(entryID)

	filenames := make([]string, 0, len(meta.Images))
	for name := range meta.Images {
		filenames = append(filenames, name)
	}
	sort.Strings(filenames)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageFetchParallelism)

	results := make([]bool, len(filenames))
	skipped := 0
	for i, name := range filenames {
		if _, statErr := os.Stat(filepath.Join(dir, name)); statErr == nil {
			skipped++
			continue
		}
		img := &content.Image{SourceURL: meta.Images[name], Filename: name}
		idx := i
		g.Go(func() error {
			// Failures land on the descriptor; the group never cancels.
			results[idx] = fetcher.Fetch(gctx, img, dir) == nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	res.Skipped = skipped
	for _, ok := range results {
		if ok {
			res.Recovered++
		}
	}
	res.Failed = len(filenames) - skipped - res.Recovered

	// Refresh last_updated so purge policies see the recovery.
	if err := s.store.Save(meta); err != nil {
		return res, err
	}
	return res, nil
}
