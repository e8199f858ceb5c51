// Package download orchestrates the content pipeline across one or many
// entries as a cancellable four-phase workflow: Preparing, Downloading,
// Processing, Completing.
package download

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"paperfeed/internal/content"
	"paperfeed/internal/logging"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/store"
)

// Phase identifies where a download run currently is.
type Phase int

const (
	PhasePreparing Phase = iota
	PhaseDownloading
	PhaseProcessing
	PhaseCompleting
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseDownloading:
		return "downloading"
	case PhaseProcessing:
		return "processing"
	case PhaseCompleting:
		return "completing"
	default:
		return "unknown"
	}
}

// Decision is a user's answer at a cancellation checkpoint. During
// Downloading all five are meaningful; during other phases anything except
// CancelEntry and CancelAll is treated as Continue.
type Decision int

const (
	Continue Decision = iota
	CancelEntry
	SkipImages
	SkipImagesAll
	CancelAll
)

// Prompter is consulted at throttled checkpoints between images and at phase
// boundaries. Implementations surface whatever choices suit the phase; the
// workflow interprets the returned decision.
type Prompter interface {
	Checkpoint(ctx context.Context, entryID int64, phase Phase, done, failed, total int) Decision
}

// autoPrompter never interrupts; used when no prompter is wired.
type autoPrompter struct{}

func (autoPrompter) Checkpoint(context.Context, int64, Phase, int, int, int) Decision {
	return Continue
}

// Event reports workflow progress for an entry.
type Event struct {
	EntryID      int64
	Phase        Phase
	ImagesDone   int
	ImagesFailed int
	ImagesTotal  int
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Event)

// Result summarizes one entry's run.
type Result struct {
	EntryID      int64
	Path         string
	ImagesOK     int
	ImagesFailed int
	AlreadyLocal bool
	Canceled     bool
	Err          error
}

// Options configures a Downloader.
type Options struct {
	Prompter Prompter
	Progress ProgressFunc
	Logger   *slog.Logger
	// CheckpointEvery is the number of images between prompter checkpoints.
	// Prompting on every image churns the UI too much.
	CheckpointEvery int
}

// Downloader runs the workflow against one local store and one pipeline.
type Downloader struct {
	store           *store.Store
	pipeline        *content.Pipeline
	prompter        Prompter
	progress        ProgressFunc
	logger          *slog.Logger
	checkpointEvery int
}

// New builds a Downloader.
func New(st *store.Store, pipeline *content.Pipeline, opts Options) *Downloader {
	prompter := opts.Prompter
	if prompter == nil {
		prompter = autoPrompter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	every := opts.CheckpointEvery
	if every <= 0 {
		every = 5
	}
	return &Downloader{
		store:           st,
		pipeline:        pipeline,
		prompter:        prompter,
		progress:        opts.Progress,
		logger:          logger,
		checkpointEvery: every,
	}
}

// batchState carries the decisions one user answer propagates across a batch.
type batchState struct {
	runID         string
	skipImagesAll bool
	cancelAll     bool
}

// Download runs the workflow for a single entry.
func (d *Downloader) Download(ctx context.Context, entry miniflux.Entry, includeImages bool) Result {
	batch := &batchState{runID: uuid.NewString()}
	return d.downloadOne(ctx, entry, includeImages, batch)
}

// DownloadBatch runs the workflow sequentially over entries. A SkipImagesAll
// or CancelAll answer given once applies to every remaining entry without
// asking again.
func (d *Downloader) DownloadBatch(ctx context.Context, entries []miniflux.Entry, includeImages bool) []Result {
	batch := &batchState{runID: uuid.NewString()}
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		if batch.cancelAll || ctx.Err() != nil {
			break
		}
		results = append(results, d.downloadOne(ctx, entry, includeImages, batch))
	}
	return results
}

func (d *Downloader) downloadOne(ctx context.Context, entry miniflux.Entry, includeImages bool, batch *batchState) Result {
	logger := d.logger.With("run_id", batch.runID, "entry_id", entry.ID)
	res := Result{EntryID: entry.ID}

	// Preparing.
	d.emit(Event{EntryID: entry.ID, Phase: PhasePreparing})
	if entry.ID <= 0 {
		res.Err = fmt.Errorf("download: invalid entry id %d", entry.ID)
		return res
	}

	if d.store.IsDownloaded(entry.ID) {
		logger.Debug("entry already local, skipping download")
		res.AlreadyLocal = true
		res.Path = d.store.DocumentPath(entry.ID)
		d.emit(Event{EntryID: entry.ID, Phase: PhaseCompleting})
		return res
	}

	if entry.URL == "" {
		res.Err = fmt.Errorf("download: entry %d has no canonical URL", entry.ID)
		return res
	}

	dir, err := d.store.CreateEntryDir(entry.ID)
	if err != nil {
		res.Err = err
		return res
	}

	doc, err := d.pipeline.Prepare(entry.Content, entry.URL)
	if err != nil {
		_ = d.store.Delete(entry.ID)
		res.Err = fmt.Errorf("prepare entry %d: %w", entry.ID, err)
		return res
	}

	// Downloading.
	skipImages := !includeImages || batch.skipImagesAll
	total := len(doc.Images)
	if !skipImages && total > 0 {
		d.emit(Event{EntryID: entry.ID, Phase: PhaseDownloading, ImagesTotal: total})

		for i, img := range doc.Images {
			if ctx.Err() != nil {
				return d.abandon(entry.ID, res, logger, "context canceled during image download")
			}
			if i > 0 && i%d.checkpointEvery == 0 {
				decision := d.prompter.Checkpoint(ctx, entry.ID, PhaseDownloading, res.ImagesOK, res.ImagesFailed, total)
				switch decision {
				case CancelEntry:
					return d.abandon(entry.ID, res, logger, "entry canceled at checkpoint")
				case CancelAll:
					batch.cancelAll = true
					return d.abandon(entry.ID, res, logger, "batch canceled at checkpoint")
				case SkipImagesAll:
					batch.skipImagesAll = true
					skipImages = true
				case SkipImages:
					skipImages = true
				}
				if skipImages {
					break
				}
			}

			if d.pipeline.FetchImage(ctx, img, dir) == nil {
				res.ImagesOK++
			} else {
				res.ImagesFailed++
			}
			d.emit(Event{EntryID: entry.ID, Phase: PhaseDownloading, ImagesDone: res.ImagesOK, ImagesFailed: res.ImagesFailed, ImagesTotal: total})
		}
	}

	// Phase-boundary checkpoint: only abandon-or-continue applies here.
	switch d.prompter.Checkpoint(ctx, entry.ID, PhaseProcessing, res.ImagesOK, res.ImagesFailed, total) {
	case CancelEntry:
		return d.abandon(entry.ID, res, logger, "entry abandoned before processing")
	case CancelAll:
		batch.cancelAll = true
		return d.abandon(entry.ID, res, logger, "batch canceled before processing")
	}

	// Processing. A failure past this point keeps whatever images landed on
	// disk so a later recovery pass can reuse them.
	d.emit(Event{EntryID: entry.ID, Phase: PhaseProcessing})

	html, err := d.pipeline.Finalize(doc, dir, content.Header{
		FeedTitle: feedTitle(entry),
		Published: entry.PublishedAt,
		URL:       entry.URL,
	})
	if err != nil {
		res.Err = fmt.Errorf("finalize entry %d: %w", entry.ID, err)
		return res
	}
	if err := d.store.WriteDocument(entry.ID, html); err != nil {
		res.Err = err
		return res
	}

	meta := metadataFor(entry)
	meta.Images = imageMap(doc.Images)
	if err := d.store.Save(meta); err != nil {
		res.Err = err
		return res
	}

	// Completing.
	res.Path = d.store.DocumentPath(entry.ID)
	d.emit(Event{EntryID: entry.ID, Phase: PhaseCompleting, ImagesDone: res.ImagesOK, ImagesFailed: res.ImagesFailed, ImagesTotal: total})
	logger.Info("entry downloaded",
		"images_ok", res.ImagesOK, "images_failed", res.ImagesFailed, "path", res.Path)
	return res
}

// abandon deletes everything written for the entry and marks it canceled.
func (d *Downloader) abandon(entryID int64, res Result, logger *slog.Logger, reason string) Result {
	logger.Info(reason)
	if err := d.store.Delete(entryID); err != nil {
		logger.Warn("cleanup after cancellation failed", logging.Error(err))
	}
	res.Canceled = true
	return res
}

func (d *Downloader) emit(ev Event) {
	if d.progress != nil {
		d.progress(ev)
	}
}

func feedTitle(entry miniflux.Entry) string {
	if entry.Feed != nil {
		return entry.Feed.Title
	}
	return ""
}

func metadataFor(entry miniflux.Entry) *store.Metadata {
	meta := &store.Metadata{
		EntryID:   entry.ID,
		Title:     entry.Title,
		URL:       entry.URL,
		Status:    entry.Status,
		Starred:   entry.Starred,
		Published: entry.PublishedAt.Unix(),
	}
	if entry.Feed != nil {
		meta.FeedID = entry.Feed.ID
		meta.FeedTitle = entry.Feed.Title
		if entry.Feed.Category != nil {
			meta.CategoryID = entry.Feed.Category.ID
			meta.CategoryTitle = entry.Feed.Category.Title
		}
	}
	return meta
}

func imageMap(images []*content.Image) map[string]string {
	if len(images) == 0 {
		return nil
	}
	m := make(map[string]string, len(images))
	for _, img := range images {
		m[img.Filename] = img.SourceURL
	}
	return m
}
