// Package content transforms raw entry HTML into a self-contained offline
// document: embedded videos become thumbnail links, images are discovered,
// deduplicated and downloaded next to the document, and the markup is
// rewritten to reference them by local filename.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"paperfeed/internal/logging"
)

// Image describes one discovered, to-be-downloaded image. It lives for the
// duration of a single entry's pipeline run; only the filename to source URL
// mapping outlives it, persisted in the entry's metadata.
type Image struct {
	// SourceURL is the normalized absolute URL the tag resolved to.
	SourceURL string
	// HiResURL is a higher-resolution variant taken from srcset, if any.
	HiResURL string
	// Filename is the generated local name, sequential by discovery order.
	Filename string

	Width  int
	Height int

	Downloaded    bool
	FailureReason string
}

// FetchURL returns the URL to download: the hi-res variant when present.
func (img *Image) FetchURL() string {
	if img.HiResURL != "" {
		return img.HiResURL
	}
	return img.SourceURL
}

// Document is a parsed entry mid-pipeline: the DOM plus the deduplicated
// image list discovered from it.
type Document struct {
	doc    *goquery.Document
	base   *url.URL
	Images []*Image
	byURL  map[string]*Image
}

// Header carries the metadata rendered at the top of the assembled document.
type Header struct {
	FeedTitle string
	Published time.Time
	URL       string
}

// Input is one entry's raw material for a full pipeline run.
type Input struct {
	HTML          string
	BaseURL       string
	IncludeImages bool
	EntryDir      string
	Header        Header
}

// Result is the pipeline output: the assembled document and the persisted
// part of the image descriptors.
type Result struct {
	HTML      string
	Images    []*Image
	Succeeded int
	Failed    int
}

// ImageMap returns the local filename to source URL mapping for persistence.
func (r *Result) ImageMap() map[string]string {
	if len(r.Images) == 0 {
		return nil
	}
	m := make(map[string]string, len(r.Images))
	for _, img := range r.Images {
		m[img.Filename] = img.SourceURL
	}
	return m
}

// Pipeline runs the content transformation steps. Partial image failures are
// recorded on the descriptors, never returned as errors; only structural
// problems (unparseable base URL, missing input) fail a run.
type Pipeline struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewPipeline builds a pipeline around the given image fetcher. A nil fetcher
// gets defaults, which suits image-free runs.
func NewPipeline(fetcher *Fetcher, logger *slog.Logger) *Pipeline {
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{}, logger)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{fetcher: fetcher, logger: logger}
}

// Prepare parses the raw HTML, normalizes video embeds and discovers images.
// The returned document is ready for FetchImage and Finalize.
func (p *Pipeline) Prepare(rawHTML, baseURL string) (*Document, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("content: base URL is required")
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("content: invalid base URL %q", baseURL)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("content: parse html: %w", err)
	}

	d := &Document{doc: doc, base: base, byURL: make(map[string]*Image)}
	normalizeVideoEmbeds(doc)
	discoverImages(d)
	return d, nil
}

// FetchImage downloads one discovered image into destDir. Failures are
// recorded on the descriptor and returned for logging; the caller decides
// nothing based on the error beyond counting it.
func (p *Pipeline) FetchImage(ctx context.Context, img *Image, destDir string) error {
	err := p.fetcher.Fetch(ctx, img, destDir)
	if err != nil {
		p.logger.Debug("image fetch failed",
			"url", img.FetchURL(), "file", img.Filename, logging.Error(err))
	}
	return err
}

// Finalize rewrites image references to local filenames, strips elements that
// cannot function offline, and wraps the body in a minimal document rooted at
// entryDir.
func (p *Pipeline) Finalize(d *Document, entryDir string, header Header) (string, error) {
	if d == nil {
		return "", errors.New("content: document is required")
	}
	rewriteImages(d)
	stripOfflineHostile(d.doc)

	body, err := d.doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("content: render body: %w", err)
	}
	return assembleDocument(body, entryDir, header), nil
}

// Run executes the whole pipeline for one entry without interactive
// checkpoints: prepare, fetch every image when requested, finalize.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	d, err := p.Prepare(in.HTML, in.BaseURL)
	if err != nil {
		return nil, err
	}

	res := &Result{Images: d.Images}
	if in.IncludeImages {
		if in.EntryDir == "" {
			return nil, errors.New("content: entry dir is required to fetch images")
		}
		for _, img := range d.Images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if p.FetchImage(ctx, img, in.EntryDir) == nil {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
	}

	html, err := p.Finalize(d, in.EntryDir, in.Header)
	if err != nil {
		return nil, err
	}
	res.HTML = html
	return res, nil
}
