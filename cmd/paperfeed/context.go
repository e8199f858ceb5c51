package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"paperfeed/internal/app"
	"paperfeed/internal/config"
	"paperfeed/internal/content"
	"paperfeed/internal/download"
	"paperfeed/internal/logging"
	"paperfeed/internal/miniflux"
	"paperfeed/internal/nav"
	"paperfeed/internal/queue"
	"paperfeed/internal/store"
	appsync "paperfeed/internal/sync"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime holds the wired engine for one command invocation. Close releases
// the instance lock and the queue database.
type runtime struct {
	cfg     config.Config
	client  *miniflux.Client
	queue   *queue.Store
	store   *store.Store
	fetcher *content.Fetcher
	service *app.Service

	lock *flock.Flock
}

func (r *runtime) Close() {
	if r.queue != nil {
		_ = r.queue.Close()
	}
	if r.lock != nil {
		_ = r.lock.Unlock()
	}
}

// withService builds the full engine, runs fn, and tears everything down.
// A second paperfeed process against the same download root is refused so
// the queue database and entry directories have a single writer.
func (c *commandContext) withService(fn func(*runtime) error) error {
	return c.withServiceSettings(nil, fn)
}

func (c *commandContext) withServiceSettings(adjust func(*app.Settings), fn func(*runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(cfg.DownloadRoot, "paperfeed.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return errors.New("another paperfeed instance is using this download root")
	}

	q, err := queue.Open(filepath.Join(cfg.DownloadRoot, "queue.db"))
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	st, err := store.New(cfg.DownloadRoot, logger)
	if err != nil {
		_ = q.Close()
		_ = lock.Unlock()
		return err
	}

	client := miniflux.NewClient(cfg.ServerAddress, cfg.APIToken, nil)
	fetcher := content.NewFetcher(content.FetcherOptions{
		Timeout:    cfg.ImageFetchTimeout,
		ProxyURL:   cfg.ImageProxyURL,
		ProxyToken: cfg.ImageProxyToken,
	}, logger)
	pipeline := content.NewPipeline(fetcher, logger)
	downloader := download.New(st, pipeline, download.Options{Logger: logger})
	reconciler := appsync.New(q, client, st, appsync.Options{Logger: logger})
	cursor := nav.New(client, st, logger)

	settings := app.Settings{
		IncludeImages:     cfg.IncludeImages,
		MarkReadOnOpen:    cfg.MarkReadOnOpen,
		AutoDeleteOnClose: cfg.AutoDeleteOnClose,
		Limit:             cfg.Limit,
		Order:             cfg.Order,
		Direction:         cfg.Direction,
	}
	if adjust != nil {
		adjust(&settings)
	}

	rt := &runtime{
		cfg:     cfg,
		client:  client,
		queue:   q,
		store:   st,
		fetcher: fetcher,
		service: app.NewService(client, q, st, downloader, reconciler, cursor, settings, logger),
		lock:    lock,
	}
	defer rt.Close()
	return fn(rt)
}
