// Package store manages the on-device directory tree holding offline copies
// of downloaded entries. Each entry owns one directory named by its id with
// the rewritten HTML, its images, and a metadata side-file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"paperfeed/internal/logging"
)

// DocumentFile is the rewritten HTML document inside an entry directory.
const DocumentFile = "article.html"

const metadataFile = "metadata.json"

// ErrNotFound reports a missing local entry record.
var ErrNotFound = errors.New("local entry not found")

// Metadata mirrors an entry's display fields plus the image recovery map.
// It lives as metadata.json inside the entry directory so external viewers
// can read it in place.
type Metadata struct {
	EntryID       int64             `json:"entry_id"`
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	Starred       bool              `json:"starred"`
	FeedID        int64             `json:"feed_id"`
	FeedTitle     string            `json:"feed_title"`
	CategoryID    int64             `json:"category_id"`
	CategoryTitle string            `json:"category_title"`
	Published     int64             `json:"published"`
	Images        map[string]string `json:"images,omitempty"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// Store is the local entry store rooted at one download directory. It keeps
// an in-memory metadata mirror; every mutation writes the side-file before
// touching the mirror, so a crash never leaves the mirror ahead of disk.
type Store struct {
	root   string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[int64]*Metadata
}

// New opens (and creates if needed) the store rooted at dir.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store: download root is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	return &Store{
		root:   dir,
		logger: logger,
		cache:  make(map[int64]*Metadata),
	}, nil
}

// Root returns the download root directory.
func (s *Store) Root() string { return s.root }

// EntryDir returns the directory for one entry id.
func (s *Store) EntryDir(entryID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(entryID, 10))
}

// DocumentPath returns the path of the rewritten HTML document for an entry.
func (s *Store) DocumentPath(entryID int64) string {
	return filepath.Join(s.EntryDir(entryID), DocumentFile)
}

// CreateEntryDir makes the entry directory, returning its path.
func (s *Store) CreateEntryDir(entryID int64) (string, error) {
	if entryID <= 0 {
		return "", fmt.Errorf("store: invalid entry id %d", entryID)
	}
	dir := s.EntryDir(entryID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create entry dir %d: %w", entryID, err)
	}
	return dir, nil
}

// Save persists the metadata side-file atomically and refreshes the mirror.
func (s *Store) Save(meta *Metadata) error {
	if meta == nil || meta.EntryID <= 0 {
		return errors.New("store: metadata with valid entry id is required")
	}
	meta.LastUpdated = time.Now().UTC()

	if _, err := s.CreateEntryDir(meta.EntryID); err != nil {
		return err
	}
	if err := s.writeMetadata(meta); err != nil {
		return err
	}

	s.mu.Lock()
	clone := *meta
	s.cache[meta.EntryID] = &clone
	s.mu.Unlock()
	return nil
}

// Load returns the metadata for one entry, from the mirror when warm.
func (s *Store) Load(entryID int64) (*Metadata, error) {
	s.mu.Lock()
	if meta, ok := s.cache[entryID]; ok {
		clone := *meta
		s.mu.Unlock()
		return &clone, nil
	}
	s.mu.Unlock()

	meta, err := s.readMetadata(entryID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	clone := *meta
	s.cache[entryID] = &clone
	s.mu.Unlock()
	return meta, nil
}

// SetStatus updates the recorded status of a downloaded entry.
func (s *Store) SetStatus(entryID int64, status string) error {
	return s.update(entryID, func(meta *Metadata) {
		meta.Status = status
	})
}

// SetStarred updates the recorded starred flag of a downloaded entry.
func (s *Store) SetStarred(entryID int64, starred bool) error {
	return s.update(entryID, func(meta *Metadata) {
		meta.Starred = starred
	})
}

// SetImages replaces the image recovery map of a downloaded entry.
func (s *Store) SetImages(entryID int64, images map[string]string) error {
	return s.update(entryID, func(meta *Metadata) {
		meta.Images = images
	})
}

func (s *Store) update(entryID int64, mutate func(*Metadata)) error {
	meta, err := s.Load(entryID)
	if err != nil {
		return err
	}
	mutate(meta)
	return s.Save(meta)
}

// IsDownloaded reports whether the entry has a completed local copy: both the
// document and the metadata side-file must exist. The metadata file is written
// last during download, so its presence marks completion.
func (s *Store) IsDownloaded(entryID int64) bool {
	if _, err := os.Stat(s.DocumentPath(entryID)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(s.EntryDir(entryID), metadataFile)); err != nil {
		return false
	}
	return true
}

// LocalIDs returns the ids of completed local entries in ascending order.
func (s *Store) LocalIDs() ([]int64, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read download root: %w", err)
	}

	var ids []int64
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(de.Name(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if s.IsDownloaded(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// List returns metadata for every completed local entry, ascending by id.
func (s *Store) List() ([]*Metadata, error) {
	ids, err := s.LocalIDs()
	if err != nil {
		return nil, err
	}
	metas := make([]*Metadata, 0, len(ids))
	for _, id := range ids {
		meta, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable local entry", "entry_id", id, logging.Error(err))
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Delete removes an entry's directory and mirror slot.
func (s *Store) Delete(entryID int64) error {
	if err := os.RemoveAll(s.EntryDir(entryID)); err != nil {
		return fmt.Errorf("delete entry %d: %w", entryID, err)
	}
	s.mu.Lock()
	delete(s.cache, entryID)
	s.mu.Unlock()
	return nil
}

// DeleteAll removes every local entry directory.
func (s *Store) DeleteAll() (int, error) {
	ids, err := s.LocalIDs()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if err := s.Delete(id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// PurgeOlderThan removes local entries whose last update predates cutoff.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int, error) {
	metas, err := s.List()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, meta := range metas {
		if !meta.LastUpdated.Before(cutoff) {
			continue
		}
		if err := s.Delete(meta.EntryID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ApplyClosePolicy implements the auto-delete-on-close rule: a read entry is
// removed when the policy is enabled, but a starred entry is never removed
// here regardless of status.
func (s *Store) ApplyClosePolicy(entryID int64, enabled bool) (bool, error) {
	if !enabled {
		return false, nil
	}
	meta, err := s.Load(entryID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if meta.Starred {
		return false, nil
	}
	if meta.Status != "read" {
		return false, nil
	}
	if err := s.Delete(entryID); err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateCache drops the in-memory mirror. Other processes may have
// rewritten the side-files underneath us.
func (s *Store) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[int64]*Metadata)
	s.mu.Unlock()
}

func (s *Store) metadataPath(entryID int64) string {
	return filepath.Join(s.EntryDir(entryID), metadataFile)
}

func (s *Store) readMetadata(entryID int64) (*Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(entryID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata for entry %d: %w", entryID, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata for entry %d: %w", entryID, err)
	}
	return &meta, nil
}

// writeMetadata writes the side-file via temp file + rename so readers never
// observe a half-written record.
func (s *Store) writeMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata for entry %d: %w", meta.EntryID, err)
	}

	path := s.metadataPath(meta.EntryID)
	tmp, err := os.CreateTemp(s.EntryDir(meta.EntryID), metadataFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp metadata for entry %d: %w", meta.EntryID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write metadata for entry %d: %w", meta.EntryID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp metadata for entry %d: %w", meta.EntryID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace metadata for entry %d: %w", meta.EntryID, err)
	}
	return nil
}

// WriteDocument writes the rewritten HTML document atomically.
func (s *Store) WriteDocument(entryID int64, html string) error {
	dir, err := s.CreateEntryDir(entryID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, DocumentFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp document for entry %d: %w", entryID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(html); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write document for entry %d: %w", entryID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp document for entry %d: %w", entryID, err)
	}
	if err := os.Rename(tmpName, s.DocumentPath(entryID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace document for entry %d: %w", entryID, err)
	}
	return nil
}
