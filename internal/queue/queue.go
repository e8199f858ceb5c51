// Package queue persists pending mutations that could not be delivered to the
// feed server. The queue is the retry mechanism: entries stay until a later
// reconciliation confirms them server-side.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// CollectionKind addresses a group of entries for bulk mark-as-read.
type CollectionKind string

const (
	KindFeed     CollectionKind = "feed"
	KindCategory CollectionKind = "category"
	KindAll      CollectionKind = "all"
)

// PendingStatus is one queued status change for a single entry. The assumed
// status records what the entry looked like before the change; it exists for
// diagnostics only and plays no part in conflict resolution.
type PendingStatus struct {
	NewStatus     string
	AssumedStatus string
	EnqueuedAt    time.Time
}

// PendingBookmark is one queued starred-flag change for a single entry.
// Because the server only exposes a toggle, the desired and assumed values
// together decide whether a call is needed at all.
type PendingBookmark struct {
	Starred    bool
	Assumed    bool
	EnqueuedAt time.Time
}

// PendingCollection is one queued idempotent mark-collection-read request.
type PendingCollection struct {
	Kind         CollectionKind
	CollectionID int64
	EnqueuedAt   time.Time
}

// Counts reports queue depth split by mutation kind.
type Counts struct {
	Status     int
	Bookmark   int
	Collection int
}

// Total is the number of pending mutations of any kind.
func (c Counts) Total() int {
	return c.Status + c.Bookmark + c.Collection
}

// Store manages queue persistence backed by SQLite. Every mutation runs in a
// transaction, so a crash mid-write leaves either the old or the new full
// state on disk.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS status_mutations (
  entry_id INTEGER PRIMARY KEY,
  new_status TEXT NOT NULL,
  assumed_status TEXT NOT NULL DEFAULT '',
  enqueued_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bookmark_mutations (
  entry_id INTEGER PRIMARY KEY,
  starred INTEGER NOT NULL,
  assumed INTEGER NOT NULL,
  enqueued_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS collection_mutations (
  kind TEXT NOT NULL,
  collection_id INTEGER NOT NULL,
  enqueued_at TEXT NOT NULL,
  PRIMARY KEY (kind, collection_id)
);
`

// Open initializes or connects to the queue database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnqueueStatus records a desired status for an entry. A later enqueue for the
// same id overwrites the earlier one, so the queue always holds the last
// desired state.
func (s *Store) EnqueueStatus(ctx context.Context, entryID int64, newStatus, assumedStatus string) error {
	if entryID <= 0 {
		return fmt.Errorf("enqueue status: invalid entry id %d", entryID)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO status_mutations (entry_id, new_status, assumed_status, enqueued_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(entry_id) DO UPDATE SET
  new_status=excluded.new_status,
  assumed_status=excluded.assumed_status,
  enqueued_at=excluded.enqueued_at
`, entryID, newStatus, assumedStatus, now())
	if err != nil {
		return fmt.Errorf("enqueue status for entry %d: %w", entryID, err)
	}
	return nil
}

// RemoveStatus drops the pending status mutation for one entry, if any.
func (s *Store) RemoveStatus(ctx context.Context, entryID int64) error {
	return s.RemoveStatuses(ctx, []int64{entryID})
}

// RemoveStatuses drops pending status mutations for the given ids in one
// transaction. Called only after the server confirmed those ids.
func (s *Store) RemoveStatuses(ctx context.Context, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM status_mutations WHERE entry_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range entryIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("remove status for entry %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadStatusQueue returns every pending status mutation keyed by entry id.
func (s *Store) LoadStatusQueue(ctx context.Context) (map[int64]PendingStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_id, new_status, assumed_status, enqueued_at FROM status_mutations`)
	if err != nil {
		return nil, fmt.Errorf("query status queue: %w", err)
	}
	defer rows.Close()

	pending := make(map[int64]PendingStatus)
	for rows.Next() {
		var id int64
		var p PendingStatus
		var at string
		if err := rows.Scan(&id, &p.NewStatus, &p.AssumedStatus, &at); err != nil {
			return nil, fmt.Errorf("scan status mutation: %w", err)
		}
		p.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, at)
		pending[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return pending, nil
}

// SaveStatusQueue replaces the whole status queue with the given map in one
// transaction.
func (s *Store) SaveStatusQueue(ctx context.Context, pending map[int64]PendingStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM status_mutations`); err != nil {
		return fmt.Errorf("clear status queue: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO status_mutations (entry_id, new_status, assumed_status, enqueued_at)
VALUES (?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, p := range pending {
		at := p.EnqueuedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, id, p.NewStatus, p.AssumedStatus, at.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("save status for entry %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ClearStatusQueue drops every pending status mutation and reports whether
// anything was removed.
func (s *Store) ClearStatusQueue(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM status_mutations`)
	if err != nil {
		return false, fmt.Errorf("clear status queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EnqueueBookmark records a desired starred flag for an entry. If the desired
// value equals the assumed pre-change value the pending mutation is removed
// instead: toggling back cancels the earlier toggle, and the server call is a
// toggle rather than an absolute set.
func (s *Store) EnqueueBookmark(ctx context.Context, entryID int64, starred bool) error {
	if entryID <= 0 {
		return fmt.Errorf("enqueue bookmark: invalid entry id %d", entryID)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var assumed bool
	var exists bool
	row := tx.QueryRowContext(ctx, `SELECT assumed FROM bookmark_mutations WHERE entry_id = ?`, entryID)
	switch err := row.Scan(&assumed); err {
	case nil:
		exists = true
	case sql.ErrNoRows:
		assumed = !starred
	default:
		return fmt.Errorf("load bookmark mutation for entry %d: %w", entryID, err)
	}

	if exists && assumed == starred {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bookmark_mutations WHERE entry_id = ?`, entryID); err != nil {
			return fmt.Errorf("cancel bookmark mutation for entry %d: %w", entryID, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO bookmark_mutations (entry_id, starred, assumed, enqueued_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(entry_id) DO UPDATE SET
  starred=excluded.starred,
  enqueued_at=excluded.enqueued_at
`, entryID, starred, assumed, now()); err != nil {
			return fmt.Errorf("enqueue bookmark for entry %d: %w", entryID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RemoveBookmark drops the pending bookmark mutation for one entry.
func (s *Store) RemoveBookmark(ctx context.Context, entryID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bookmark_mutations WHERE entry_id = ?`, entryID); err != nil {
		return fmt.Errorf("remove bookmark for entry %d: %w", entryID, err)
	}
	return nil
}

// LoadBookmarkQueue returns every pending bookmark mutation keyed by entry id.
func (s *Store) LoadBookmarkQueue(ctx context.Context) (map[int64]PendingBookmark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_id, starred, assumed, enqueued_at FROM bookmark_mutations`)
	if err != nil {
		return nil, fmt.Errorf("query bookmark queue: %w", err)
	}
	defer rows.Close()

	pending := make(map[int64]PendingBookmark)
	for rows.Next() {
		var id int64
		var p PendingBookmark
		var at string
		if err := rows.Scan(&id, &p.Starred, &p.Assumed, &at); err != nil {
			return nil, fmt.Errorf("scan bookmark mutation: %w", err)
		}
		p.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, at)
		pending[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return pending, nil
}

// EnqueueCollection records a mark-collection-read request. Re-enqueueing the
// same collection refreshes its timestamp; the operation is idempotent.
func (s *Store) EnqueueCollection(ctx context.Context, kind CollectionKind, collectionID int64) error {
	if kind != KindAll && collectionID <= 0 {
		return fmt.Errorf("enqueue collection: invalid %s id %d", kind, collectionID)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO collection_mutations (kind, collection_id, enqueued_at)
VALUES (?, ?, ?)
ON CONFLICT(kind, collection_id) DO UPDATE SET enqueued_at=excluded.enqueued_at
`, string(kind), collectionID, now())
	if err != nil {
		return fmt.Errorf("enqueue %s %d: %w", kind, collectionID, err)
	}
	return nil
}

// RemoveCollection drops one pending collection mutation.
func (s *Store) RemoveCollection(ctx context.Context, kind CollectionKind, collectionID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_mutations WHERE kind = ? AND collection_id = ?`,
		string(kind), collectionID); err != nil {
		return fmt.Errorf("remove %s %d: %w", kind, collectionID, err)
	}
	return nil
}

// LoadCollectionQueue returns pending collection mutations, oldest first.
func (s *Store) LoadCollectionQueue(ctx context.Context) ([]PendingCollection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, collection_id, enqueued_at FROM collection_mutations ORDER BY enqueued_at, kind, collection_id`)
	if err != nil {
		return nil, fmt.Errorf("query collection queue: %w", err)
	}
	defer rows.Close()

	var pending []PendingCollection
	for rows.Next() {
		var p PendingCollection
		var kind, at string
		if err := rows.Scan(&kind, &p.CollectionID, &at); err != nil {
			return nil, fmt.Errorf("scan collection mutation: %w", err)
		}
		p.Kind = CollectionKind(kind)
		p.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, at)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return pending, nil
}

// ClearCollectionQueue drops every pending collection mutation.
func (s *Store) ClearCollectionQueue(ctx context.Context) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collection_mutations`)
	if err != nil {
		return false, fmt.Errorf("clear collection queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearAll empties every queue. Used when the user discards pending changes.
func (s *Store) ClearAll(ctx context.Context) error {
	for _, table := range []string{"status_mutations", "bookmark_mutations", "collection_mutations"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// TotalCounts reports queue depth split by mutation kind.
func (s *Store) TotalCounts(ctx context.Context) (Counts, error) {
	var c Counts
	queries := []struct {
		table string
		dst   *int
	}{
		{"status_mutations", &c.Status},
		{"bookmark_mutations", &c.Bookmark},
		{"collection_mutations", &c.Collection},
	}
	for _, q := range queries {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+q.table)
		if err := row.Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return c, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
