// Package store persists file identity and digest metadata in sqlite.
//
// One row per path. Whenever the identity of a path (size, mtime, inode)
// changes relative to the stored row, all digest columns are nulled in the
// same statement, so a stale digest can never be attributed to new content.
// Digests are filled in lazily by the comparison pass and survive across
// runs, which is what makes repeated runs cheap.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"dupeplan/internal/types"
)

// ErrConsistency indicates a broken store invariant (a path with more than
// one row). It is fatal: the unique key is declared, so a violation means
// the database cannot be trusted.
var ErrConsistency = errors.New("metadata store consistency violation")

// Store is a sqlite-backed metadata table keyed by absolute path.
// A single connection is used; writes are serialized by the driver. An open
// record stream holds that connection, so streaming callbacks must not
// issue further store operations.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens (or creates) the metadata database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	logrus.WithField("path", path).Debug("opening metadata store")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: logrus.WithField("component", "store")}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS files (
			path TEXT NOT NULL,
			size INTEGER,
			mtime INTEGER,
			inode INTEGER,
			checksum_head TEXT,
			checksum_tail TEXT,
			checksum_full TEXT,
			extents_digest TEXT,
			PRIMARY KEY (path)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_files_size ON files (size);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize store schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert records the observed identity of a path.
//
// Absent path: a new row is inserted with null digests. Present with a
// different (size, mtime, inode): those fields are updated and all four
// digest columns are nulled atomically. Present and identical: nothing
// happens. A path with multiple rows aborts with ErrConsistency.
func (s *Store) Upsert(path string, size, mtimeNS int64, inode uint64) (types.UpsertResult, error) {
	rows, err := s.db.Query(
		"SELECT size, mtime, inode FROM files WHERE path = ?", path)
	if err != nil {
		return 0, fmt.Errorf("upsert lookup %q: %w", path, err)
	}
	var (
		found             int
		curSize, curMTime sql.NullInt64
		curInode          sql.NullInt64
	)
	for rows.Next() {
		found++
		if found > 1 {
			_ = rows.Close()
			return 0, fmt.Errorf("%w: path %q has multiple records", ErrConsistency, path)
		}
		if err := rows.Scan(&curSize, &curMTime, &curInode); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("upsert scan %q: %w", path, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("upsert lookup %q: %w", path, err)
	}

	if found == 0 {
		_, err := s.db.Exec(
			"INSERT INTO files (path, size, mtime, inode) VALUES (?, ?, ?, ?)",
			path, size, mtimeNS, int64(inode))
		if err != nil {
			return 0, fmt.Errorf("insert %q: %w", path, err)
		}
		return types.Inserted, nil
	}

	if curSize.Valid && curSize.Int64 == size &&
		curMTime.Valid && curMTime.Int64 == mtimeNS &&
		curInode.Valid && curInode.Int64 == int64(inode) {
		return types.Unchanged, nil
	}

	// Identity changed: stale digests must not survive the update.
	_, err = s.db.Exec(
		`UPDATE files SET
			size = ?, mtime = ?, inode = ?,
			checksum_head = NULL, checksum_tail = NULL,
			checksum_full = NULL, extents_digest = NULL
		WHERE path = ?`,
		size, mtimeNS, int64(inode), path)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", path, err)
	}
	return types.Updated, nil
}

// WriteDigests unconditionally overwrites the digest columns for path.
// Empty strings are stored as NULL. The caller is responsible for only
// writing digests computed against the path's current identity.
func (s *Store) WriteDigests(path string, d types.DigestSet) error {
	res, err := s.db.Exec(
		`UPDATE files SET
			checksum_head = ?, checksum_tail = ?,
			checksum_full = ?, extents_digest = ?
		WHERE path = ?`,
		nullable(d.Head), nullable(d.Tail), nullable(d.Full), nullable(d.Extents), path)
	if err != nil {
		return fmt.Errorf("write digests %q: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write digests %q: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("write digests %q: no such record", path)
	}
	return nil
}

// RecordsBySize streams all records ordered by size ascending, optionally
// bounded to [minSize, maxSize] (maxSize <= 0 means unbounded). Iteration
// stops at the first error returned by fn.
func (s *Store) RecordsBySize(minSize, maxSize int64, fn func(*types.FileRecord) error) error {
	query := `SELECT path, size, mtime, inode,
		checksum_head, checksum_tail, checksum_full, extents_digest
	FROM files WHERE size >= ?`
	args := []any{minSize}
	if maxSize > 0 {
		query += " AND size <= ?"
		args = append(args, maxSize)
	}
	query += " ORDER BY size ASC, path ASC"
	return s.stream(query, args, fn)
}

// RecordsContentResolved streams records whose three content digests are all
// present, in the total order (size, head, tail, full, inode, extents,
// mtime, path). This order makes adjacent-equality grouping deterministic.
func (s *Store) RecordsContentResolved(minSize, maxSize int64, fn func(*types.FileRecord) error) error {
	query := `SELECT path, size, mtime, inode,
		checksum_head, checksum_tail, checksum_full, extents_digest
	FROM files
	WHERE checksum_head IS NOT NULL
	  AND checksum_tail IS NOT NULL
	  AND checksum_full IS NOT NULL
	  AND size >= ?`
	args := []any{minSize}
	if maxSize > 0 {
		query += " AND size <= ?"
		args = append(args, maxSize)
	}
	query += ` ORDER BY size, checksum_head, checksum_tail, checksum_full,
		inode, extents_digest, mtime, path`
	return s.stream(query, args, fn)
}

func (s *Store) stream(query string, args []any, fn func(*types.FileRecord) error) error {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			rec                      types.FileRecord
			inode                    sql.NullInt64
			head, tail, full, extent sql.NullString
		)
		if err := rows.Scan(&rec.Path, &rec.Size, &rec.MTimeNS, &inode,
			&head, &tail, &full, &extent); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		rec.Inode = uint64(inode.Int64)
		rec.Head = head.String
		rec.Tail = tail.String
		rec.Full = full.String
		rec.Extents = extent.String
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Prune deletes records for which gone(path) reports true. It exists as an
// explicit maintenance operation: neither scanning nor comparison ever
// removes records, so history stays available for forensic reruns.
func (s *Store) Prune(gone func(path string) bool) (int64, error) {
	var stale []string
	err := s.stream(
		`SELECT path, size, mtime, inode,
			checksum_head, checksum_tail, checksum_full, extents_digest
		FROM files ORDER BY path`, nil,
		func(rec *types.FileRecord) error {
			if gone(rec.Path) {
				stale = append(stale, rec.Path)
			}
			return nil
		})
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, path := range stale {
		res, err := s.db.Exec("DELETE FROM files WHERE path = ?", path)
		if err != nil {
			return removed, fmt.Errorf("prune %q: %w", path, err)
		}
		n, _ := res.RowsAffected()
		removed += n
		s.log.WithField("path", path).Debug("pruned stale record")
	}
	return removed, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
