// Package diskstore implements the durable tier's storage engine: one
// SQLite row per key, with small values inlined as a blob and large
// values spilled to a sidecar file in the same cache directory.
package diskstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/coredao-org/cachekit/log"
)

const (
	dbFileName   = "diskcache.sqlite"
	lockFileName = ".lock"

	schemaSQL = `
CREATE TABLE IF NOT EXISTS detailed (
	key              TEXT PRIMARY KEY,
	filename         TEXT,
	inline_data      BLOB,
	content_hash     TEXT,
	size             INTEGER NOT NULL,
	last_access_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detailed_last_access ON detailed(last_access_time);
`
)

// Hasher derives a stable hex digest of a key, stored alongside each row
// as content_hash. Read does not compare it against the payload.
type Hasher interface {
	Digest(key string) string
}

// Item describes one row for the maintenance queries (oldest/expired
// scans) that never need the payload itself.
type Item struct {
	Key      string
	Filename string // empty when stored inline
	Size     int64
}

// Store owns the sidecar directory and the embedded database. All
// operations are safe for concurrent use; callers needing compound
// sequences (read-modify-write) should hold their own higher-level lock,
// as disktier.Tier does.
type Store struct {
	mu     sync.Mutex
	dir    string
	dbPath string
	db     *sql.DB
	stmts  map[string]*sql.Stmt
	hasher Hasher
	lock   *flock.Flock
	logger log.Logger
	now    func() time.Time
}

// Open creates (if needed) and opens the cache directory
// "<root>/diskcache.<appID>/", its SQLite database, and prepares the
// schema.
func Open(root, appID string, hasher Hasher) (*Store, error) {
	dir := filepath.Join(root, "diskcache."+appID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskstore: create cache dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		dbPath: filepath.Join(dir, dbFileName),
		stmts:  make(map[string]*sql.Stmt),
		hasher: hasher,
		lock:   flock.New(filepath.Join(dir, lockFileName)),
		logger: log.New("component", "diskstore"),
		now:    time.Now,
	}
	if err := s.openDB(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openDB() error {
	connStr := "file:" + s.dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return fmt.Errorf("diskstore: open db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("diskstore: init schema: %w", err)
	}
	s.db = db
	return nil
}

// prepared returns a cached *sql.Stmt for query, preparing and caching it
// on first use. Callers must hold s.mu.
func (s *Store) prepared(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	s.stmts[query] = stmt
	return stmt, nil
}

const (
	upsertInlineSQL = `
INSERT INTO detailed (key, filename, inline_data, content_hash, size, last_access_time)
VALUES (?, NULL, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	filename = NULL, inline_data = excluded.inline_data,
	content_hash = excluded.content_hash, size = excluded.size,
	last_access_time = excluded.last_access_time`

	upsertFileSQL = `
INSERT INTO detailed (key, filename, inline_data, content_hash, size, last_access_time)
VALUES (?, ?, NULL, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	filename = excluded.filename, inline_data = NULL,
	content_hash = excluded.content_hash, size = excluded.size,
	last_access_time = excluded.last_access_time`

	selectRowSQL       = `SELECT filename, inline_data, size FROM detailed WHERE key = ?`
	selectFilenameSQL  = `SELECT filename FROM detailed WHERE key = ?`
	countKeySQL        = `SELECT count(key) FROM detailed WHERE key = ?`
	touchSQL           = `UPDATE detailed SET last_access_time = ? WHERE key = ?`
	deleteRowSQL       = `DELETE FROM detailed WHERE key = ?`
	expiredFilesSQL    = `SELECT key, filename FROM detailed WHERE last_access_time < ? AND filename IS NOT NULL`
	deleteExpiredSQL   = `DELETE FROM detailed WHERE last_access_time < ?`
	oldestItemsSQL     = `SELECT key, filename, size FROM detailed ORDER BY last_access_time ASC LIMIT ?`
	totalSizeSQL       = `SELECT COALESCE(SUM(size), 0) FROM detailed`
	totalCountSQL      = `SELECT count(*) FROM detailed`
)

// Write stores bytes under key. When inlineFilename is non-empty, bytes
// are written to that sidecar file first and the row points at it; when
// empty, bytes are stored as the row's inline_data blob. The filename for
// a key that currently has a sidecar file is deleted if this call
// switches it back to inline (or to a different filename).
func (s *Store) Write(key string, data []byte, inlineFilename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevFilename, hadRow := s.filenameLocked(key)

	digest := ""
	if s.hasher != nil {
		digest = s.hasher.Digest(key)
	}
	size := int64(len(data))
	accessTime := s.now().Unix()

	if inlineFilename != "" {
		path := filepath.Join(s.dir, inlineFilename)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			s.logger.Warn("sidecar write failed", "key", key, "err", err)
			return false
		}
		stmt, err := s.prepared(upsertFileSQL)
		if err != nil {
			s.logger.Warn("prepare upsert failed", "err", err)
			_ = os.Remove(path)
			return false
		}
		if _, err := stmt.Exec(key, inlineFilename, digest, size, accessTime); err != nil {
			s.logger.Warn("row upsert failed, removing orphan sidecar", "key", key, "err", err)
			_ = os.Remove(path)
			return false
		}
		if hadRow && prevFilename != "" && prevFilename != inlineFilename {
			_ = os.Remove(filepath.Join(s.dir, prevFilename))
		}
		return true
	}

	stmt, err := s.prepared(upsertInlineSQL)
	if err != nil {
		s.logger.Warn("prepare upsert failed", "err", err)
		return false
	}
	if _, err := stmt.Exec(key, data, digest, size, accessTime); err != nil {
		s.logger.Warn("row upsert failed", "key", key, "err", err)
		return false
	}
	if hadRow && prevFilename != "" {
		_ = os.Remove(filepath.Join(s.dir, prevFilename))
	}
	return true
}

// Read returns the bytes stored under key and whether it was present,
// updating last_access_time to now on a hit.
func (s *Store) Read(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.prepared(selectRowSQL)
	if err != nil {
		s.logger.Warn("prepare select failed", "err", err)
		return nil, false
	}
	var (
		filename sql.NullString
		inline   []byte
		size     int64
	)
	if err := stmt.QueryRow(key).Scan(&filename, &inline, &size); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("select failed", "key", key, "err", err)
		}
		return nil, false
	}

	if touch, err := s.prepared(touchSQL); err == nil {
		_, _ = touch.Exec(s.now().Unix(), key)
	}

	if filename.Valid && filename.String != "" {
		data, err := os.ReadFile(filepath.Join(s.dir, filename.String))
		if err != nil {
			s.logger.Warn("sidecar read failed", "key", key, "filename", filename.String, "err", err)
			return nil, false
		}
		return data, true
	}
	return inline, true
}

// Contains reports whether key has a row, without updating access time.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.prepared(countKeySQL)
	if err != nil {
		return false
	}
	var n int
	if err := stmt.QueryRow(key).Scan(&n); err != nil {
		return false
	}
	return n > 0
}

// Filename returns the sidecar filename for key, or "" if key is absent
// or stored inline.
func (s *Store) Filename(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.filenameLocked(key)
	return name, ok
}

// filenameLocked reports (filename, rowExists) for key. filename is ""
// both when the row doesn't exist and when it exists but is inline;
// rowExists disambiguates the two.
func (s *Store) filenameLocked(key string) (string, bool) {
	stmt, err := s.prepared(selectFilenameSQL)
	if err != nil {
		return "", false
	}
	var filename sql.NullString
	if err := stmt.QueryRow(key).Scan(&filename); err != nil {
		return "", false
	}
	return filename.String, true
}

// Remove deletes key's sidecar file (if any) and row.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.filenameLocked(key); ok && name != "" {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
	stmt, err := s.prepared(deleteRowSQL)
	if err != nil {
		s.logger.Warn("prepare delete failed", "err", err)
		return false
	}
	if _, err := stmt.Exec(key); err != nil {
		s.logger.Warn("delete failed", "key", key, "err", err)
		return false
	}
	return true
}

// RemoveAll wipes the store: closes the database, deletes it (and its
// WAL/SHM siblings) and every sidecar file, then recreates the directory
// and schema from scratch. The directory is exclusively locked for the
// duration so a concurrent close-and-reopen inside the same process can't
// interleave.
func (s *Store) RemoveAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("diskstore: lock cache dir: %w", err)
	}
	defer s.lock.Unlock()

	s.closeStmtsLocked()
	if err := s.closeDBWithRetryLocked(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("diskstore: remove cache dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("diskstore: recreate cache dir: %w", err)
	}
	return s.openDB()
}

// ExpiredFilenames returns the sidecar filenames of every row whose
// last_access_time is older than cutoff (unix seconds), so the caller
// can remove them before calling DeleteExpired.
func (s *Store) ExpiredFilenames(cutoff int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.prepared(expiredFilesSQL)
	if err != nil {
		return nil
	}
	rows, err := stmt.Query(cutoff)
	if err != nil {
		s.logger.Warn("expired scan failed", "err", err)
		return nil
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var key, filename string
		if err := rows.Scan(&key, &filename); err != nil {
			continue
		}
		names = append(names, filename)
	}
	return names
}

// DeleteExpired removes every row whose last_access_time is older than
// cutoff. The caller is responsible for removing the sidecar files
// returned by a prior ExpiredFilenames call.
func (s *Store) DeleteExpired(cutoff int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.prepared(deleteExpiredSQL)
	if err != nil {
		s.logger.Warn("prepare delete-expired failed", "err", err)
		return false
	}
	if _, err := stmt.Exec(cutoff); err != nil {
		s.logger.Warn("delete-expired failed", "err", err)
		return false
	}
	return true
}

// OldestItems returns up to limit items ordered by last_access_time
// ascending, for size-based trimming. limit defaults to 16 when <= 0.
func (s *Store) OldestItems(limit int) []Item {
	if limit <= 0 {
		limit = 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.prepared(oldestItemsSQL)
	if err != nil {
		return nil
	}
	rows, err := stmt.Query(limit)
	if err != nil {
		s.logger.Warn("oldest-items scan failed", "err", err)
		return nil
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			key      string
			filename sql.NullString
			size     int64
		)
		if err := rows.Scan(&key, &filename, &size); err != nil {
			continue
		}
		items = append(items, Item{Key: key, Filename: filename.String, Size: size})
	}
	return items
}

// TotalSize returns the sum of size across every row.
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, err := s.prepared(totalSizeSQL)
	if err != nil {
		return 0
	}
	var total int64
	_ = stmt.QueryRow().Scan(&total)
	return total
}

// TotalCount returns the number of rows.
func (s *Store) TotalCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt, err := s.prepared(totalCountSQL)
	if err != nil {
		return 0
	}
	var total int64
	_ = stmt.QueryRow().Scan(&total)
	return total
}

// Checkpoint flushes the WAL into the main database file. Called after
// bulk deletions so a crash doesn't leave a long WAL to replay.
func (s *Store) Checkpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("checkpoint failed", "err", err)
	}
}

func (s *Store) closeStmtsLocked() {
	for query, stmt := range s.stmts {
		if err := stmt.Close(); err != nil {
			s.logger.Warn("finalize statement failed", "err", err)
		}
		delete(s.stmts, query)
	}
}

// closeDBWithRetryLocked closes the database, retrying with a short
// backoff if the close fails because a statement is still considered
// live — the only failure mode left once closeStmtsLocked has already
// finalized the cache.
func (s *Store) closeDBWithRetryLocked() error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = s.db.Close(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("diskstore: close db after retries: %w", err)
}

// Close finalizes every prepared statement and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStmtsLocked()
	return s.closeDBWithRetryLocked()
}

// Dir returns the cache directory this store owns.
func (s *Store) Dir() string { return s.dir }
