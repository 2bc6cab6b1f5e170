package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/paleodem/api"
)

// Index is the cache's bookkeeping database. An entry row is the presence
// marker for a stored resource and is written only after all of its files
// are in place; freshness rows hold the validators of downloaded rasters.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenIndex opens (creating if needed) the index database at path. An empty
// path opens a private in-memory database.
func OpenIndex(path string) (*Index, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache index %s: %w", dsn, err)
	}
	// One connection: an in-memory database is per connection, and writes
	// are serialized by mu anyway.
	db.SetMaxOpenConns(1)

	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode on cache index: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout on cache index: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			ns TEXT NOT NULL,
			key TEXT NOT NULL,
			files INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (ns, key)
		) WITHOUT ROWID;
		CREATE TABLE IF NOT EXISTS freshness (
			name TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			etag TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			file TEXT NOT NULL DEFAULT '',
			checked_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

// Mark records key in ns as present.
func (ix *Index) Mark(ns, key string, files int, bytes int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.Exec(`INSERT INTO entries (ns, key, files, bytes, stored_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (ns, key) DO UPDATE SET files = excluded.files, bytes = excluded.bytes, stored_at = excluded.stored_at`,
		ns, key, files, bytes, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("mark %s/%s: %w", ns, key, err)
	}
	return nil
}

// Unmark removes key and every key nested under it.
func (ix *Index) Unmark(ns, key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	// Keys under key/ sort between key+"/" and key+"0" ('0' follows '/').
	_, err := ix.db.Exec(`DELETE FROM entries WHERE ns = ? AND (key = ? OR (key >= ? AND key < ?))`,
		ns, key, key+"/", key+"0")
	if err != nil {
		return fmt.Errorf("unmark %s/%s: %w", ns, key, err)
	}
	return nil
}

// Present reports whether key in ns carries a presence marker.
func (ix *Index) Present(ns, key string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	var n int
	err := ix.db.QueryRow(`SELECT count(*) FROM entries WHERE ns = ? AND key = ?`, ns, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query %s/%s: %w", ns, key, err)
	}
	return n > 0, nil
}

// Keys returns the top-level keys of ns in name order.
func (ix *Index) Keys(ns string) ([]string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, err := ix.db.Query(`SELECT key FROM entries WHERE ns = ? AND instr(key, '/') = 0 ORDER BY key`, ns)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PutFreshness stores the validators of a downloaded raster.
func (ix *Index) PutFreshness(rec api.FreshnessRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.Exec(`INSERT INTO freshness (name, url, etag, last_modified, size, file, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url, etag = excluded.etag,
			last_modified = excluded.last_modified, size = excluded.size, file = excluded.file,
			checked_at = excluded.checked_at`,
		rec.Name, rec.URL, rec.ETag, rec.LastModified, rec.Size, rec.File, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store freshness of %s: %w", rec.Name, err)
	}
	return nil
}

// Freshness returns the stored validators for name, or an error wrapping
// api.ErrNotFound.
func (ix *Index) Freshness(name string) (*api.FreshnessRecord, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec := &api.FreshnessRecord{Name: name}
	err := ix.db.QueryRow(`SELECT url, etag, last_modified, size, file FROM freshness WHERE name = ?`, name).
		Scan(&rec.URL, &rec.ETag, &rec.LastModified, &rec.Size, &rec.File)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("freshness of %s: %w", name, api.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query freshness of %s: %w", name, err)
	}
	return rec, nil
}

// DeleteFreshness forgets the validators for name.
func (ix *Index) DeleteFreshness(name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, err := ix.db.Exec(`DELETE FROM freshness WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete freshness of %s: %w", name, err)
	}
	return nil
}

