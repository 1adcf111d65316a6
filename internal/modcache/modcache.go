// Package modcache implements the on-disk module/import cache
//: parsed-document caching for resolved import
// specifiers, persisted to a modernc.org/sqlite database (the usual
// directory-create-then-open-then-migrate shape) and invalidated when a
// locally-resolved module file changes on disk via fsnotify.
package modcache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"github.com/mlld-lang/mlld-sub002/internal/mlerr"
	"github.com/mlld-lang/mlld-sub002/internal/obslog"
)

// Cache is a persisted specifier -> serialized-document cache with
// filesystem invalidation for locally-resolved specifiers.
type Cache struct {
	db      *sql.DB
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	watched map[string]string // absolute local path -> specifier
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Open creates (if absent) and opens the module cache database at path,
// creating its parent directory as needed.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, mlerr.Wrap(mlerr.FileError, err, "creating module cache directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, mlerr.Wrap(mlerr.FileError, err, "opening module cache at %s", path)
	}
	c := &Cache{db: db, watched: map[string]string{}}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		db.Close()
		return nil, mlerr.Wrap(mlerr.FileError, err, "creating module cache watcher")
	}
	c.watcher = watcher
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.watchLoop()
	return c, nil
}

func (c *Cache) migrate() error {
	_, err := c.db.Exec(`
CREATE TABLE IF NOT EXISTS modules (
	specifier TEXT PRIMARY KEY,
	document BLOB NOT NULL,
	local_path TEXT,
	cached_at INTEGER NOT NULL
)`)
	if err != nil {
		return mlerr.Wrap(mlerr.FileError, err, "migrating module cache schema")
	}
	return nil
}

// Get returns the cached serialized document for specifier, or ok=false
// on a cache miss.
func (c *Cache) Get(ctx context.Context, specifier string) (doc []byte, ok bool, err error) {
	row := c.db.QueryRowContext(ctx, `SELECT document FROM modules WHERE specifier = ?`, specifier)
	if scanErr := row.Scan(&doc); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, mlerr.Wrap(mlerr.FileError, scanErr, "reading module cache for %q", specifier)
	}
	return doc, true, nil
}

// Put stores a serialized document under specifier. When localPath is
// non-empty (the specifier resolved to a real file on disk), the cache
// watches that path and evicts the entry automatically on a write/remove
// event.
func (c *Cache) Put(ctx context.Context, specifier string, doc []byte, localPath string) error {
	_, err := c.db.ExecContext(ctx, `
INSERT INTO modules (specifier, document, local_path, cached_at) VALUES (?, ?, ?, ?)
ON CONFLICT(specifier) DO UPDATE SET document = excluded.document, local_path = excluded.local_path, cached_at = excluded.cached_at`,
		specifier, doc, localPath, time.Now().UnixMilli())
	if err != nil {
		return mlerr.Wrap(mlerr.FileError, err, "writing module cache entry for %q", specifier)
	}
	if localPath != "" {
		c.watchLocal(localPath, specifier)
	}
	return nil
}

// Invalidate removes specifier's cache entry.
func (c *Cache) Invalidate(ctx context.Context, specifier string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM modules WHERE specifier = ?`, specifier)
	if err != nil {
		return mlerr.Wrap(mlerr.FileError, err, "invalidating module cache entry for %q", specifier)
	}
	return nil
}

func (c *Cache) watchLocal(path, specifier string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	if _, already := c.watched[abs]; !already {
		if err := c.watcher.Add(abs); err == nil {
			c.watched[abs] = specifier
		}
	}
	c.mu.Unlock()
}

// watchLoop evicts cache entries whose backing file was modified or
// removed.
func (c *Cache) watchLoop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.mu.RLock()
			specifier, known := c.watched[event.Name]
			c.mu.RUnlock()
			if !known {
				continue
			}
			if _, err := c.db.Exec(`DELETE FROM modules WHERE specifier = ?`, specifier); err != nil {
				obslog.Get().Warnf("modcache: invalidation of %q failed: %v", specifier, err)
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and closes the database.
func (c *Cache) Close() error {
	close(c.stopCh)
	<-c.doneCh
	c.watcher.Close()
	return c.db.Close()
}
