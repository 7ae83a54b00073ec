package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists remote snapshots (token catalogues) between runs. Reads go
// straight to sqlite; writes are serialized across processes with a file lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// StaleRetention is how long Open keeps expired snapshots around so a failed
// refresh can still fall back to the last good copy.
const StaleRetention = 7 * 24 * time.Hour

type Result struct {
	Hit      bool
	Value    []byte
	Source   string
	Age      time.Duration
	Stale    bool
	TooStale bool
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	// Every pooled connection waits on a busy database instead of failing.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	store := &Store{db: db, lock: flock.New(lockPath)}
	err = store.withLock(func() error {
		queries := []string{
			"PRAGMA journal_mode=WAL;",
			"CREATE TABLE IF NOT EXISTS snapshots (key TEXT PRIMARY KEY, source TEXT NOT NULL, value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
		}
		for _, query := range queries {
			if _, err := db.Exec(query); err != nil {
				return fmt.Errorf("init cache schema: %w", err)
			}
		}
		_ = store.prune(StaleRetention)
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes snapshots that expired more than retention ago.
func (s *Store) Prune(retention time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withLock(func() error { return s.prune(retention) })
}

func (s *Store) prune(retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention).Unix()
	if _, err := s.db.Exec("DELETE FROM snapshots WHERE created_at + ttl_seconds < ?", cutoff); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(key string, maxStale time.Duration) (Result, error) {
	var value []byte
	var source string
	var createdUnix int64
	var ttlSeconds int64
	err := s.db.QueryRow("SELECT value, source, created_at, ttl_seconds FROM snapshots WHERE key = ?", key).Scan(&value, &source, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{Hit: false}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}

	created := time.Unix(createdUnix, 0).UTC()
	age := time.Since(created)
	if age < 0 {
		age = 0
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	stale := age > ttl
	tooStale := stale && maxStale >= 0 && age > ttl+maxStale

	return Result{
		Hit:      true,
		Value:    value,
		Source:   source,
		Age:      age,
		Stale:    stale,
		TooStale: tooStale,
	}, nil
}

// Key derives a stable snapshot key from its parts.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Set stores value under key. source is the origin URL.
func (s *Store) Set(key, source string, value []byte, ttl time.Duration) error {
	return s.withLock(func() error {
		createdUnix := time.Now().UTC().Unix()
		ttlSeconds := int64(ttl.Seconds())
		if ttlSeconds <= 0 {
			ttlSeconds = 1
		}
		_, err := s.db.Exec(`
		INSERT INTO snapshots (key, source, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			source=excluded.source,
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, source, value, createdUnix, ttlSeconds)
		if err != nil {
			return fmt.Errorf("cache write: %w", err)
		}
		return nil
	})
}

// Delete drops key, used when a cached snapshot no longer parses.
func (s *Store) Delete(key string) error {
	return s.withLock(func() error {
		if _, err := s.db.Exec("DELETE FROM snapshots WHERE key = ?", key); err != nil {
			return fmt.Errorf("cache delete: %w", err)
		}
		return nil
	})
}

func (s *Store) withLock(fn func() error) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}
