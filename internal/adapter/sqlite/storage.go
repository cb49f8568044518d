// Package sqlite provides a SQLite-backed offline.CacheStorage.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/cep-locator/internal/offline"
)

//go:embed schema.sql
var schema string

// Storage persists named caches in a SQLite database.
type Storage struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database. A nil clock uses real time.
func Open(path string, clock clockwork.Clock) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases and per-connection pragmas
	// consistent; the cache is not write-heavy.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db, clock: clock}, nil
}

// Close closes the database handle.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if name == "" {
		return nil, errors.New("cache name is required")
	}
	if err := ensureCache(ctx, s.db, name, s.clock.Now()); err != nil {
		return nil, err
	}
	return &cache{db: s.db, name: name, clock: s.clock}, nil
}

func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM caches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_name = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureCache(ctx context.Context, db execer, name string, now time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO caches (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, toMillis(now))
	if err != nil {
		return fmt.Errorf("create cache %s: %w", name, err)
	}
	return nil
}

type cache struct {
	db    *sql.DB
	name  string
	clock clockwork.Clock
}

func (c *cache) Match(ctx context.Context, key string) (offline.Response, bool, error) {
	var (
		status   int
		header   string
		body     []byte
		storedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM cache_entries WHERE cache_name = ? AND request_key = ?`,
		c.name, key,
	).Scan(&status, &header, &body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return offline.Response{}, false, nil
	}
	if err != nil {
		return offline.Response{}, false, fmt.Errorf("match %s: %w", key, err)
	}

	var h http.Header
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		return offline.Response{}, false, fmt.Errorf("decode header: %w", err)
	}
	return offline.Response{
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: fromMillis(storedAt),
	}, true, nil
}

func (c *cache) Put(ctx context.Context, key string, resp offline.Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	now := c.clock.Now()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// The cache may have been deleted by an activation since Open.
	if err := ensureCache(ctx, tx, c.name, now); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, request_key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_name, request_key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at`,
		c.name, key, resp.Status, string(header), body, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
