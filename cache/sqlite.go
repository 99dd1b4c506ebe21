package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage keeps all caches in one sqlite database.
// Cache names live in the `caches` table; its autoincrement id gives the creation order.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (or creates) the storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (cache, key)
		)`,
		"CREATE INDEX IF NOT EXISTS entries_key_idx ON entries (key)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare sqlite schema: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Open(ctx context.Context, name string) (Cache, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &sqliteCache{s: s, name: name}, nil
}

func (s *SQLiteStorage) Lookup(ctx context.Context, name string) (Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &sqliteCache{s: s, name: name}, true, nil
}

func (s *SQLiteStorage) Has(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, fmt.Errorf("delete entries of %s: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM caches ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Match(ctx context.Context, key string) ([]byte, error) {
	var bytes []byte
	err := s.db.QueryRowContext(ctx, `SELECT e.bytes
		FROM entries e JOIN caches c ON c.name = e.cache
		WHERE e.key = ? ORDER BY c.id ASC LIMIT 1`, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return bytes, err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	s    *SQLiteStorage
	name string
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Match(ctx context.Context, key string) ([]byte, error) {
	var bytes []byte
	err := c.s.db.QueryRowContext(ctx,
		"SELECT bytes FROM entries WHERE cache = ? AND key = ?", c.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return bytes, err
}

func (c *sqliteCache) Put(ctx context.Context, entry Entry) error {
	return c.PutAll(ctx, []Entry{entry})
}

func (c *sqliteCache) PutAll(ctx context.Context, entries []Entry) error {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO caches (name) VALUES (?)", c.name); err != nil {
		return fmt.Errorf("recreate cache %s: %w", c.name, err)
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO entries (cache, key, bytes) VALUES (?, ?, ?)",
			c.name, e.Key, e.Bytes); err != nil {
			return fmt.Errorf("write %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

func (c *sqliteCache) Delete(ctx context.Context, key string) (bool, error) {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	result, err := c.s.db.ExecContext(ctx, "DELETE FROM entries WHERE cache = ? AND key = ?", c.name, key)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.s.db.QueryContext(ctx, "SELECT key FROM entries WHERE cache = ? ORDER BY key", c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
