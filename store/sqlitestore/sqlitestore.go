// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package sqlitestore provides an offlinecache.Storage backed by a SQLite
// database file.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // database/sql driver "sqlite"

	offlinecache "github.com/tunabay/go-offlinecache"
)

const schema = `
CREATE TABLE IF NOT EXISTS caches (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	cache  TEXT NOT NULL REFERENCES caches(name) ON DELETE CASCADE,
	url    TEXT NOT NULL,
	record BLOB NOT NULL,
	PRIMARY KEY (cache, url)
);
`

// Storage is an offlinecache.Storage keeping every store in one SQLite
// database.
type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens or creates the database at path. Use ":memory:" for a database
// that lives only as long as the Storage.
func New(ctx context.Context, path string, logger *slog.Logger) (*Storage, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	// a single connection serializes writers and keeps ":memory:" databases
	// shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: failed to initialize schema: %w", path, err)
	}
	if logger != nil {
		logger.Info("Cache database opened.", "storage", "sqlite", "path", path)
	}

	return &Storage{db: db, log: logger}, nil
}

// Open implements offlinecache.Storage.
func (s *Storage) Open(ctx context.Context, name string) (offlinecache.Store, error) {
	if err := s.create(ctx, s.db, name); err != nil {
		return nil, err
	}
	return &store{parent: s, name: name}, nil
}

// execer is implemented by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Storage) create(ctx context.Context, ex execer, name string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%s: failed to create: %w", name, wrapClosed(err))
	}
	return nil
}

// Has implements offlinecache.Storage.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM caches WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, wrapClosed(err))
	}
	return n != 0, nil
}

// Delete implements offlinecache.Storage.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM caches WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("%s: failed to delete: %w", name, wrapClosed(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	if n != 0 && s.log != nil {
		s.log.Info("Cache store deleted.", "storage", "sqlite", "cache", name)
	}
	return n != 0, nil
}

// Names implements offlinecache.Storage.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT name FROM caches ORDER BY name`)
}

// Close implements offlinecache.Storage.
func (s *Storage) Close() error {
	return s.db.Close() //nolint:wrapcheck
}

// strings runs a query returning a single text column.
func (s *Storage) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapClosed(err)
	}
	defer rows.Close()

	res := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err //nolint:wrapcheck
		}
		res = append(res, v)
	}
	return res, rows.Err() //nolint:wrapcheck
}

// wrapClosed maps the database/sql closed error to ErrStorageClosed.
func wrapClosed(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %w", offlinecache.ErrStorageClosed, err)
	}
	return err
}

// store is one named cache store in the database.
type store struct {
	parent *Storage
	name   string
}

func (st *store) Name() string { return st.name }

func (st *store) Match(ctx context.Context, key string) (*offlinecache.Response, bool, error) {
	var b []byte
	err := st.parent.db.QueryRowContext(ctx,
		`SELECT record FROM entries WHERE cache = ? AND url = ?`, st.name, key,
	).Scan(&b)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%s: %w", st.name, wrapClosed(err))
	}
	e, err := offlinecache.UnmarshalEntry(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", st.name, err)
	}
	return e.Response, true, nil
}

// PutAll writes all entries in one transaction.
func (st *store) PutAll(ctx context.Context, entries []offlinecache.Entry) error {
	records := make([][]byte, len(entries))
	for i, e := range entries {
		b, err := offlinecache.MarshalEntry(e)
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		records[i] = b
	}

	tx, err := st.parent.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, wrapClosed(err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := st.parent.create(ctx, tx, st.name); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO entries (cache, url, record) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, st.name, e.Key, records[i]); err != nil {
			return fmt.Errorf("%s: failed to store %q: %w", st.name, e.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: failed to commit: %w", st.name, err)
	}

	return nil
}

func (st *store) Keys(ctx context.Context) ([]string, error) {
	keys, err := st.parent.strings(ctx, `SELECT url FROM entries WHERE cache = ? ORDER BY url`, st.name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", st.name, err)
	}
	return keys, nil
}
