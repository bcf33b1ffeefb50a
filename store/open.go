// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package store selects and opens an offlinecache.Storage backend by name.
package store

import (
	"context"
	"fmt"
	"log/slog"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/store/badgerstore"
	"github.com/tunabay/go-offlinecache/store/diskstore"
	"github.com/tunabay/go-offlinecache/store/sqlitestore"
)

// Backend names accepted by Open.
const (
	Memory = "memory"
	Disk   = "disk"
	SQLite = "sqlite"
	Badger = "badger"
)

// Kinds returns the names of all backends.
func Kinds() []string { return []string{Memory, Disk, SQLite, Badger} }

// Open opens the storage backend named kind. The path is the directory for the
// disk and badger backends and the database file for the sqlite backend. It is
// ignored for the memory backend.
func Open(ctx context.Context, kind, path string, logger *slog.Logger) (offlinecache.Storage, error) {
	if kind != Memory && path == "" {
		return nil, fmt.Errorf("%w: %s storage requires a path", offlinecache.ErrInvalidConfig, kind)
	}

	var (
		s   offlinecache.Storage
		err error
	)
	switch kind {
	case Memory:
		return offlinecache.NewMemoryStorage(), nil

	case Disk:
		s, err = diskstore.NewWithConfig(&diskstore.Config{Dir: path, Logger: logger})

	case SQLite:
		s, err = sqlitestore.New(ctx, path, logger)

	case Badger:
		s, err = badgerstore.New(&badgerstore.Config{Dir: path, Logger: logger})

	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", offlinecache.ErrInvalidConfig, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s storage: %w", kind, err)
	}

	return s, nil
}
