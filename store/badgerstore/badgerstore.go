// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package badgerstore provides an offlinecache.Storage backed by a Badger
// key-value database.
//
// Key layout:
//
//	c\x00<name>                   store marker, value is the creation time
//	e\x00<uvarint len><name><url>  entry, value is the encoded entry record
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// Config represents the parameters to configure Storage creation.
type Config struct {
	// The directory of the database. Ignored if InMemory is true.
	Dir string

	// If true, the database is kept in memory only.
	InMemory bool

	// If not nil, Storage and the database output log messages to this
	// logger.
	Logger *slog.Logger
}

// Storage is an offlinecache.Storage keeping every store in one Badger
// database.
type Storage struct {
	db  *badger.DB
	log *slog.Logger
}

// New opens or creates the database.
func New(conf *Config) (*Storage, error) {
	if conf.Dir == "" && !conf.InMemory {
		return nil, fmt.Errorf("%w: empty Dir", offlinecache.ErrInvalidConfig)
	}
	opts := badger.DefaultOptions(conf.Dir)
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if conf.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: conf.Logger.With("storage", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open: %w", conf.Dir, err)
	}

	return &Storage{db: db, log: conf.Logger}, nil
}

func markerKey(name string) []byte { return []byte("c\x00" + name) }

// entryPrefix length-prefixes the name, so that no store's prefix is a prefix
// of another's.
func entryPrefix(name string) []byte {
	b := binary.AppendUvarint([]byte("e\x00"), uint64(len(name)))
	return append(b, name...)
}

func entryKey(name, url string) []byte { return append(entryPrefix(name), url...) }

// setMarker writes the store marker unless it exists.
func setMarker(txn *badger.Txn, name string) error {
	_, err := txn.Get(markerKey(name))
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err //nolint:wrapcheck
	}
	v := binary.BigEndian.AppendUint64(nil, uint64(time.Now().UnixNano()))
	return txn.Set(markerKey(name), v) //nolint:wrapcheck
}

// Open implements offlinecache.Storage.
func (s *Storage) Open(_ context.Context, name string) (offlinecache.Store, error) {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setMarker(txn, name)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create: %w", name, wrapClosed(err))
	}
	return &store{parent: s, name: name}, nil
}

// Has implements offlinecache.Storage.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(markerKey(name))
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err //nolint:wrapcheck
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, wrapClosed(err))
	}
	return found, nil
}

// Delete implements offlinecache.Storage.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	found, err := s.Has(ctx, name)
	if err != nil || !found {
		return false, err
	}
	// marker first: the store is gone even if removing entries fails
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(markerKey(name))
	})
	if err != nil {
		return false, fmt.Errorf("%s: failed to delete: %w", name, wrapClosed(err))
	}
	keys, err := s.scan(ctx, entryPrefix(name))
	if err != nil {
		return true, fmt.Errorf("%s: failed to remove entries: %w", name, err)
	}
	wb := s.db.NewWriteBatch()
	for _, k := range keys {
		if err := wb.Delete(entryKey(name, k)); err != nil {
			wb.Cancel()
			return true, fmt.Errorf("%s: failed to remove entries: %w", name, wrapClosed(err))
		}
	}
	if err := wb.Flush(); err != nil {
		return true, fmt.Errorf("%s: failed to remove entries: %w", name, wrapClosed(err))
	}
	if s.log != nil {
		s.log.Info("Cache store deleted.", "storage", "badger", "cache", name)
	}
	return true, nil
}

// Names implements offlinecache.Storage.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	names, err := s.scan(ctx, []byte("c\x00"))
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	return names, nil
}

// Close implements offlinecache.Storage.
func (s *Storage) Close() error {
	return s.db.Close() //nolint:wrapcheck
}

// scan returns the remainder of every key with the prefix, in key order.
func (s *Storage) scan(ctx context.Context, prefix []byte) ([]string, error) {
	res := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			res = append(res, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, wrapClosed(err)
	}
	return res, nil
}

// wrapClosed maps the badger closed error to ErrStorageClosed.
func wrapClosed(err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
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

func (st *store) Match(_ context.Context, key string) (*offlinecache.Response, bool, error) {
	var b []byte
	err := st.parent.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(st.name, key))
		if err != nil {
			return err //nolint:wrapcheck
		}
		b, err = item.ValueCopy(nil)
		return err //nolint:wrapcheck
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
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

// PutAll writes all entries in one transaction. An asset list too large for
// a single transaction fails with badger.ErrTxnTooBig and stores nothing.
func (st *store) PutAll(_ context.Context, entries []offlinecache.Entry) error {
	records := make([][]byte, len(entries))
	for i, e := range entries {
		b, err := offlinecache.MarshalEntry(e)
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
		records[i] = b
	}

	err := st.parent.db.Update(func(txn *badger.Txn) error {
		if err := setMarker(txn, st.name); err != nil {
			return err
		}
		for i, e := range entries {
			if err := txn.Set(entryKey(st.name, e.Key), records[i]); err != nil {
				return fmt.Errorf("%q: %w", e.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: failed to store: %w", st.name, wrapClosed(err))
	}
	return nil
}

func (st *store) Keys(ctx context.Context) ([]string, error) {
	keys, err := st.parent.scan(ctx, entryPrefix(st.name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", st.name, err)
	}
	return keys, nil
}

// badgerLogger adapts slog to the badger.Logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *badgerLogger) Warningf(format string, v ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *badgerLogger) Infof(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *badgerLogger) Debugf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
