// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package diskstore provides an offlinecache.Storage keeping cache stores as
// files in a local directory.
//
// Each store is a sub directory named by the hash of the store name, holding
// a NAME file with the store name itself. Each entry is one file named by the
// hash of its key, spread over two levels of fan-out directories. Files are
// written to a temporary name first and renamed into place.
package diskstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tunabay/go-infounit"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// nameFile is the file in each store directory holding the store name.
const nameFile = "NAME"

// tmpSuffix is the suffix of files not yet renamed into place.
const tmpSuffix = ".tmp"

// Config represents the parameters to configure Storage creation.
type Config struct {
	// The path to the directory for cache stores. It should be a
	// dedicated directory used exclusively for this storage. The directory
	// will be automatically created if it does not exist. A relative path
	// is treated as relative from the user-specific cache directory
	// returned by os.UserCacheDir().
	Dir string

	// If not nil, Storage outputs log messages to this logger.
	Logger *slog.Logger
}

// Storage is an offlinecache.Storage backed by a local directory.
type Storage struct {
	dir    string
	stores map[string]*store
	closed bool
	mu     sync.Mutex

	log *slog.Logger
}

// New creates a storage in the directory.
func New(dir string) (*Storage, error) {
	return NewWithConfig(&Config{Dir: dir})
}

// NewWithConfig creates a storage using the given configuration parameters.
// Temporary files left by an interrupted write are removed.
func NewWithConfig(conf *Config) (*Storage, error) {
	if conf.Dir == "" {
		return nil, fmt.Errorf("%w: empty Dir", offlinecache.ErrInvalidConfig)
	}
	s := &Storage{
		dir:    conf.Dir,
		stores: make(map[string]*store),
		log:    conf.Logger,
	}

	if !filepath.IsAbs(s.dir) {
		ucd, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("%s: can not resolve relative cache dir: %w", s.dir, err)
		}
		s.dir = filepath.Join(ucd, s.dir)
	}
	if err := os.MkdirAll(s.dir, 0o0700); err != nil {
		return nil, fmt.Errorf("%s: %w", s.dir, err)
	}
	s.logPrintf("Cache directory.", "dir", s.dir)

	// read dir, count stores, entries and total size.
	var (
		numStores  int
		numEntries int
		totalSize  infounit.ByteCount
	)
	walker := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			s.logPrintf("Skip unreadable file.", "path", path)
			return fs.SkipDir
		case d.IsDir() && strings.HasSuffix(d.Name(), tmpSuffix):
			if err := os.RemoveAll(path); err != nil {
				s.logPrintf("Failed to remove deleted store.", "path", path, "error", err)
			}
			return fs.SkipDir
		case d.IsDir():
			return nil
		}
		fname := d.Name()
		switch {
		case strings.HasSuffix(fname, tmpSuffix):
			if err := os.Remove(path); err != nil {
				s.logPrintf("Failed to remove temporary file.", "path", path, "error", err)
			}
			return nil
		case fname == nameFile:
			numStores++
			return nil
		case !isHashName(fname):
			s.logPrintf("Skip unexpected file in cache dir.", "path", path)
			return nil
		}
		finfo, err := d.Info()
		if err != nil {
			s.logPrintf("Failed to stat.", "path", path, "error", err)
			return nil
		}
		numEntries++
		totalSize += infounit.ByteCount(finfo.Size())
		return nil
	}
	if err := filepath.WalkDir(s.dir, walker); err != nil {
		return nil, fmt.Errorf("%s: failed to read cache dir: %w", s.dir, err)
	}
	if numStores != 0 {
		s.logPrintf(
			"Found cache stores.",
			"stores", numStores,
			"entries", numEntries,
			"total", fmt.Sprintf("%.1S", totalSize),
		)
	}

	return s, nil
}

// Dir returns the absolute path of the storage directory.
func (s *Storage) Dir() string { return s.dir }

// storeDir returns the directory of the store with the name.
func (s *Storage) storeDir(name string) string {
	return filepath.Join(s.dir, offlinecache.HashOf(name).String())
}

// Open implements offlinecache.Storage.
func (s *Storage) Open(_ context.Context, name string) (offlinecache.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, offlinecache.ErrStorageClosed
	}
	if st, ok := s.stores[name]; ok {
		if err := st.ensure(); err != nil {
			return nil, err
		}
		return st, nil
	}

	st := &store{name: name, dir: s.storeDir(name)}
	if err := st.ensure(); err != nil {
		return nil, err
	}
	s.stores[name] = st

	return st, nil
}

// Has implements offlinecache.Storage.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, offlinecache.ErrStorageClosed
	}
	if _, err := os.Stat(filepath.Join(s.storeDir(name), nameFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}

// Delete implements offlinecache.Storage. The store directory is renamed out of
// the way first, so that the store disappears at once even if removing the
// files takes a while.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, offlinecache.ErrStorageClosed
	}

	dir := s.storeDir(name)
	if st, ok := s.stores[name]; ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		delete(s.stores, name)
	}
	trash := dir + ".deleted" + tmpSuffix
	if err := os.Rename(dir, trash); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%s: failed to delete: %w", name, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		return true, fmt.Errorf("%s: failed to remove files: %w", name, err)
	}
	s.logPrintf("Cache store deleted.", "cache", name)

	return true, nil
}

// Names implements offlinecache.Storage.
func (s *Storage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, offlinecache.ErrStorageClosed
	}

	dents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.dir, err)
	}
	names := make([]string, 0, len(dents))
	for _, d := range dents {
		if !d.IsDir() || !isHashName(d.Name()) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, d.Name(), nameFile))
		if err != nil {
			s.logPrintf("Skip store without name.", "dir", d.Name())
			continue
		}
		names = append(names, string(b))
	}
	slices.Sort(names)

	return names, nil
}

// Close implements offlinecache.Storage.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stores = nil
	return nil
}

// logPrintf outputs a log message if a logger is configured.
func (s *Storage) logPrintf(msg string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.Info(msg, append([]any{"storage", "disk"}, args...)...)
}

// isHashName reports whether the file name is a hex encoded hash.
func isHashName(fname string) bool {
	if len(fname) != offlinecache.HashSize*2 {
		return false
	}
	_, err := hex.DecodeString(fname)
	return err == nil
}

// writeFile writes data to path through a temporary file and a rename.
func writeFile(path string, data []byte) error {
	tmpPath := path + tmpSuffix
	if err := os.WriteFile(tmpPath, data, 0o0600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
