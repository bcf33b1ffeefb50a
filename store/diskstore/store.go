// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package diskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// store represents one cache store directory.
type store struct {
	name string
	dir  string
	mu   sync.RWMutex
}

// ensure creates the store directory and its NAME file if they do not exist.
func (st *store) ensure() error {
	namePath := filepath.Join(st.dir, nameFile)
	if _, err := os.Stat(namePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(st.dir, 0o0700); err != nil {
		return fmt.Errorf("%s: failed to create: %w", st.dir, err)
	}
	if err := writeFile(namePath, []byte(st.name)); err != nil {
		return fmt.Errorf("%s: %w", st.name, err)
	}
	return nil
}

// filePath returns the full path of the entry file corresponding to the given
// hash value.
func (st *store) filePath(hash offlinecache.Hash) (dir, path string) {
	d1, d2 := hash.FanOut()
	dir = filepath.Join(st.dir, d1, d2)
	path = filepath.Join(dir, hash.String())
	return
}

func (st *store) Name() string { return st.name }

func (st *store) Match(ctx context.Context, key string) (*offlinecache.Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err //nolint:wrapcheck
	}
	_, path := st.filePath(offlinecache.HashOf(key))

	st.mu.RLock()
	b, err := os.ReadFile(path)
	st.mu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: failed to read: %w", st.name, err)
	}
	e, err := offlinecache.UnmarshalEntry(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", st.name, err)
	}
	if e.Key != key {
		return nil, false, nil // hash collision
	}
	return e.Response, true, nil
}

// PutAll writes every entry to a temporary file first. Only when all of them
// are written, they are renamed into place.
func (st *store) PutAll(ctx context.Context, entries []offlinecache.Entry) error {
	type staged struct{ tmpPath, path string }

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.ensure(); err != nil {
		return err
	}

	stagedFiles := make([]staged, 0, len(entries))
	cleanup := func() {
		for _, sf := range stagedFiles {
			_ = os.Remove(sf.tmpPath)
		}
	}
	index := make(map[string]int, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err //nolint:wrapcheck
		}
		data, err := offlinecache.MarshalEntry(e)
		if err != nil {
			cleanup()
			return fmt.Errorf("%s: %w", st.name, err)
		}
		dir, path := st.filePath(offlinecache.HashOf(e.Key))
		if err := os.MkdirAll(dir, 0o0700); err != nil {
			cleanup()
			return fmt.Errorf("%s: failed to create: %w", dir, err)
		}
		tmpPath := path + tmpSuffix
		if err := os.WriteFile(tmpPath, data, 0o0600); err != nil {
			_ = os.Remove(tmpPath)
			cleanup()
			return fmt.Errorf("%s: failed to write: %w", st.name, err)
		}
		if i, dup := index[e.Key]; dup {
			stagedFiles[i] = staged{tmpPath, path}
			continue
		}
		index[e.Key] = len(stagedFiles)
		stagedFiles = append(stagedFiles, staged{tmpPath, path})
	}

	for i, sf := range stagedFiles {
		if err := os.Rename(sf.tmpPath, sf.path); err != nil {
			for _, rest := range stagedFiles[i:] {
				_ = os.Remove(rest.tmpPath)
			}
			return fmt.Errorf("%s: failed to write: %w", st.name, err)
		}
	}

	return nil
}

func (st *store) Keys(ctx context.Context) ([]string, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var keys []string
	walker := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		case d.IsDir():
			return ctx.Err()
		case !isHashName(d.Name()):
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
		e, err := offlinecache.UnmarshalEntry(b)
		if err != nil {
			return err //nolint:wrapcheck
		}
		keys = append(keys, e.Key)
		return nil
	}
	if err := filepath.WalkDir(st.dir, walker); err != nil {
		return nil, fmt.Errorf("%s: %w", st.name, err)
	}
	slices.Sort(keys)
	if keys == nil {
		keys = []string{}
	}

	return keys, nil
}
