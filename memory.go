// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"context"
	"slices"
	"sync"

	"github.com/petar/GoLLRB/llrb"
)

// MemoryStorage is a Storage keeping all stores in process memory.
type MemoryStorage struct {
	stores map[string]*memoryStore
	closed bool
	mu     sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*memoryStore)}
}

// Open implements Storage.
func (s *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	st, ok := s.stores[name]
	if !ok {
		st = &memoryStore{name: name, tree: llrb.New()}
		s.stores[name] = st
	}
	return st, nil
}

// Has implements Storage.
func (s *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	_, ok := s.stores[name]
	return ok, nil
}

// Delete implements Storage.
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	st, ok := s.stores[name]
	if !ok {
		return false, nil
	}
	delete(s.stores, name)
	st.mu.Lock()
	st.tree = llrb.New()
	st.mu.Unlock()
	return true, nil
}

// Names implements Storage.
func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Close implements Storage. The stores are dropped.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stores = nil
	return nil
}

// memoryStore is a Store with entries kept in an LLRB tree ordered by key.
type memoryStore struct {
	name string
	tree *llrb.LLRB
	mu   sync.RWMutex
}

// memoryItem is an entry in the LLRB tree of a memoryStore.
type memoryItem struct {
	key  string
	resp *Response
}

// Less compares the keys of the two items.
func (i *memoryItem) Less(xif llrb.Item) bool {
	x := xif.(*memoryItem) //nolint:forcetypeassert
	return i.key < x.key
}

func (m *memoryStore) Name() string { return m.name }

func (m *memoryStore) Match(_ context.Context, key string) (*Response, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item := m.tree.Get(&memoryItem{key: key})
	if item == nil {
		return nil, false, nil
	}
	return item.(*memoryItem).resp, true, nil //nolint:forcetypeassert
}

func (m *memoryStore) PutAll(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.Response == nil {
			return ErrInternal
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.tree.ReplaceOrInsert(&memoryItem{key: e.Key, resp: e.Response})
	}
	return nil
}

func (m *memoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, m.tree.Len())
	m.tree.AscendGreaterOrEqual(&memoryItem{}, func(iif llrb.Item) bool {
		keys = append(keys, iif.(*memoryItem).key) //nolint:forcetypeassert
		return true
	})
	return keys, nil
}
