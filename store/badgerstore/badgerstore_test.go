// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/store/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) offlinecache.Storage {
		s, err := New(&Config{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestStoragePersists(t *testing.T) {
	dir, ctx := t.TempDir(), context.Background()
	key := "https://cdn.jsdelivr.net/npm/bootstrap@5.3.2/dist/css/bootstrap.min.css"

	s, err := New(&Config{Dir: dir})
	require.NoError(t, err)
	st, err := s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	require.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: storetest.Response(key, ".btn{}")}}))
	require.NoError(t, s.Close())

	s, err = New(&Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"treinfo-v1"}, names)

	st, err = s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	resp, ok, err := st.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ".btn{}", string(resp.Body))
}

func TestStorageSharedPrefixNames(t *testing.T) {
	s, err := New(&Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	a, err := s.Open(ctx, "treinfo")
	require.NoError(t, err)
	_, err = s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	key := "https://example.com/"
	require.NoError(t, a.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: storetest.Response(key, "x")}}))

	ok, err := s.Delete(ctx, "treinfo-v1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = a.Match(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	ok, err = s.Delete(ctx, "treinfo")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"treinfo-v1"}, names)
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(&Config{})
	assert.ErrorIs(t, err, offlinecache.ErrInvalidConfig)
}
