// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/store/storetest"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) offlinecache.Storage {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestStoragePersists(t *testing.T) {
	dir, ctx := t.TempDir(), context.Background()
	key := "https://example.com/static/style.css"

	s, err := New(dir)
	require.NoError(t, err)
	st, err := s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	require.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: storetest.Response(key, "body{}")}}))
	require.NoError(t, s.Close())

	s, err = New(dir)
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
	assert.Equal(t, "body{}", string(resp.Body))
}

func TestStorageRemovesLeftovers(t *testing.T) {
	dir, ctx := t.TempDir(), context.Background()
	s, err := New(dir)
	require.NoError(t, err)
	st, err := s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	hash := offlinecache.HashOf("https://example.com/")
	_, path := st.(*store).filePath(hash)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o0700))
	require.NoError(t, os.WriteFile(path+tmpSuffix, []byte("partial"), 0o0600))
	trash := filepath.Join(dir, offlinecache.HashOf("old").String()+".deleted"+tmpSuffix)
	require.NoError(t, os.MkdirAll(trash, 0o0700))

	s, err = New(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path + tmpSuffix)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(trash)
	assert.ErrorIs(t, err, os.ErrNotExist)

	st, err = s.Open(ctx, "treinfo-v1")
	require.NoError(t, err)
	keys, err := st.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := NewWithConfig(&Config{})
	assert.ErrorIs(t, err, offlinecache.ErrInvalidConfig)
}
