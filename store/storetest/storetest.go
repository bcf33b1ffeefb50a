// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package storetest provides a conformance test suite for
// offlinecache.Storage implementations.
package storetest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// Factory returns a new, empty storage. The suite closes it.
type Factory func(t *testing.T) offlinecache.Storage

// Response returns a stored response with the given body, for use in tests.
func Response(url, body string) *offlinecache.Response {
	return &offlinecache.Response{
		URL:        url,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
		StoredAt:   time.Now(),
	}
}

// Run runs the conformance suite against storages created by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	open := func(t *testing.T) offlinecache.Storage {
		t.Helper()
		s := newStorage(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("OpenCreates", func(t *testing.T) {
		s, ctx := open(t), context.Background()

		ok, err := s.Has(ctx, "treinfo-v1")
		require.NoError(t, err)
		assert.False(t, ok)

		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)
		assert.Equal(t, "treinfo-v1", st.Name())

		ok, err = s.Has(ctx, "treinfo-v1")
		require.NoError(t, err)
		assert.True(t, ok)

		keys, err := st.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("PutAllMatch", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)

		entries := []offlinecache.Entry{
			{Key: "https://example.com/static/style.css", Response: Response("https://example.com/static/style.css", "body{}")},
			{Key: "https://example.com/", Response: Response("https://example.com/", "<html></html>")},
			{Key: "https://cdn.example.net/a.css", Response: Response("https://cdn.example.net/a.css", "")},
		}
		require.NoError(t, st.PutAll(ctx, entries))

		for _, e := range entries {
			resp, ok, err := st.Match(ctx, e.Key)
			require.NoError(t, err)
			require.True(t, ok, e.Key)
			assert.Equal(t, e.Response.Body, resp.Body)
			assert.Equal(t, e.Response.URL, resp.URL)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		}

		_, ok, err := st.Match(ctx, "https://example.com/missing")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := st.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://cdn.example.net/a.css",
			"https://example.com/",
			"https://example.com/static/style.css",
		}, keys)
	})

	t.Run("PutAllReplaces", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)

		key := "https://example.com/static/style.css"
		require.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "v1")}}))
		require.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "v2")}}))

		resp, ok, err := st.Match(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v2", string(resp.Body))

		keys, err := st.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		require.NoError(t, st.PutAll(ctx, nil))
	})

	t.Run("PutAllRejectsNilResponse", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)

		err = st.PutAll(ctx, []offlinecache.Entry{
			{Key: "https://example.com/a", Response: Response("https://example.com/a", "a")},
			{Key: "https://example.com/b"},
		})
		require.Error(t, err)

		keys, err := st.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("NamesAreIsolated", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		v1, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)
		v2, err := s.Open(ctx, "treinfo-v2")
		require.NoError(t, err)

		key := "https://example.com/"
		require.NoError(t, v1.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "old")}}))
		require.NoError(t, v2.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "new")}}))

		resp, ok, err := v1.Match(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "old", string(resp.Body))

		names, err := s.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"treinfo-v1", "treinfo-v2"}, names)
	})

	t.Run("NamesSharingBytesAreIsolated", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		v1, err := s.Open(ctx, "v1")
		require.NoError(t, err)
		old, err := s.Open(ctx, "v1\x00old")
		require.NoError(t, err)

		key := "https://example.com/"
		require.NoError(t, old.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "old")}}))

		keys, err := v1.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
		_, ok, err := v1.Match(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Delete(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, ok)

		names, err := s.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"v1\x00old"}, names)
		resp, ok, err := old.Match(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "old", string(resp.Body))
	})

	t.Run("Delete", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)
		key := "https://example.com/"
		require.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, "x")}}))
		_, err = s.Open(ctx, "treinfo-v2")
		require.NoError(t, err)

		ok, err := s.Delete(ctx, "treinfo-v1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.Delete(ctx, "treinfo-v1")
		require.NoError(t, err)
		assert.False(t, ok)

		names, err := s.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"treinfo-v2"}, names)

		// a reopened store starts empty
		st, err = s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)
		_, ok, err = st.Match(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Concurrent", func(t *testing.T) {
		s, ctx := open(t), context.Background()
		st, err := s.Open(ctx, "treinfo-v1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := fmt.Sprintf("https://example.com/asset/%d", i)
				assert.NoError(t, st.PutAll(ctx, []offlinecache.Entry{{Key: key, Response: Response(key, key)}}))
				resp, ok, err := st.Match(ctx, key)
				assert.NoError(t, err)
				if assert.True(t, ok) {
					assert.Equal(t, key, string(resp.Body))
				}
			}()
		}
		wg.Wait()

		keys, err := st.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 8)
	})
}
