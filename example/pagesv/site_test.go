// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	offlinecache "github.com/tunabay/go-offlinecache"
)

func TestSite(t *testing.T) {
	st := &site{}
	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		st.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/static/style.css"`)

	rec = get("/static/style.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = get("/static/img/logo.png")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, int(defaultLogo.size), img.Bounds().Dx())
	assert.Equal(t, defaultLogo.etag(), rec.Header().Get("ETag"))

	rec = get("/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	st.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeTrains(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, serveTrains(rec, time.Date(2024, 5, 1, 8, 7, 0, 0, time.UTC)))

	var res []departure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res, 4)
	assert.Equal(t, "08:15", res[0].Departs)
	assert.Equal(t, "08:30", res[1].Departs)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestProxyRemovesHopHeaders(t *testing.T) {
	network := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header: http.Header{
				"Connection":   {"X-Trace"},
				"Keep-Alive":   {"timeout=5"},
				"X-Trace":      {"1"},
				"Content-Type": {"application/json"},
			},
			Body:    io.NopCloser(strings.NewReader(`{"trains":[]}`)),
			Request: r,
		}, nil
	})
	worker, err := offlinecache.New(&offlinecache.Config{
		CacheName: "treinfo-v1",
		BaseURL:   "http://origin.test",
		Transport: network,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	proxy(worker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/trains", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"trains":[]}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Empty(t, rec.Header().Get("Keep-Alive"))
	assert.Empty(t, rec.Header().Get("X-Trace"))
}
