// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package host

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestAdminHealthz(t *testing.T) {
	f := newFixture(t, 0)
	rec := adminRequest(t, f.server.AdminHandler(nil), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestAdminStatus(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, f.server.Deploy(context.Background(), workerConfig("treinfo-v1")))
	f.get(t, "/")

	rec := adminRequest(t, f.server.AdminHandler(nil), http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var v StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	require.NotNil(t, v.Active)
	assert.Nil(t, v.Waiting)
	assert.Equal(t, "treinfo-v1", v.Active.CacheName)
	assert.Equal(t, "installed", v.Active.State)
	assert.Equal(t, uint64(3), v.Active.Entries)
	assert.Equal(t, uint64(1), v.Active.Hits)
	assert.Equal(t, uint64(1), v.Activations)
}

func TestAdminCaches(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.server.Deploy(ctx, workerConfig("treinfo-v1")))
	require.NoError(t, f.server.Deploy(ctx, workerConfig("treinfo-v2")))
	h := f.server.AdminHandler(nil)

	rec := adminRequest(t, h, http.MethodGet, "/caches")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []CacheView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []CacheView{
		{Name: "treinfo-v1"},
		{Name: "treinfo-v2", Active: true},
	}, list)

	rec = adminRequest(t, h, http.MethodGet, "/caches/treinfo-v1")
	require.Equal(t, http.StatusOK, rec.Code)
	var keys CacheKeysView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keys))
	assert.Equal(t, []string{
		f.origin.srv.URL + "/",
		f.origin.srv.URL + "/static/img/logo.png",
		f.origin.srv.URL + "/static/style.css",
	}, keys.Keys)

	rec = adminRequest(t, h, http.MethodGet, "/caches/treinfo-v0")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = adminRequest(t, h, http.MethodDelete, "/caches/treinfo-v2")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = adminRequest(t, h, http.MethodDelete, "/caches/treinfo-v1")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = adminRequest(t, h, http.MethodDelete, "/caches/treinfo-v1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	names, err := f.storage.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"treinfo-v2"}, names)
}

func TestAdminRetry(t *testing.T) {
	f := newFixture(t, 0)
	rec := adminRequest(t, f.server.AdminHandler(nil), http.MethodPost, "/retry")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminMetrics(t *testing.T) {
	f := newFixture(t, 0)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "offlinecache_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := adminRequest(t, f.server.AdminHandler(reg), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "offlinecache_test_total 1"))

	rec = adminRequest(t, f.server.AdminHandler(nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
