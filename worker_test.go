// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// origin is a fake network peer serving fixed bodies and counting requests.
type origin struct {
	srv    *httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	fail   map[string]int
	hits   map[string]int
	delay  time.Duration
}

func newOrigin(t *testing.T, bodies map[string]string) *origin {
	t.Helper()
	o := &origin{
		bodies: bodies,
		fail:   make(map[string]int),
		hits:   make(map[string]int),
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.Method+" "+r.URL.Path]++
	body, ok := o.bodies[r.URL.Path]
	code, failing := o.fail[r.URL.Path]
	delay := o.delay
	o.mu.Unlock()

	if delay != 0 {
		time.Sleep(delay)
	}
	switch {
	case failing:
		http.Error(w, "failing", code)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, body)
	}
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bodies[path] = body
}

func (o *origin) setFail(path string, code int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if code == 0 {
		delete(o.fail, path)
		return
	}
	o.fail[path] = code
}

func (o *origin) count(method, path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[method+" "+path]
}

func (o *origin) url(path string) string { return o.srv.URL + path }

func pageAssets() map[string]string {
	return map[string]string{
		"/":                    "<html>page</html>",
		"/static/style.css":    "body{}",
		"/static/img/logo.png": "PNG",
		"/api/trains":          "[]",
	}
}

func newTestWorker(t *testing.T, o *origin, storage Storage, name string) *Worker {
	t.Helper()
	w, err := New(&Config{
		CacheName: name,
		Assets:    []string{"/", "/static/style.css", "/static/img/logo.png"},
		BaseURL:   o.srv.URL,
		Storage:   storage,
	})
	require.NoError(t, err)
	return w
}

func get(t *testing.T, w *Worker, url string) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := w.Fetch(context.Background(), req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b), nil
}

func TestInstallStoresEveryAsset(t *testing.T) {
	o := newOrigin(t, pageAssets())
	storage := NewMemoryStorage()
	w := newTestWorker(t, o, storage, "treinfo-v1")
	assert.Equal(t, StateParsed, w.State())

	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, StateInstalled, w.State())

	store, err := storage.Open(context.Background(), "treinfo-v1")
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	want := w.Assets()
	slices.Sort(want)
	assert.Equal(t, want, keys)

	for _, loc := range w.Assets() {
		resp, ok, err := store.Match(context.Background(), loc)
		require.NoError(t, err)
		require.True(t, ok, loc)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	st := w.Status()
	assert.EqualValues(t, 3, st.NumEntries)
	assert.EqualValues(t, len("<html>page</html>")+len("body{}")+len("PNG"), st.TotalSize)
	assert.EqualValues(t, 1, st.NumInstalls)
}

func TestFetchMissGoesToNetwork(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w := newTestWorker(t, o, nil, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))

	resp, body, err := get(t, w, o.url("/api/trains"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", body)
	assert.Equal(t, 1, o.count(http.MethodGet, "/api/trains"))

	// network errors and statuses come back unchanged
	resp, _, err = get(t, w, o.url("/missing"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchHitWhileOffline(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w := newTestWorker(t, o, nil, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))
	assetURL := o.url("/static/style.css")
	o.srv.Close()

	resp, body, err := get(t, w, assetURL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", body)
	assert.Equal(t, "6", resp.Header.Get("Content-Length"))

	// uncached requests fail like plain network requests would
	_, _, err = get(t, w, strings.TrimSuffix(assetURL, "/static/style.css")+"/api/trains")
	require.Error(t, err)

	st := w.Status()
	assert.EqualValues(t, 1, st.NumHit)
	assert.EqualValues(t, 1, st.NumMiss)
	assert.EqualValues(t, 1, st.NumFailed)
}

func TestFetchHitIgnoresFreshness(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w := newTestWorker(t, o, nil, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))
	o.set("/static/style.css", "body{color:red}")

	_, body, err := get(t, w, o.url("/static/style.css#top"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", body)
	assert.Equal(t, 1, o.count(http.MethodGet, "/static/style.css"))
}

func TestFetchDoesNotWriteBack(t *testing.T) {
	o := newOrigin(t, pageAssets())
	storage := NewMemoryStorage()
	w := newTestWorker(t, o, storage, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))

	for range 2 {
		_, body, err := get(t, w, o.url("/api/trains"))
		require.NoError(t, err)
		assert.Equal(t, "[]", body)
	}
	assert.Equal(t, 2, o.count(http.MethodGet, "/api/trains"))

	store, err := storage.Open(context.Background(), "treinfo-v1")
	require.NoError(t, err)
	_, ok, err := store.Match(context.Background(), o.url("/api/trains"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchNonGetBypassesCache(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w := newTestWorker(t, o, nil, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))

	req, err := http.NewRequest(http.MethodHead, o.url("/static/style.css"), nil)
	require.NoError(t, err)
	resp, err := w.Fetch(context.Background(), req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, 1, o.count(http.MethodHead, "/static/style.css"))
}

func TestFetchRelativeRequest(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w := newTestWorker(t, o, nil, "treinfo-v1")
	require.NoError(t, w.Install(context.Background()))
	o.srv.Close()

	_, body, err := get(t, w, "/static/img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "PNG", body)
}

func TestInstallFailureStoresNothing(t *testing.T) {
	o := newOrigin(t, pageAssets())
	o.setFail("/static/img/logo.png", http.StatusNotFound)
	storage := NewMemoryStorage()
	w := newTestWorker(t, o, storage, "treinfo-v1")

	err := w.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.ErrorIs(t, err, ErrBadStatus)
	var ie *InstallError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, o.url("/static/img/logo.png"), ie.Locator)
	assert.Equal(t, "treinfo-v1", ie.CacheName)
	assert.Equal(t, StateRedundant, w.State())

	store, err := storage.Open(context.Background(), "treinfo-v1")
	require.NoError(t, err)
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	// a later attempt succeeds once the asset is back
	o.setFail("/static/img/logo.png", 0)
	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, StateInstalled, w.State())
	keys, err = store.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	st := w.Status()
	assert.EqualValues(t, 2, st.NumInstalls)
	assert.EqualValues(t, 1, st.NumInstallFailed)
}

func TestInstallCrossOriginAssets(t *testing.T) {
	page := newOrigin(t, pageAssets())
	cdn := newOrigin(t, map[string]string{
		"/npm/bootstrap@5.3.2/dist/css/bootstrap.min.css": ".btn{}",
		"/leaflet@1.9.4/dist/leaflet.css":                 ".leaflet{}",
	})
	w, err := New(&Config{
		CacheName: "treinfo-v1",
		Assets: []string{
			"/",
			cdn.url("/npm/bootstrap@5.3.2/dist/css/bootstrap.min.css"),
			cdn.url("/leaflet@1.9.4/dist/leaflet.css"),
		},
		BaseURL:            page.srv.URL,
		InstallConcurrency: 1,
	})
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))
	cdn.srv.Close()

	_, body, err := get(t, w, cdn.url("/leaflet@1.9.4/dist/leaflet.css"))
	require.NoError(t, err)
	assert.Equal(t, ".leaflet{}", body)
}

func TestInstallAssetTooLarge(t *testing.T) {
	o := newOrigin(t, pageAssets())
	w, err := New(&Config{
		CacheName:    "treinfo-v1",
		Assets:       []string{"/", "/static/style.css"},
		BaseURL:      o.srv.URL,
		MaxAssetSize: 8,
	})
	require.NoError(t, err)

	err = w.Install(context.Background())
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, StateRedundant, w.State())
}

func TestConcurrentInstallSharesAttempt(t *testing.T) {
	o := newOrigin(t, pageAssets())
	o.delay = 50 * time.Millisecond
	w := newTestWorker(t, o, nil, "treinfo-v1")

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Install(context.Background()); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failed.Load())
	assert.Equal(t, 1, o.count(http.MethodGet, "/static/style.css"))
	assert.EqualValues(t, 1, w.Status().NumInstalls)

	// installing an installed worker does nothing
	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, 1, o.count(http.MethodGet, "/static/style.css"))
}

func TestInstallCanceled(t *testing.T) {
	o := newOrigin(t, pageAssets())
	o.delay = time.Second
	w := newTestWorker(t, o, nil, "treinfo-v1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Install(ctx)
	assert.ErrorIs(t, err, ErrInstallFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRedundant, w.State())
}

func TestInstallWaiterOutlivesCanceledStarter(t *testing.T) {
	o := newOrigin(t, pageAssets())
	o.delay = 200 * time.Millisecond
	w := newTestWorker(t, o, nil, "treinfo-v1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() { first <- w.Install(ctx) }()
	require.Eventually(t, func() bool { return w.State() == StateInstalling }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() { second <- w.Install(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-first, context.Canceled)
	require.NoError(t, <-second)
	assert.Equal(t, StateInstalled, w.State())
	assert.EqualValues(t, 1, w.Status().NumInstalls)
}

func TestCacheNameChangeKeepsOldStore(t *testing.T) {
	o := newOrigin(t, pageAssets())
	storage := NewMemoryStorage()

	v1 := newTestWorker(t, o, storage, "treinfo-v1")
	require.NoError(t, v1.Install(context.Background()))

	o.set("/static/style.css", "body{margin:0}")
	v2 := newTestWorker(t, o, storage, "treinfo-v2")
	require.NoError(t, v2.Install(context.Background()))

	names, err := storage.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"treinfo-v1", "treinfo-v2"}, names)

	_, body, err := get(t, v1, o.url("/static/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", body)
	_, body, err = get(t, v2, o.url("/static/style.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", body)
}

func TestNewInvalidConfig(t *testing.T) {
	tests := map[string]*Config{
		"nil":             nil,
		"empty name":      {Assets: []string{"https://example.com/"}},
		"relative":        {CacheName: "c", Assets: []string{"/style.css"}},
		"bad scheme":      {CacheName: "c", Assets: []string{"ftp://example.com/a"}},
		"duplicate":       {CacheName: "c", Assets: []string{"/", "/#top"}, BaseURL: "http://example.com"},
		"bad base":        {CacheName: "c", BaseURL: "example.com/path"},
		"neg concurrency": {CacheName: "c", InstallConcurrency: -1},
	}
	for name, conf := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(conf)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewCopiesAssets(t *testing.T) {
	assets := []string{"https://example.com/a.css"}
	w, err := New(&Config{CacheName: "c", Assets: assets})
	require.NoError(t, err)
	assets[0] = "https://example.com/b.css"
	assert.Equal(t, []string{"https://example.com/a.css"}, w.Assets())
	assert.Equal(t, "c", w.CacheName())
}
