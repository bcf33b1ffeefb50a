// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunabay/go-infounit"
	"golang.org/x/sync/errgroup"
)

// State represents the lifecycle state of a Worker.
type State uint8

const (
	StateParsed     State = iota // created, never installed.
	StateInstalling              // install in progress.
	StateInstalled               // all assets stored, ready to take control.
	StateRedundant               // the last install attempt failed.
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Worker represents one version of the offline cache worker: a cache name, an
// asset list, and the two lifecycle operations Install and Fetch.
type Worker struct {
	name        string
	assets      []string // resolved locators, in configured order
	base        *url.URL
	storage     Storage
	transport   http.RoundTripper
	client      *http.Client
	maxSize     infounit.ByteCount
	concurrency int

	store Store
	state State
	op    *opEntry

	numRequested     uint64
	numHit           uint64
	numMiss          uint64
	numFailed        uint64
	numInstalls      uint64
	numInstallFailed uint64
	numEntries       uint64
	totalSize        infounit.ByteCount
	installedAt      time.Time

	mu sync.Mutex

	log      *slog.Logger
	debugLog bool
}

// opEntry represents the install attempt currently running. Concurrent
// callers of Install wait for the done channel and share its result.
type opEntry struct {
	done    chan struct{} // closed when the attempt finished
	err     error
	cancel  context.CancelFunc
	waiters int   // callers still waiting, guarded by Worker.mu
	gaveUp  error // context error of the last waiter to leave
}

// New creates a worker using the given configuration parameters. Asset
// locators are resolved and validated here, so that a worker with a bad asset
// list is never created.
func New(conf *Config) (*Worker, error) {
	switch {
	case conf == nil:
		return nil, fmt.Errorf("%w: nil Config", ErrInvalidConfig)
	case conf.CacheName == "":
		return nil, fmt.Errorf("%w: empty CacheName", ErrInvalidConfig)
	case conf.InstallConcurrency < 0:
		return nil, fmt.Errorf("%w: negative InstallConcurrency", ErrInvalidConfig)
	}
	conf = conf.clone()

	w := &Worker{
		name:        conf.CacheName,
		storage:     conf.Storage,
		transport:   conf.Transport,
		maxSize:     conf.MaxAssetSize,
		concurrency: conf.InstallConcurrency,

		log:      conf.Logger,
		debugLog: conf.DebugLog,
	}
	if w.storage == nil {
		w.storage = NewMemoryStorage()
	}
	if w.transport == nil {
		w.transport = http.DefaultTransport
	}
	w.client = &http.Client{Transport: w.transport}

	if conf.BaseURL != "" {
		base, err := url.Parse(conf.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("%w: BaseURL: %w", ErrInvalidConfig, err)
		}
		if _, err := normalizeURL(base); err != nil {
			return nil, fmt.Errorf("%w: BaseURL: %w", ErrInvalidConfig, err)
		}
		w.base = base
	}

	seen := make(map[string]struct{}, len(conf.Assets))
	w.assets = make([]string, 0, len(conf.Assets))
	for _, a := range conf.Assets {
		loc, err := ResolveLocator(w.base, a)
		if err != nil {
			return nil, fmt.Errorf("%w: asset: %w", ErrInvalidConfig, err)
		}
		if _, dup := seen[loc]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %q", ErrInvalidConfig, loc)
		}
		seen[loc] = struct{}{}
		w.assets = append(w.assets, loc)
	}

	w.logDebugf("Worker created.", "cache", w.name, "assets", len(w.assets))

	return w, nil
}

// CacheName returns the name of the cache store used by the worker.
func (w *Worker) CacheName() string { return w.name }

// Assets returns the resolved asset locators in configured order.
func (w *Worker) Assets() []string { return append([]string(nil), w.assets...) }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// openStore opens the named store once and keeps the handle.
func (w *Worker) openStore(ctx context.Context) (Store, error) {
	w.mu.Lock()
	st := w.store
	w.mu.Unlock()
	if st != nil {
		return st, nil
	}

	st, err := w.storage.Open(ctx, w.name)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open cache: %w", w.name, err)
	}
	w.mu.Lock()
	if w.store == nil {
		w.store = st
	}
	st = w.store
	w.mu.Unlock()

	return st, nil
}

// Install performs the install-time prefetch. It opens the named store,
// fetches every asset from the network and stores all of them at once. If any
// single asset can not be fetched, nothing is stored, the worker becomes
// StateRedundant and an *InstallError is returned. A redundant worker can be
// installed again.
//
// Installing an installed worker does nothing. Concurrent callers share one
// attempt, which is not bound to the context of any single caller: a caller
// whose ctx is done returns ctx.Err() while the others keep waiting. The
// attempt is canceled only when every caller has given up, and the last one
// to leave gets the failed attempt's *InstallError.
func (w *Worker) Install(ctx context.Context) error {
	w.mu.Lock()
	for {
		if w.state == StateInstalled {
			w.mu.Unlock()
			return nil
		}
		op := w.op
		if op == nil {
			break
		}
		if op.waiters != 0 {
			// concurrently being installed
			op.waiters++
			w.mu.Unlock()
			w.logDebugf("Install: Already installing, waiting for completion...", "cache", w.name)
			return w.waitInstall(ctx, op)
		}
		// abandoned attempt still winding down
		w.mu.Unlock()
		select {
		case <-op.done:
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck
		}
		w.mu.Lock()
	}

	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	op := &opEntry{done: make(chan struct{}), cancel: cancel, waiters: 1}
	w.op = op
	w.state = StateInstalling
	w.numInstalls++
	w.mu.Unlock()

	go w.runInstall(actx, op)

	return w.waitInstall(ctx, op)
}

// runInstall runs the attempt of op and publishes its result.
func (w *Worker) runInstall(ctx context.Context, op *opEntry) {
	entries, size, err := w.install(ctx)

	w.mu.Lock()
	if err != nil && op.gaveUp != nil {
		err = &InstallError{CacheName: w.name, Err: op.gaveUp}
	}
	w.op = nil
	if err != nil {
		w.state = StateRedundant
		w.numInstallFailed++
	} else {
		w.state = StateInstalled
		w.numEntries = uint64(entries)
		w.totalSize = size
		w.installedAt = time.Now()
	}
	op.err = err
	w.mu.Unlock()
	op.cancel()
	close(op.done)
}

// waitInstall waits for op on behalf of one caller.
func (w *Worker) waitInstall(ctx context.Context, op *opEntry) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
	}

	w.mu.Lock()
	op.waiters--
	last := op.waiters == 0
	if last {
		op.gaveUp = ctx.Err()
	}
	w.mu.Unlock()
	if !last {
		return ctx.Err() //nolint:wrapcheck
	}
	op.cancel()
	<-op.done

	return op.err
}

// install runs one install attempt and returns the number and total size of
// the stored entries.
func (w *Worker) install(ctx context.Context) (int, infounit.ByteCount, error) {
	attempt := uuid.NewString()
	startedAt := time.Now()
	w.logPrintf("Install: Started.", "cache", w.name, "attempt", attempt, "assets", len(w.assets))

	store, err := w.openStore(ctx)
	if err != nil {
		w.logWarnf("Install: Failed.", "cache", w.name, "attempt", attempt, "error", err)
		return 0, 0, &InstallError{CacheName: w.name, Err: err}
	}

	entries := make([]Entry, len(w.assets))
	g, gctx := errgroup.WithContext(ctx)
	if w.concurrency != 0 {
		g.SetLimit(w.concurrency)
	}
	for i, loc := range w.assets {
		g.Go(func() error {
			resp, err := w.fetchAsset(gctx, loc)
			if err != nil {
				return &InstallError{CacheName: w.name, Locator: loc, Err: err}
			}
			entries[i] = Entry{Key: loc, Response: resp}
			w.logDebugf("Install: Fetched.", "url", loc, "size", fmt.Sprintf("%.1S", resp.Size()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.logWarnf("Install: Failed.", "cache", w.name, "attempt", attempt, "error", err)
		return 0, 0, err //nolint:wrapcheck
	}

	if err := store.PutAll(ctx, entries); err != nil {
		w.logWarnf("Install: Failed to store.", "cache", w.name, "attempt", attempt, "error", err)
		return 0, 0, &InstallError{CacheName: w.name, Err: fmt.Errorf("failed to store: %w", err)}
	}

	var size infounit.ByteCount
	for _, e := range entries {
		size += e.Response.Size()
	}
	w.logPrintf(
		"Install: Assets successfully cached.",
		"cache", w.name,
		"attempt", attempt,
		"entries", len(entries),
		"size", fmt.Sprintf("%.1S", size),
		"elapsed", time.Since(startedAt),
	)

	return len(entries), size, nil
}

// fetchAsset fetches one asset for install. Only 2xx responses are accepted.
// Redirects are followed.
func (w *Worker) fetchAsset(ctx context.Context, loc string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if resp.StatusCode < 200 || 299 < resp.StatusCode {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	return NewResponse(loc, resp, w.maxSize)
}

// Fetch answers an intercepted request. A GET request whose locator is stored
// in the named store is answered with the stored response, without any
// freshness check. Every other request is forwarded to the network and the
// network's response or error is returned unchanged. Network responses are
// never written to the store.
//
// A relative request URL is resolved against the configured BaseURL. The
// caller must close the body of the returned response.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	w.mu.Lock()
	w.numRequested++
	w.mu.Unlock()

	if !req.URL.IsAbs() && w.base != nil {
		req = req.Clone(ctx)
		req.URL = w.base.ResolveReference(req.URL)
	}

	if req.Method == "" || req.Method == http.MethodGet {
		resp, ok, err := w.match(ctx, req)
		switch {
		case err != nil:
			w.mu.Lock()
			w.numFailed++
			w.mu.Unlock()
			return nil, err

		case ok:
			w.mu.Lock()
			w.numHit++
			w.mu.Unlock()
			w.logDebugf("Fetch: Served from cache.", "url", resp.URL)
			return resp.HTTPResponse(req), nil
		}
	}

	w.mu.Lock()
	w.numMiss++
	w.mu.Unlock()
	w.logDebugf("Fetch: Forwarding to network.", "method", req.Method, "url", req.URL.String())

	resp, err := w.transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		w.mu.Lock()
		w.numFailed++
		w.mu.Unlock()
		return nil, err //nolint:wrapcheck
	}

	return resp, nil
}

// match looks up the request in the named store.
func (w *Worker) match(ctx context.Context, req *http.Request) (*Response, bool, error) {
	loc, err := RequestLocator(req.URL)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", w.name, err)
	}
	store, err := w.openStore(ctx)
	if err != nil {
		return nil, false, err
	}
	resp, ok, err := store.Match(ctx, loc)
	if err != nil {
		return nil, false, fmt.Errorf("%s: cache match failed: %w", w.name, err)
	}
	return resp, ok, nil
}
