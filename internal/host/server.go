// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package host runs offline cache workers behind an HTTP proxy. Every request
// the proxy receives is delivered to the active worker as a fetch event.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/logger"
)

// retryTimeout bounds one background install retry.
const retryTimeout = time.Minute * 10

// Config represents the parameters to configure Server creation.
type Config struct {
	// The base URL of the controlled site. Requests in origin form
	// ("GET /static/style.css") are resolved against it, and it is the
	// default BaseURL of deployed workers. If empty, only requests in
	// absolute form (forward proxy) are accepted.
	Origin string

	// The storage shared by every worker version. Required.
	Storage offlinecache.Storage

	// The network layer. If nil, http.DefaultTransport is used.
	Transport http.RoundTripper

	// Delay before the first install retry and the cap of the delay.
	// Default to 1 second and 5 minutes.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// If not nil, Server and the workers it creates output log messages to
	// this logger.
	Logger *slog.Logger
}

// Server is the host runtime. It keeps at most one active worker, which
// answers requests, and at most one waiting worker, which is being installed
// or waits for an install retry.
type Server struct {
	origin    *url.URL
	storage   offlinecache.Storage
	transport http.RoundTripper
	log       *slog.Logger

	active atomic.Pointer[offlinecache.Worker]

	mu          sync.Mutex
	waiting     *offlinecache.Worker
	retry       *backoff.ExponentialBackOff
	nextRetry   time.Time
	retrying    bool
	activatedAt time.Time
	closed      bool
	wg          sync.WaitGroup

	numPassthrough  atomic.Uint64
	numBadGateway   atomic.Uint64
	numActivations  atomic.Uint64
	numRetries      atomic.Uint64
	numDeployFailed atomic.Uint64
}

// New creates a host server.
func New(conf *Config) (*Server, error) {
	if conf.Storage == nil {
		return nil, fmt.Errorf("%w: nil Storage", offlinecache.ErrInvalidConfig)
	}
	s := &Server{
		storage:   conf.Storage,
		transport: conf.Transport,
		log:       conf.Logger,
	}
	if s.transport == nil {
		s.transport = http.DefaultTransport
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if conf.Origin != "" {
		u, err := url.Parse(conf.Origin)
		if err != nil {
			return nil, fmt.Errorf("%w: Origin: %w", offlinecache.ErrInvalidConfig, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: Origin: %q is not an absolute http(s) URL", offlinecache.ErrInvalidConfig, conf.Origin)
		}
		s.origin = u
	}

	s.retry = backoff.NewExponentialBackOff()
	s.retry.InitialInterval = time.Second
	s.retry.MaxInterval = time.Minute * 5
	if conf.RetryInitial > 0 {
		s.retry.InitialInterval = conf.RetryInitial
	}
	if conf.RetryMax > 0 {
		s.retry.MaxInterval = conf.RetryMax
	}

	return s, nil
}

// Active returns the active worker, or nil if none has been activated yet.
func (s *Server) Active() *offlinecache.Worker { return s.active.Load() }

// Waiting returns the waiting worker, or nil.
func (s *Server) Waiting() *offlinecache.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Storage returns the storage shared by the workers.
func (s *Server) Storage() offlinecache.Storage { return s.storage }

// Deploy registers a new worker version and installs it. On success the new
// worker is activated and replaces the previous active worker, whose cache
// store is left untouched. On failure the worker stays waiting, an install
// retry is scheduled with exponential backoff, and the install error is
// returned. Requests keep being answered by the previous active worker, or by
// the network if there is none.
//
// Deploying the configuration of the active or waiting worker again, with
// the same cache name and assets, does nothing.
func (s *Server) Deploy(ctx context.Context, conf offlinecache.Config) error {
	conf.Storage = s.storage
	conf.Transport = s.transport
	if conf.BaseURL == "" && s.origin != nil {
		conf.BaseURL = s.origin.String()
	}
	if conf.Logger == nil {
		conf.Logger = s.log
	}
	w, err := offlinecache.New(&conf)
	if err != nil {
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return offlinecache.ErrStorageClosed
	}
	for _, cur := range []*offlinecache.Worker{s.active.Load(), s.waiting} {
		if sameVersion(cur, w) {
			s.mu.Unlock()
			s.log.Info("Deploy: Version unchanged.", "cache", w.CacheName())
			return nil
		}
	}
	if s.waiting != nil {
		s.log.Info("Deploy: Waiting worker superseded.", "cache", s.waiting.CacheName())
	}
	s.waiting = w
	s.nextRetry = time.Time{}
	s.retry.Reset()
	s.mu.Unlock()

	s.log.Info("Deploy: New worker waiting.", "cache", w.CacheName(), "assets", len(w.Assets()))

	return s.install(ctx, w)
}

// sameVersion reports whether two workers use the same cache and assets.
func sameVersion(a, b *offlinecache.Worker) bool {
	if a == nil || b == nil {
		return false
	}
	return a.CacheName() == b.CacheName() && slices.Equal(a.Assets(), b.Assets())
}

// install installs the waiting worker and activates it on success, or
// schedules a retry on failure. A worker superseded in the meantime is neither
// activated nor retried.
func (s *Server) install(ctx context.Context, w *offlinecache.Worker) error {
	if err := w.Install(ctx); err != nil {
		s.numDeployFailed.Add(1)
		s.mu.Lock()
		if s.waiting == w && !s.closed {
			delay := s.retry.NextBackOff()
			s.nextRetry = time.Now().Add(delay)
			s.log.Warn(
				"Install failed, retry scheduled.",
				"cache", w.CacheName(),
				"retry_in", delay.Round(time.Millisecond),
				"error", err,
			)
		}
		s.mu.Unlock()
		return err //nolint:wrapcheck
	}

	s.mu.Lock()
	if s.waiting != w {
		s.mu.Unlock()
		s.log.Info("Installed worker was superseded, not activated.", "cache", w.CacheName())
		return nil
	}
	s.waiting = nil
	s.nextRetry = time.Time{}
	s.activatedAt = time.Now()
	prev := s.active.Swap(w)
	s.mu.Unlock()
	s.numActivations.Add(1)

	if prev != nil {
		s.log.Info("Worker activated.", "cache", w.CacheName(), "previous", prev.CacheName())
	} else {
		s.log.Info("Worker activated.", "cache", w.CacheName())
	}
	return nil
}

// maybeRetry starts the scheduled install retry of the waiting worker in the
// background, if it is due.
func (s *Server) maybeRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.waiting
	if w == nil || s.closed || s.retrying || s.nextRetry.IsZero() || time.Now().Before(s.nextRetry) {
		return
	}
	s.retrying = true
	s.numRetries.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("Retrying install.", "cache", w.CacheName())
		ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
		defer cancel()
		_ = s.install(ctx, w)
		s.mu.Lock()
		s.retrying = false
		s.mu.Unlock()
	}()
}

// RetryNow makes a scheduled install retry due immediately. The retry itself
// still starts with the next request.
func (s *Server) RetryNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiting == nil || s.nextRetry.IsZero() {
		return false
	}
	s.nextRetry = time.Now()
	return true
}

// Close waits for running install retries and closes the storage.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()

	return s.storage.Close() //nolint:wrapcheck
}

// ServeHTTP delivers the request as a fetch event. The request URL is taken
// as is in absolute form, or resolved against the origin in origin form. The
// response comes from the active worker, or from the network while no worker
// is active. A network failure is answered with 502 Bad Gateway.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.maybeRetry()

	out, err := s.outboundRequest(r)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	var resp *http.Response
	if w := s.active.Load(); w != nil {
		resp, err = w.Fetch(r.Context(), out)
	} else {
		s.numPassthrough.Add(1)
		resp, err = s.transport.RoundTrip(out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.numBadGateway.Add(1)
		s.log.Warn("Fetch failed.", "method", out.Method, "url", out.URL.String(), "error", err)
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	h := rw.Header()
	for k, vs := range resp.Header {
		h[k] = append([]string(nil), vs...)
	}
	RemoveHopHeaders(h)
	rw.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(rw, resp.Body); err != nil {
		s.log.Debug("Failed to copy response body.", "url", out.URL.String(), "error", err)
	}
}

// outboundRequest builds the request sent to the worker from the request the
// proxy received.
func (s *Server) outboundRequest(r *http.Request) (*http.Request, error) {
	var u *url.URL
	switch {
	case r.URL.IsAbs():
		u = r.URL
	case s.origin != nil:
		u = s.origin.ResolveReference(&url.URL{
			Path:     r.URL.Path,
			RawPath:  r.URL.RawPath,
			RawQuery: r.URL.RawQuery,
		})
	default:
		return nil, fmt.Errorf("%s: request in origin form but no origin configured", r.URL.String())
	}

	out := r.Clone(r.Context())
	out.URL = u
	out.Host = u.Host
	out.RequestURI = ""
	if r.ContentLength == 0 {
		out.Body = nil
	}
	RemoveHopHeaders(out.Header)

	return out, nil
}

// hopHeaders are the hop-by-hop headers, which are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RemoveHopHeaders removes hop-by-hop headers, including those named in the
// Connection header.
func RemoveHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
