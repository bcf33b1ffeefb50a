// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package host

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	offlinecache "github.com/tunabay/go-offlinecache"
)

// WorkerView is the JSON form of a worker status.
type WorkerView struct {
	CacheName    string    `json:"cache_name"`
	State        string    `json:"state"`
	Assets       int       `json:"assets"`
	Entries      uint64    `json:"entries"`
	TotalBytes   uint64    `json:"total_bytes"`
	InstalledAt  time.Time `json:"installed_at,omitzero"`
	Requests     uint64    `json:"requests"`
	Hits         uint64    `json:"hits"`
	Misses       uint64    `json:"misses"`
	Failures     uint64    `json:"failures"`
	Installs     uint64    `json:"installs"`
	InstallFails uint64    `json:"install_failures"`
}

// StatusView is the JSON form of Status.
type StatusView struct {
	Active       *WorkerView `json:"active,omitempty"`
	Waiting      *WorkerView `json:"waiting,omitempty"`
	ActivatedAt  time.Time   `json:"activated_at,omitzero"`
	NextRetry    time.Time   `json:"next_retry,omitzero"`
	Passthrough  uint64      `json:"passthrough"`
	BadGateway   uint64      `json:"bad_gateway"`
	Activations  uint64      `json:"activations"`
	Retries      uint64      `json:"retries"`
	DeployFailed uint64      `json:"deploy_failed"`
}

// CacheView is one entry of the cache list.
type CacheView struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Waiting bool   `json:"waiting"`
}

// CacheKeysView is the content listing of one cache.
type CacheKeysView struct {
	Name string   `json:"name"`
	Keys []string `json:"keys"`
}

func workerView(s *offlinecache.Status) *WorkerView {
	if s == nil {
		return nil
	}
	return &WorkerView{
		CacheName:    s.CacheName,
		State:        s.State.String(),
		Assets:       s.NumAssets,
		Entries:      s.NumEntries,
		TotalBytes:   uint64(s.TotalSize),
		InstalledAt:  s.InstalledAt,
		Requests:     s.NumRequested,
		Hits:         s.NumHit,
		Misses:       s.NumMiss,
		Failures:     s.NumFailed,
		Installs:     s.NumInstalls,
		InstallFails: s.NumInstallFailed,
	}
}

// View converts the status into its JSON form.
func (s *Status) View() *StatusView {
	return &StatusView{
		Active:       workerView(s.Active),
		Waiting:      workerView(s.Waiting),
		ActivatedAt:  s.ActivatedAt,
		NextRetry:    s.NextRetry,
		Passthrough:  s.NumPassthrough,
		BadGateway:   s.NumBadGateway,
		Activations:  s.NumActivations,
		Retries:      s.NumRetries,
		DeployFailed: s.NumDeployFailed,
	}
}

// AdminHandler returns the admin API handler.
//
// Endpoints:
//   - GET /healthz: liveness probe
//   - GET /status: host and worker status
//   - POST /retry: make a scheduled install retry due now
//   - GET /caches: cache store names
//   - GET /caches/{name}: locators stored in a cache
//   - DELETE /caches/{name}: delete a cache not used by the active or waiting worker
//   - GET /metrics: Prometheus metrics from gatherer, if not nil
func (s *Server) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", s.handleStatus)
	r.Post("/retry", s.handleRetry)
	r.Route("/caches", func(r chi.Router) {
		r.Get("/", s.handleListCaches)
		r.Get("/{name}", s.handleGetCache)
		r.Delete("/{name}", s.handleDeleteCache)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status().View())
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	if !s.RetryNow() {
		writeError(w, http.StatusConflict, "no install retry scheduled")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// inUse returns the cache names of the active and waiting workers.
func (s *Server) inUse() (active, waiting string) {
	if w := s.active.Load(); w != nil {
		active = w.CacheName()
	}
	if w := s.Waiting(); w != nil {
		waiting = w.CacheName()
	}
	return active, waiting
}

func (s *Server) handleListCaches(w http.ResponseWriter, r *http.Request) {
	names, err := s.storage.Names(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active, waiting := s.inUse()
	res := make([]CacheView, 0, len(names))
	for _, name := range names {
		res = append(res, CacheView{Name: name, Active: name == active, Waiting: name == waiting})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	ctx, name := r.Context(), chi.URLParam(r, "name")
	ok, err := s.storage.Has(ctx, name)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case !ok:
		writeError(w, http.StatusNotFound, "cache not found")
		return
	}
	st, err := s.storage.Open(ctx, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	keys, err := st.Keys(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CacheKeysView{Name: name, Keys: keys})
}

func (s *Server) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if active, waiting := s.inUse(); name == active || name == waiting {
		writeError(w, http.StatusConflict, "cache is in use")
		return
	}
	ok, err := s.storage.Delete(r.Context(), name)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case !ok:
		writeError(w, http.StatusNotFound, "cache not found")
		return
	}
	s.log.Info("Cache deleted by operator.", "cache", name)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
