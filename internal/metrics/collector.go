// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

// Package metrics exports host and worker statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/host"
)

const namespace = "offlinecache"

// Collector is a prometheus.Collector reading the host status on each scrape.
type Collector struct {
	server *host.Server

	requests        *prometheus.Desc
	hits            *prometheus.Desc
	misses          *prometheus.Desc
	failures        *prometheus.Desc
	installs        *prometheus.Desc
	installFailures *prometheus.Desc
	entries         *prometheus.Desc
	bytes           *prometheus.Desc
	state           *prometheus.Desc
	passthrough     *prometheus.Desc
	badGateway      *prometheus.Desc
	activations     *prometheus.Desc
	retries         *prometheus.Desc
}

// NewCollector creates a collector for the server.
func NewCollector(s *host.Server) *Collector {
	cacheLabels := []string{"cache", "role"}
	return &Collector{
		server: s,

		requests:        prometheus.NewDesc(namespace+"_requests_total", "Requests delivered to the worker.", cacheLabels, nil),
		hits:            prometheus.NewDesc(namespace+"_cache_hits_total", "Requests answered from the cache.", cacheLabels, nil),
		misses:          prometheus.NewDesc(namespace+"_cache_misses_total", "Requests forwarded to the network.", cacheLabels, nil),
		failures:        prometheus.NewDesc(namespace+"_fetch_failures_total", "Requests that failed.", cacheLabels, nil),
		installs:        prometheus.NewDesc(namespace+"_installs_total", "Install attempts.", cacheLabels, nil),
		installFailures: prometheus.NewDesc(namespace+"_install_failures_total", "Failed install attempts.", cacheLabels, nil),
		entries:         prometheus.NewDesc(namespace+"_cache_entries", "Entries stored by the last successful install.", cacheLabels, nil),
		bytes:           prometheus.NewDesc(namespace+"_cache_bytes", "Body bytes stored by the last successful install.", cacheLabels, nil),
		state:           prometheus.NewDesc(namespace+"_worker_state", "Lifecycle state of the worker, 1 for the current state.", []string{"cache", "role", "state"}, nil),
		passthrough:     prometheus.NewDesc(namespace+"_passthrough_requests_total", "Requests sent to the network while no worker was active.", nil, nil),
		badGateway:      prometheus.NewDesc(namespace+"_bad_gateway_total", "Requests answered with 502 Bad Gateway.", nil, nil),
		activations:     prometheus.NewDesc(namespace+"_activations_total", "Worker activations.", nil, nil),
		retries:         prometheus.NewDesc(namespace+"_install_retries_total", "Background install retries.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.hits
	ch <- c.misses
	ch <- c.failures
	ch <- c.installs
	ch <- c.installFailures
	ch <- c.entries
	ch <- c.bytes
	ch <- c.state
	ch <- c.passthrough
	ch <- c.badGateway
	ch <- c.activations
	ch <- c.retries
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.server.Status()

	c.collectWorker(ch, st.Active, "active")
	c.collectWorker(ch, st.Waiting, "waiting")

	ch <- prometheus.MustNewConstMetric(c.passthrough, prometheus.CounterValue, float64(st.NumPassthrough))
	ch <- prometheus.MustNewConstMetric(c.badGateway, prometheus.CounterValue, float64(st.NumBadGateway))
	ch <- prometheus.MustNewConstMetric(c.activations, prometheus.CounterValue, float64(st.NumActivations))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(st.NumRetries))
}

func (c *Collector) collectWorker(ch chan<- prometheus.Metric, ws *offlinecache.Status, role string) {
	if ws == nil {
		return
	}
	lv := []string{ws.CacheName, role}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), lv...)
	}
	gauge := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), lv...)
	}
	counter(c.requests, ws.NumRequested)
	counter(c.hits, ws.NumHit)
	counter(c.misses, ws.NumMiss)
	counter(c.failures, ws.NumFailed)
	counter(c.installs, ws.NumInstalls)
	counter(c.installFailures, ws.NumInstallFailed)
	gauge(c.entries, ws.NumEntries)
	gauge(c.bytes, uint64(ws.TotalSize))

	for _, s := range []offlinecache.State{
		offlinecache.StateParsed,
		offlinecache.StateInstalling,
		offlinecache.StateInstalled,
		offlinecache.StateRedundant,
	} {
		v := 0.0
		if s == ws.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, ws.CacheName, role, s.String())
	}
}

// NewRegistry returns a registry with the collector for the server and the
// Go runtime and process collectors.
func NewRegistry(s *host.Server) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(s),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
