// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	offlinecache "github.com/tunabay/go-offlinecache"
	"github.com/tunabay/go-offlinecache/internal/host"
	"github.com/tunabay/go-offlinecache/store/diskstore"
)

// cacheDir is the path to the cache directory.
const cacheDir = "/tmp/go-offlinecache-example"

// main is the main function of this example program. It runs a small origin
// site and, in front of it, a proxy answering requests through an offline
// cache worker.
//
// The worker prefetches the page, its stylesheet and its logo on startup. Run
// it once, then run it again with -offline, which does not start the origin:
// http://localhost:8080/ is still served from the cache while /api/trains
// fails with 502.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse command parameters.
	args := os.Args[1:]
	offline := len(args) != 0 && args[0] == "-offline"
	if offline {
		args = args[1:]
	}
	originAddr, proxyAddr := "127.0.0.1:8000", ":8080"
	switch {
	case len(args) == 0:
		// use default addrs

	case 2 < len(args), strings.HasPrefix(strings.TrimLeft(args[0], "-"), "h"):
		fmt.Fprintf(os.Stderr, "USAGE: %s [-offline] [ origin-host:port [ [host]:port ] ]\n", os.Args[0])
		return

	default:
		originAddr = args[0]
		if len(args) == 2 {
			proxyAddr = args[1]
		}
	}

	// Run the origin unless offline.
	originURL := "http://" + originAddr
	origin := &http.Server{Addr: originAddr, Handler: &site{}, ReadTimeout: time.Second * 10}
	if !offline {
		ln, err := net.Listen("tcp", originAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: origin: %v\n", err)
			return
		}
		go func() {
			if err := origin.Serve(ln); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "ERROR: origin: %v\n", err)
			}
		}()
	}

	// Create the worker and install it.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	storage, err := diskstore.NewWithConfig(&diskstore.Config{Dir: cacheDir, Logger: log})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: storage: %v\n", err)
		return
	}
	defer storage.Close()
	worker, err := offlinecache.New(&offlinecache.Config{
		CacheName: "treinfo-v1",
		Assets:    []string{"/", "/static/style.css", "/static/img/logo.png"},
		BaseURL:   originURL,
		Storage:   storage,
		Logger:    log,
		DebugLog:  true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: worker: %v\n", err)
		return
	}
	if err := worker.Install(ctx); err != nil {
		// a store from an earlier run still answers requests
		fmt.Fprintf(os.Stderr, "WARN: install: %v\n", err)
	}

	// Run the proxy.
	httpd := &http.Server{
		Addr:           proxyAddr,
		Handler:        proxy(worker),
		ReadTimeout:    time.Second * 10,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 4096,
	}
	go func() {
		<-ctx.Done()
		sdctx, sdcancel := context.WithTimeout(context.Background(), time.Second*5)
		defer sdcancel()
		fmt.Fprintf(os.Stderr, "worker status: %v\n", worker.Status())
		for _, sv := range []*http.Server{httpd, origin} {
			if err := sv.Shutdown(sdctx); err != nil { //nolint:contextcheck
				fmt.Fprintf(os.Stderr, "ERROR: httpd: %v\n", err)
			}
		}
	}()
	if err := httpd.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "httpd: %v\n", err)
	}
}

// proxy returns a handler answering every request with worker.Fetch. The
// request path is resolved against the worker's base URL.
func proxy(worker *offlinecache.Worker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.RequestURI(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := worker.Fetch(r.Context(), req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FETCH: %s: %v\n", r.URL, err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			w.Header()[k] = vs
		}
		host.RemoveHopHeaders(w.Header())
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: io.Copy: %v\n", err)
		}
	})
}
