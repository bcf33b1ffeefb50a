// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

//go:embed static/index.html static/style.css
var efs embed.FS

// site represents the example origin. It serves the page, its local assets
// and a small JSON API that changes on every request.
type site struct {
	logoOnce sync.Once
	logo     []byte
	logoErr  error
}

// ServeHTTP responds to incoming HTTP requests.
func (st *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	errf := func(code int, format string, v ...any) {
		b := []byte(fmt.Sprintf(format, v...) + "\n")
		w.Header().Add("Content-Type", "text/plain")
		w.Header().Add("Content-Length", strconv.FormatInt(int64(len(b)), 10))
		w.WriteHeader(code)
		if _, err := w.Write(b); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: ResponseWriter.Write: %v\n", err)
		}
	}
	fmt.Fprintf(os.Stderr, "ORIGIN: %s %v\n", r.Method, r.URL)

	if r.Method != http.MethodGet {
		errf(http.StatusMethodNotAllowed, "Method %s not allowed.", r.Method)
		return
	}

	var err error
	switch r.URL.Path {
	case "/":
		err = serveFile(w, "static/index.html", "text/html; charset=utf-8")

	case "/static/style.css":
		err = serveFile(w, "static/style.css", "text/css; charset=utf-8")

	case "/static/img/logo.png":
		err = st.serveLogo(w)

	case "/api/trains":
		err = serveTrains(w, time.Now())

	default:
		errf(http.StatusNotFound, "Resource %s not found.", r.URL.Path)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARN: %s: %v\n", r.URL.Path, err)
	}
}

// serveFile sends an embedded file.
func serveFile(w http.ResponseWriter, name, ctype string) error {
	b, err := fs.ReadFile(efs, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	w.Header().Add("Content-Length", strconv.Itoa(len(b)))
	w.Header().Add("Content-Type", ctype)
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// serveLogo sends the logo, drawing it on the first request.
func (st *site) serveLogo(w http.ResponseWriter) error {
	st.logoOnce.Do(func() {
		var buf bytes.Buffer
		startedAt := time.Now()
		st.logoErr = createLogo(defaultLogo, &buf)
		st.logo = buf.Bytes()
		fmt.Fprintf(os.Stderr, "Logo drawn [%v] (elapsed %v)\n", defaultLogo, time.Since(startedAt))
	})
	if st.logoErr != nil {
		http.Error(w, "logo unavailable", http.StatusInternalServerError)
		return st.logoErr
	}
	w.Header().Add("Content-Length", strconv.Itoa(len(st.logo)))
	w.Header().Add("Content-Type", "image/png")
	w.Header().Add("ETag", defaultLogo.etag())
	if _, err := w.Write(st.logo); err != nil {
		return fmt.Errorf("logo: %w", err)
	}
	return nil
}

// departure is one entry of the /api/trains response.
type departure struct {
	Train   string `json:"train"`
	To      string `json:"to"`
	Departs string `json:"departs"`
}

// serveTrains sends the next departures after now.
func serveTrains(w http.ResponseWriter, now time.Time) error {
	dests := []string{"Utrecht", "Leiden", "Haarlem", "Zwolle"}
	next := now.Truncate(time.Minute * 15).Add(time.Minute * 15)
	res := make([]departure, 0, len(dests))
	for i, to := range dests {
		res = append(res, departure{
			Train:   fmt.Sprintf("IC %d", 3500+i*100+next.Hour()),
			To:      to,
			Departs: next.Add(time.Minute * time.Duration(i*15)).Format("15:04"),
		})
	}
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("trains: %w", err)
	}
	w.Header().Add("Content-Type", "application/json")
	w.Header().Add("Cache-Control", "no-store")
	w.Header().Add("Content-Length", strconv.Itoa(len(b)))
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("trains: %w", err)
	}
	return nil
}
