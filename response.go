// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tunabay/go-infounit"
)

// Response represents a response held in a cache store. The body is fully
// buffered, so a Response can be served any number of times.
type Response struct {
	URL        string      // locator the response was fetched for.
	StatusCode int         // e.g. 200
	Status     string      // e.g. "200 OK"
	Header     http.Header // response header fields.
	Body       []byte      // response body.
	StoredAt   time.Time   // time the response was captured.
}

// Entry is a key and response pair written to a store by PutAll.
type Entry struct {
	Key      string
	Response *Response
}

// Size returns the size of the body.
func (r *Response) Size() infounit.ByteCount { return infounit.ByteCount(len(r.Body)) }

// NewResponse reads the whole body of resp and returns it as a Response for
// the locator. The body of resp is always closed. If limit is not zero and the
// body is larger than limit, ErrTooLarge is returned.
func NewResponse(locator string, resp *http.Response, limit infounit.ByteCount) (*Response, error) {
	defer resp.Body.Close()

	var rd io.Reader = resp.Body
	if limit != 0 {
		rd = io.LimitReader(resp.Body, int64(limit)+1)
	}
	body, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if limit != 0 && limit < infounit.ByteCount(len(body)) {
		return nil, fmt.Errorf("%w: more than %.1S", ErrTooLarge, limit)
	}

	return &Response{
		URL:        locator,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}, nil
}

// HTTPResponse returns a new http.Response replaying the stored response for
// the request. Each call returns an independent body reader.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	hdr := r.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode))
	}

	return &http.Response{
		Status:        status,
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        hdr,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
