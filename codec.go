// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// record is the persistent representation of a stored entry.
type record struct {
	Key        string              `cbor:"1,keyasint"`
	URL        string              `cbor:"2,keyasint"`
	StatusCode int                 `cbor:"3,keyasint"`
	Status     string              `cbor:"4,keyasint"`
	Header     map[string][]string `cbor:"5,keyasint"`
	Body       []byte              `cbor:"6,keyasint"`
	StoredAt   int64               `cbor:"7,keyasint"` // unix nano
}

// MarshalEntry encodes the entry into the CBOR record format used by the
// persistent storages.
func MarshalEntry(e Entry) ([]byte, error) {
	if e.Response == nil {
		return nil, fmt.Errorf("%w: nil response for %q", ErrInternal, e.Key)
	}
	rec := &record{
		Key:        e.Key,
		URL:        e.Response.URL,
		StatusCode: e.Response.StatusCode,
		Status:     e.Response.Status,
		Header:     e.Response.Header,
		Body:       e.Response.Body,
		StoredAt:   e.Response.StoredAt.UnixNano(),
	}
	b, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q: %w", e.Key, err)
	}
	return b, nil
}

// UnmarshalEntry decodes a record encoded by MarshalEntry.
func UnmarshalEntry(b []byte) (Entry, error) {
	var rec record
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return Entry{}, fmt.Errorf("failed to decode entry: %w", err)
	}
	resp := &Response{
		URL:        rec.URL,
		StatusCode: rec.StatusCode,
		Status:     rec.Status,
		Header:     http.Header(rec.Header),
		Body:       rec.Body,
		StoredAt:   time.Unix(0, rec.StoredAt),
	}
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	return Entry{Key: rec.Key, Response: resp}, nil
}
