// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryRecord(t *testing.T) {
	stored := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{
		Key: "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
		Response: &Response{
			URL:        "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": {"text/css"}, "Etag": {`"abc"`}},
			Body:       []byte(".leaflet-pane{z-index:400}"),
			StoredAt:   stored,
		},
	}
	b, err := MarshalEntry(e)
	require.NoError(t, err)
	got, err := UnmarshalEntry(b)
	require.NoError(t, err)

	assert.Equal(t, e.Key, got.Key)
	assert.Equal(t, e.Response.Header, got.Response.Header)
	assert.Equal(t, e.Response.Body, got.Response.Body)
	assert.True(t, stored.Equal(got.Response.StoredAt))

	// the replayed response carries an independent body each time
	for range 2 {
		resp := got.Response.HTTPResponse(nil)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, ".leaflet-pane{z-index:400}", string(body))
		assert.Equal(t, "200 OK", resp.Status)
		assert.EqualValues(t, len(body), resp.ContentLength)
	}

	_, err = MarshalEntry(Entry{Key: "x"})
	assert.ErrorIs(t, err, ErrInternal)
	_, err = UnmarshalEntry([]byte{0xff, 0x00})
	assert.Error(t, err)
}
