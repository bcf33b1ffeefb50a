// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLocator(t *testing.T) {
	base, err := url.Parse("http://localhost:8080/app/")
	require.NoError(t, err)

	tests := map[string]string{
		"/":                       "http://localhost:8080/",
		"/static/style.css":       "http://localhost:8080/static/style.css",
		"static/img/logo.png":     "http://localhost:8080/app/static/img/logo.png",
		"/static/style.css#print": "http://localhost:8080/static/style.css",
		"/search?q=gent":          "http://localhost:8080/search?q=gent",
		"https://unpkg.com/leaflet@1.9.4/dist/leaflet.css": "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css",
		"https://cdn.jsdelivr.net":                         "https://cdn.jsdelivr.net/",
	}
	for in, exp := range tests {
		res, err := ResolveLocator(base, in)
		if err != nil {
			t.Fatal(err)
		}
		if exp != res {
			t.Error("expected", exp, "but got", res, "(input:", in, ")")
		}
	}

	for _, in := range []string{"mailto:info@example.com", "data:text/plain,x", "https:///nohost"} {
		_, err := ResolveLocator(base, in)
		assert.Error(t, err, in)
	}
	_, err = ResolveLocator(nil, "/")
	assert.Error(t, err)
}

func TestHashFanOut(t *testing.T) {
	h := HashOf("treinfo-v1")
	assert.Len(t, h.String(), HashSize*2)
	d1, d2 := h.FanOut()
	assert.Equal(t, h.String()[HashSize*2-2:], d1)
	assert.Equal(t, h.String()[HashSize*2-4:HashSize*2-2], d2)
	assert.Equal(t, h, HashOf("treinfo-v1"))
}
