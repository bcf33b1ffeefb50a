// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"crypto/sha512"
	"fmt"
	"net/url"
)

// HashSize is the size, in bytes, of the key hash.
const HashSize = 32

// Hash represents a 32-bytes hash value. Persistent storages use it to derive
// file and directory names from cache names and locators.
type Hash [HashSize]byte

// HashOf calculates and returns a hash value of the string using SHA-512/256.
func HashOf(s string) Hash { return sha512.Sum512_256([]byte(s)) }

// ResolveLocator resolves loc against base and returns the locator in the form
// used as a cache key: an absolute http or https URL without fragment. A nil
// base only accepts absolute locators.
func ResolveLocator(base *url.URL, loc string) (string, error) {
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%q: %w", loc, err)
	}
	if !u.IsAbs() {
		if base == nil {
			return "", fmt.Errorf("%q: relative locator without base URL", loc)
		}
		u = base.ResolveReference(u)
	}
	return normalizeURL(u)
}

// RequestLocator returns the cache key for the request URL. The URL must be
// absolute.
func RequestLocator(u *url.URL) (string, error) {
	if !u.IsAbs() {
		return "", fmt.Errorf("%q: request URL is not absolute", u.String())
	}
	return normalizeURL(u)
}

// normalizeURL checks the scheme and strips the fragment, which is never part
// of a cache key.
func normalizeURL(u *url.URL) (string, error) {
	switch u.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("%q: unsupported scheme %q", u.String(), u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q: missing host", u.String())
	}
	nu := *u
	nu.Fragment = ""
	nu.RawFragment = ""
	if nu.Path == "" {
		nu.Path = "/"
	}
	return nu.String(), nil
}
