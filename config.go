// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import (
	"log/slog"
	"net/http"

	"github.com/tunabay/go-infounit"
)

// Config represents the parameters to configure Worker creation.
type Config struct {
	// The name of the cache store the worker populates and reads. A
	// worker version uses exactly one name for its lifetime. Changing it
	// selects a new, isolated store; the store under the old name is left
	// in place.
	CacheName string

	// The ordered list of asset locators fetched and stored on install.
	// Relative locators are resolved against BaseURL. Every entry must be
	// fetchable at install time, otherwise the whole install fails.
	Assets []string

	// The URL relative asset locators and relative request URLs are
	// resolved against, typically the origin of the controlled page. It
	// may be empty when every locator is absolute.
	BaseURL string

	// The storage holding the named cache stores. If nil, a new in-memory
	// storage is used, which does not survive the process.
	Storage Storage

	// The network layer used for install fetches and for requests not
	// found in the cache. If nil, http.DefaultTransport is used.
	Transport http.RoundTripper

	// The maximum number of asset fetches running at the same time during
	// install. Zero value means unlimited.
	InstallConcurrency int

	// The upper limit on the body size of a single asset. Zero value means
	// unlimited. An asset exceeding the limit fails the install.
	MaxAssetSize infounit.ByteCount

	// If not nil, Worker outputs log messages to this logger.
	Logger *slog.Logger

	// If true, Worker outputs debug log messages with the source position.
	// Only effective if Logger is not nil.
	DebugLog bool
}

// clone returns a copy of the configuration safe to retain. The asset slice is
// copied so that later changes by the caller do not affect the worker.
func (c *Config) clone() *Config {
	cc := *c
	cc.Assets = append([]string(nil), c.Assets...)
	return &cc
}
