// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

/*
Package offlinecache provides a cache-first offline asset cache. A Worker
pre-caches a fixed list of assets into a named cache store when it is
installed, and answers subsequent requests from that store, falling back to the
network when a request is not cached. Responses fetched from the network on a
cache miss are never written back to the store.

The worker does not depend on any particular event host. Storage and network
are injected through Config, so the same worker runs behind an HTTP proxy, in a
one-shot prefetch command, or in tests against fakes.
*/
package offlinecache
