// Copyright (c) 2022 Hirotsuna Mizuno. All rights reserved.
// Use of this source code is governed by the MIT license that can be found in
// the LICENSE file.

package offlinecache

import "context"

// Storage is the interface implemented by a persistent or in-memory
// collection of named cache stores. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Open returns the store with the name, creating an empty one if it
	// does not exist.
	Open(ctx context.Context, name string) (Store, error)

	// Has reports whether a store with the name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the store with the name and all of its entries. It
	// reports whether the store existed. Workers never call it; it is an
	// explicit operator action.
	Delete(ctx context.Context, name string) (bool, error)

	// Names returns the names of all stores in ascending order.
	Names(ctx context.Context) ([]string, error)

	// Close releases the resources held by the storage.
	Close() error
}

// Store is the interface implemented by a single named cache store, a mapping
// from locators to stored responses. Implementations must be safe for
// concurrent use.
type Store interface {
	// Name returns the name of the store.
	Name() string

	// Match returns the response stored for the key. It returns
	// (nil, false, nil) if the key is not stored.
	Match(ctx context.Context, key string) (*Response, bool, error)

	// PutAll stores all the entries, replacing existing entries for the
	// same keys. Either all entries are stored or, when an error is
	// returned, none of them.
	PutAll(ctx context.Context, entries []Entry) error

	// Keys returns the keys of all stored entries in ascending order.
	Keys(ctx context.Context) ([]string, error)
}
