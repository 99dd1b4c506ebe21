package cache

import (
	"context"
)

// Storage is the set of named caches available to the workers of one scope.
// A cache name is the generation identifier of the worker version that created it.
// Values are opaque []byte blobs, which represent stored HTTP responses.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the cache with the given name, creating it if it does not exist.
	Open(ctx context.Context, name string) (Cache, error)
	// Lookup returns the cache with the given name if it exists. It never creates one.
	Lookup(ctx context.Context, name string) (Cache, bool, error)
	// Has reports whether a cache with the given name exists.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and all of its entries.
	// It reports whether a cache was actually removed; deleting a missing cache is not an error.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys returns the names of all caches in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Match looks up key in every cache, in creation order, and returns the first hit.
	// It returns nil, nil if no cache holds the key.
	Match(ctx context.Context, key string) ([]byte, error)
	// Close releases any resources held by the storage.
	Close() error
}

// Cache is a single named key -> response mapping.
// Writing to a cache that has been deleted in the meantime creates it again.
type Cache interface {
	// Name returns the cache name.
	Name() string
	// Match returns the stored bytes for key, or nil, nil if there is none.
	Match(ctx context.Context, key string) ([]byte, error)
	// Put stores a single entry, replacing any previous one with the same key.
	Put(ctx context.Context, entry Entry) error
	// PutAll stores all entries or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	// Delete removes the entry for key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all entry keys of the cache.
	Keys(ctx context.Context) ([]string, error)
}

type Entry struct {
	Key   string
	Bytes []byte
}
