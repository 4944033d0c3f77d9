// Package cache defines the byte-oriented cache contract shared by the
// discovery resolver, the JWKS key source, and the flow state store.
//
// Entries are value + TTL; a read after expiry behaves as absent. Writers
// replace entries atomically, last writer wins. Stale-but-unexpired reads
// are acceptable by design.
package cache

import "time"

// Cache is the minimal surface the core needs. Implementations must be
// safe for concurrent use.
type Cache interface {
	// Get returns the value and true, or nil and false when the key is
	// absent or expired.
	Get(key string) ([]byte, bool)

	// Set stores value under key with the given TTL. ttl <= 0 means no
	// expiry.
	Set(key string, value []byte, ttl time.Duration)

	// Delete evicts one key. Deleting an absent key is a no-op.
	Delete(key string)

	// Flush evicts every entry owned by this cache.
	Flush()
}
