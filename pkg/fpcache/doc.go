// Package fpcache provides a TTL and capacity bounded LRU cache for values
// keyed by content fingerprints.
//
// Expiry is lazy: an entry whose age reached the TTL is dropped by the read
// that observes it. Capacity is enforced on every Set by evicting the least
// recently used entries. All methods are safe for concurrent use.
package fpcache
