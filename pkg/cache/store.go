// Package cache provides the shared TTL store used for session cookies
// and provider response memoization.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a process-wide keyed TTL cache. Entries are evicted lazily on
// read; there is no background sweeper, so an expired entry simply reads
// as absent.
type Store struct {
	c *gocache.Cache
}

// New creates an empty store. The zero cleanup interval disables the
// go-cache janitor on purpose.
func New() *Store {
	return &Store{c: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the value for key if present and unexpired.
func (s *Store) Get(key string) (any, bool) {
	return s.c.Get(key)
}

// GetString is Get for string values.
func (s *Store) GetString(key string) (string, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Set stores value under key for ttl. A non-positive ttl means the entry
// never expires.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		s.c.Set(key, value, gocache.NoExpiration)
		return
	}
	s.c.Set(key, value, ttl)
}

// Delete removes an entry. Used by callers that detect a cached value
// has gone stale ahead of its TTL (e.g. a rejected session cookie).
func (s *Store) Delete(key string) {
	s.c.Delete(key)
}
