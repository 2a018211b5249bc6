package cache

import (
	"context"
	"time"
)

// Entry is one cached response. ExpiresAt is always after FetchedAt.
type Entry struct {
	Key       string
	Value     []byte
	FetchedAt time.Time
	ExpiresAt time.Time
}

// FreshAt reports whether the entry may still be served at now.
func (e Entry) FreshAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Tier is one storage level of the cache.
//
// Get never returns an entry that is expired at now. A tier that finds an
// expired record treats it as absent and may remove it.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string, now time.Time) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
}
