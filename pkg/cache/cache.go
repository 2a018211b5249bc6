package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Cache reads and writes an ordered list of tiers, fastest first.
type Cache struct {
	tiers  []Tier
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger configures the logger used for tier failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache over tiers in lookup order.
func New(tiers []Tier, options ...Option) (*Cache, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("new cache: at least one tier is required")
	}
	for index, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("new cache: nil tier at %d", index)
		}
	}

	cache := &Cache{
		tiers:  append([]Tier(nil), tiers...),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(cache)
	}

	return cache, nil
}

// Now returns the cache clock reading.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Get returns the first fresh entry for key. A hit in a later tier is copied
// into every earlier tier. Tier read failures are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	now := c.now()
	for index, tier := range c.tiers {
		entry, found, err := tier.Get(ctx, key, now)
		if err != nil {
			c.logger.WarnContext(ctx, "cache tier read failed", "tier", tier.Name(), "key", key, "error", err)
			continue
		}
		if !found {
			continue
		}
		c.warm(ctx, c.tiers[:index], entry)
		return entry, true
	}

	return Entry{}, false
}

// Set writes entry to every tier. Failing tiers do not stop the others.
func (c *Cache) Set(ctx context.Context, entry Entry) error {
	var setErr error
	for _, tier := range c.tiers {
		if err := tier.Set(ctx, entry); err != nil {
			setErr = errors.Join(setErr, fmt.Errorf("tier %s: %w", tier.Name(), err))
		}
	}
	if setErr != nil {
		return fmt.Errorf("cache set %s: %w", entry.Key, setErr)
	}

	return nil
}

// Put stores value under key for ttl starting now. A non-positive ttl is a no-op.
func (c *Cache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	fetchedAt := c.now()

	return c.Set(ctx, Entry{
		Key:       key,
		Value:     value,
		FetchedAt: fetchedAt,
		ExpiresAt: fetchedAt.Add(ttl),
	})
}

// Delete removes key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) error {
	var deleteErr error
	for _, tier := range c.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			deleteErr = errors.Join(deleteErr, fmt.Errorf("tier %s: %w", tier.Name(), err))
		}
	}
	if deleteErr != nil {
		return fmt.Errorf("cache delete %s: %w", key, deleteErr)
	}

	return nil
}

func (c *Cache) warm(ctx context.Context, tiers []Tier, entry Entry) {
	for _, tier := range tiers {
		if err := tier.Set(ctx, entry); err != nil {
			c.logger.WarnContext(ctx, "cache tier warm failed", "tier", tier.Name(), "key", entry.Key, "error", err)
		}
	}
}
