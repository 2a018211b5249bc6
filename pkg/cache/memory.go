package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 4096

// MemoryTier is the process-local first tier. It holds at most a fixed number
// of entries and evicts the least recently used one when full.
type MemoryTier struct {
	entries *lru.Cache[string, Entry]
}

// NewMemoryTier creates a memory tier bounded to size entries. A non-positive
// size selects the default bound.
func NewMemoryTier(size int) (*MemoryTier, error) {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("new memory tier: %w", err)
	}

	return &MemoryTier{entries: entries}, nil
}

// Name returns the tier label used in logs.
func (m *MemoryTier) Name() string {
	return "memory"
}

// Get returns a fresh entry and drops a stale one.
func (m *MemoryTier) Get(_ context.Context, key string, now time.Time) (Entry, bool, error) {
	entry, found := m.entries.Get(key)
	if !found {
		return Entry{}, false, nil
	}
	if !entry.FreshAt(now) {
		m.entries.Remove(key)
		return Entry{}, false, nil
	}
	entry.Value = append([]byte(nil), entry.Value...)

	return entry, true, nil
}

// Set stores a copy of entry.
func (m *MemoryTier) Set(_ context.Context, entry Entry) error {
	if !entry.ExpiresAt.After(entry.FetchedAt) {
		return fmt.Errorf("memory tier set %s: expires_at must be after fetched_at", entry.Key)
	}
	entry.Value = append([]byte(nil), entry.Value...)
	m.entries.Add(entry.Key, entry)

	return nil
}

// Delete removes key.
func (m *MemoryTier) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

// Len reports the number of resident entries, including stale ones not yet read.
func (m *MemoryTier) Len() int {
	return m.entries.Len()
}

var _ Tier = (*MemoryTier)(nil)
