package cache

import (
	"fmt"
	"strings"
	"time"
)

// DefaultFallbackTTL applies to operations missing from the policy table.
const DefaultFallbackTTL = 120 * time.Second

// DefaultTTLTable mirrors how quickly each upstream resource goes stale.
// Zero disables caching for an operation.
var DefaultTTLTable = map[string]time.Duration{
	"user.getrecenttracks": 30 * time.Second,
	"user.gettopartists":   600 * time.Second,
	"user.gettoptracks":    600 * time.Second,
	"user.gettopalbums":    600 * time.Second,
	"user.getinfo":         300 * time.Second,
	"user.getlovedtracks":  300 * time.Second,
	"artist.search":        300 * time.Second,
	"track.search":         300 * time.Second,
	"album.search":         300 * time.Second,
	"artist.getinfo":       3600 * time.Second,
	"artist.gettopalbums":  3600 * time.Second,
	"track.getinfo":        3600 * time.Second,
	"album.getinfo":        3600 * time.Second,
	"discogs.collection":   600 * time.Second,
	"discogs.wantlist":     600 * time.Second,
	"discogs.search":       300 * time.Second,
	"discogs.release":      3600 * time.Second,
}

// TTLPolicy maps operation names to freshness windows. It is immutable after
// construction and safe for concurrent use.
type TTLPolicy struct {
	table    map[string]time.Duration
	fallback time.Duration
}

// NewTTLPolicy copies table and validates every duration. Operation names are
// matched case-insensitively.
func NewTTLPolicy(table map[string]time.Duration, fallback time.Duration) (*TTLPolicy, error) {
	if fallback < 0 {
		return nil, fmt.Errorf("new ttl policy: negative fallback %s", fallback)
	}

	copied := make(map[string]time.Duration, len(table))
	for operation, ttl := range table {
		if ttl < 0 {
			return nil, fmt.Errorf("new ttl policy: negative ttl %s for %s", ttl, operation)
		}
		copied[strings.ToLower(operation)] = ttl
	}

	return &TTLPolicy{table: copied, fallback: fallback}, nil
}

// DefaultTTLPolicy returns the policy built from DefaultTTLTable.
func DefaultTTLPolicy() *TTLPolicy {
	policy, err := NewTTLPolicy(DefaultTTLTable, DefaultFallbackTTL)
	if err != nil {
		panic(err)
	}

	return policy
}

// TTL returns the freshness window for operation.
func (p *TTLPolicy) TTL(operation string) time.Duration {
	if ttl, exists := p.table[strings.ToLower(operation)]; exists {
		return ttl
	}

	return p.fallback
}

// WithOverrides returns a new policy with overrides layered over p. Override
// names are case-insensitive; two spellings of one operation with different
// durations are rejected.
func (p *TTLPolicy) WithOverrides(overrides map[string]time.Duration) (*TTLPolicy, error) {
	normalized := make(map[string]time.Duration, len(overrides))
	for operation, ttl := range overrides {
		name := strings.ToLower(strings.TrimSpace(operation))
		if previous, exists := normalized[name]; exists && previous != ttl {
			return nil, fmt.Errorf("ttl overrides: conflicting durations for %s", name)
		}
		normalized[name] = ttl
	}

	merged := make(map[string]time.Duration, len(p.table)+len(normalized))
	for operation, ttl := range p.table {
		merged[operation] = ttl
	}
	for operation, ttl := range normalized {
		merged[operation] = ttl
	}

	return NewTTLPolicy(merged, p.fallback)
}
