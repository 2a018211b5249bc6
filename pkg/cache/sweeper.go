package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger removes every expired record from durable storage.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper purges expired records from a durable tier on demand. The
// housekeeping loop decides when to call it.
type Sweeper struct {
	purger Purger
	now    func() time.Time
	logger *slog.Logger
}

// NewSweeper creates a sweeper for purger.
func NewSweeper(purger Purger, logger *slog.Logger, now func() time.Time) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}

	return &Sweeper{purger: purger, now: now, logger: logger}
}

// Sweep runs one purge pass and returns the number of removed records.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	started := s.now()
	removed, err := s.purger.PurgeExpired(ctx, started)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	s.logger.InfoContext(ctx, "cache sweep finished", "removed", removed, "elapsed", s.now().Sub(started))

	return removed, nil
}
