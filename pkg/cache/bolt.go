package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	responseBucket = "responses"
	// recordHeader is expires_at then fetched_at, each 8 bytes big endian unix nanos.
	recordHeader = 16
)

// BoltTier is the durable second tier. Records survive restarts and are
// removed lazily on expired reads and in bulk by PurgeExpired.
type BoltTier struct {
	db *bolt.DB
}

// OpenBoltTier opens or creates the cache database at path.
func OpenBoltTier(path string) (*BoltTier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open bolt tier: path is required")
	}

	db, err := bolt.Open(filepath.Clean(path), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt tier: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(responseBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open bolt tier: create bucket: %w", err)
	}

	return &BoltTier{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltTier) Close() error {
	if b == nil || b.db == nil {
		return nil
	}

	return b.db.Close()
}

// Name returns the tier label used in logs.
func (b *BoltTier) Name() string {
	return "bolt"
}

// Get returns a fresh record. An expired or truncated record is deleted
// before reporting a miss.
func (b *BoltTier) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	var (
		entry   Entry
		found   bool
		expired bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(responseBucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		decoded, err := decodeRecord(key, raw)
		if err != nil || !decoded.FreshAt(now) {
			expired = true
			return nil
		}
		entry, found = decoded, true
		return nil
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("bolt tier get %s: %w", key, err)
	}
	if expired {
		if err := b.deleteIfExpired(key, now); err != nil {
			return Entry{}, false, fmt.Errorf("bolt tier get %s: %w", key, err)
		}
	}

	return entry, found, nil
}

// Set writes entry, replacing any previous record for the key.
func (b *BoltTier) Set(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !entry.ExpiresAt.After(entry.FetchedAt) {
		return fmt.Errorf("bolt tier set %s: expires_at must be after fetched_at", entry.Key)
	}

	record := encodeRecord(entry)
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(responseBucket)).Put([]byte(entry.Key), record)
	}); err != nil {
		return fmt.Errorf("bolt tier set %s: %w", entry.Key, err)
	}

	return nil
}

// Delete removes key.
func (b *BoltTier) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(responseBucket)).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("bolt tier delete %s: %w", key, err)
	}

	return nil
}

// PurgeExpired deletes every record expired at now and returns how many were removed.
// Expiry is evaluated inside the write transaction, so a record refreshed
// concurrently is never removed.
func (b *BoltTier) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(responseBucket))
		var stale [][]byte
		if err := bucket.ForEach(func(key, raw []byte) error {
			if len(raw) < recordHeader || !now.Before(recordExpiry(raw)) {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt tier purge expired: %w", err)
	}

	return removed, nil
}

// Len counts stored records, expired or not.
func (b *BoltTier) Len() (int, error) {
	count := 0
	err := b.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket([]byte(responseBucket)).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt tier len: %w", err)
	}

	return count, nil
}

func (b *BoltTier) deleteIfExpired(key string, now time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(responseBucket))
		raw := bucket.Get([]byte(key))
		if raw == nil || (len(raw) >= recordHeader && now.Before(recordExpiry(raw))) {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func encodeRecord(entry Entry) []byte {
	record := make([]byte, recordHeader+len(entry.Value))
	binary.BigEndian.PutUint64(record[0:8], uint64(entry.ExpiresAt.UnixNano()))
	binary.BigEndian.PutUint64(record[8:16], uint64(entry.FetchedAt.UnixNano()))
	copy(record[recordHeader:], entry.Value)

	return record
}

func decodeRecord(key string, raw []byte) (Entry, error) {
	if len(raw) < recordHeader {
		return Entry{}, fmt.Errorf("corrupt record: %d bytes", len(raw))
	}

	return Entry{
		Key:       key,
		Value:     append([]byte(nil), raw[recordHeader:]...),
		ExpiresAt: recordExpiry(raw),
		FetchedAt: time.Unix(0, int64(binary.BigEndian.Uint64(raw[8:16]))),
	}, nil
}

func recordExpiry(raw []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw[0:8])))
}

var _ Tier = (*BoltTier)(nil)
