// Package accounts persists chat-user to Last.fm account links and the
// members seen in each conversation, in SQLite.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"fmgram/pkg/fmgram"
	"fmgram/services/accounts/migrations"
)

// ErrUsernameTaken reports a username already linked to another user.
var ErrUsernameTaken = fmgram.ErrUsernameTaken

// Store is the SQLite-backed fmgram.AccountLinkStore.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for link timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens the store at path and applies embedded migrations.
func Open(ctx context.Context, path string, options ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, sqlDB, migrations.FS)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("new migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: time.Now}
	for _, option := range options {
		option(store)
	}

	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Link binds userID to username. Relinking the same user replaces the
// previous username.
func (s *Store) Link(ctx context.Context, userID string, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	username = strings.TrimSpace(username)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if username == "" {
		return fmt.Errorf("username is required")
	}

	now := toMillis(s.now())
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO account_links (user_id, lastfm_username, linked_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   lastfm_username = excluded.lastfm_username,
		   updated_at = excluded.updated_at`,
		userID,
		username,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link %s to %s: %w", userID, username, ErrUsernameTaken)
		}
		return fmt.Errorf("link %s: %w", userID, err)
	}
	return nil
}

// Unlink removes the link for userID.
func (s *Store) Unlink(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM account_links WHERE user_id = ?`, strings.TrimSpace(userID))
	if err != nil {
		return false, fmt.Errorf("unlink %s: %w", userID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlink %s rows affected: %w", userID, err)
	}
	return affected > 0, nil
}

// Username returns the username linked to userID.
func (s *Store) Username(ctx context.Context, userID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var username string
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT lastfm_username FROM account_links WHERE user_id = ?`,
		strings.TrimSpace(userID),
	).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", userID, err)
	}
	return username, true, nil
}

// TouchMember records activity of userID in conversationID. An older
// seenAt never moves last_seen_at backwards.
func (s *Store) TouchMember(ctx context.Context, conversationID string, userID string, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(userID) == "" {
		return fmt.Errorf("conversation id and user id are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, last_seen_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET
		   last_seen_at = MAX(last_seen_at, excluded.last_seen_at)`,
		conversationID,
		userID,
		toMillis(seenAt),
	)
	if err != nil {
		return fmt.Errorf("touch member %s in %s: %w", userID, conversationID, err)
	}
	return nil
}

// LinkedMembers returns linked accounts among members seen in
// conversationID.
func (s *Store) LinkedMembers(ctx context.Context, conversationID string) ([]fmgram.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT l.user_id, l.lastfm_username
		   FROM conversation_members m
		   JOIN account_links l ON l.user_id = m.user_id
		  WHERE m.conversation_id = ?
		  ORDER BY l.user_id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list linked members of %s: %w", conversationID, err)
	}
	defer rows.Close()

	var accounts []fmgram.LinkedAccount
	for rows.Next() {
		var account fmgram.LinkedAccount
		if err := rows.Scan(&account.UserID, &account.Username); err != nil {
			return nil, fmt.Errorf("scan linked member: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked members: %w", err)
	}
	return accounts, nil
}

// PruneMembers forgets members not seen since cutoff.
func (s *Store) PruneMembers(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM conversation_members WHERE last_seen_at < ?`, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune members: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune members rows affected: %w", err)
	}
	return affected, nil
}

// Optimize runs SQLite's planner maintenance and a WAL checkpoint.
func (s *Store) Optimize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `PRAGMA optimize`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed")
}

var _ fmgram.AccountLinkStore = (*Store)(nil)
