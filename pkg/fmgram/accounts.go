package fmgram

import (
	"context"
	"time"
)

// LinkedAccount pairs a chat user with the external listening-service account they linked.
type LinkedAccount struct {
	UserID   string
	Username string
}

// AccountLinkStore persists user to listening-account links and the set of
// users seen per conversation.
type AccountLinkStore interface {
	// Link binds userID to username, replacing any previous link for userID.
	// It returns ErrUsernameTaken when another user already owns username.
	Link(ctx context.Context, userID string, username string) error
	// Unlink removes the link for userID and reports whether one existed.
	Unlink(ctx context.Context, userID string) (bool, error)
	// Username returns the linked username for userID.
	Username(ctx context.Context, userID string) (username string, found bool, err error)
	// TouchMember records that userID was active in conversationID at seenAt.
	TouchMember(ctx context.Context, conversationID string, userID string, seenAt time.Time) error
	// LinkedMembers returns linked accounts of users seen in conversationID,
	// ordered by user ID.
	LinkedMembers(ctx context.Context, conversationID string) ([]LinkedAccount, error)
}
