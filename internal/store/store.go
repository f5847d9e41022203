package store

import (
	"context"
	"errors"
	"time"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

var ErrNotFound = errors.New("store: not found")

// MessageStore is the persistence contract the realtime core depends on.
// Every read honors the visibility invariant: a message soft-deleted for a
// user never appears in that user's counts or threads.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, recipientID, content string) (*Message, error)
	CountUnreadMessages(ctx context.Context, userID string) (int64, error)

	// MarkThreadRead flips the read flag on every visible unread message
	// from peer to reader and returns the created-at of the latest message
	// now read, which becomes the peer's read watermark. Nil when the
	// thread holds nothing readable.
	MarkThreadRead(ctx context.Context, readerID, peerID string) (*time.Time, error)

	Thread(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]Message, error)
	SoftDeleteMessages(ctx context.Context, userID string, messageIDs []string) (int64, error)
	SoftDeleteThreads(ctx context.Context, userID string, peerIDs []string) (int64, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, userID, notifID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) error
	DismissNotification(ctx context.Context, userID, notifID string) error
	Notifications(ctx context.Context, userID string, limit int) ([]Notification, error)
}

type UserStore interface {
	User(ctx context.Context, userID string) (*User, error)

	// Entitlement resolves the snapshot cached per connection.
	Entitlement(ctx context.Context, userID string) (entitlement.Snapshot, error)

	// IsMutualMatch reports whether both users appear in each other's like
	// sets. This gates every message send.
	IsMutualMatch(ctx context.Context, a, b string) (bool, error)

	// Like records a directed like and reports whether it completed a
	// mutual match.
	Like(ctx context.Context, actorID, recipientID string) (bool, error)
}

type Store interface {
	MessageStore
	NotificationStore
	UserStore
}
