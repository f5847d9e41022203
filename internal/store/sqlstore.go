package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/helenkilolo/afrovibe/pkg/entitlement"
)

// SQLStore implements Store on gorm over SQLite.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*SQLStore)(nil)

func Open(dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&User{}, &Like{},
		&Message{}, &MessageDeletion{},
		&Notification{}, &NotificationDeletion{},
	); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, logger: logger.With(slog.String("component", "sql_store"))}, nil
}

// notDeletedMessages scopes a message query to rows visible to userID.
func notDeletedMessages(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"NOT EXISTS (SELECT 1 FROM message_deletions md WHERE md.message_id = messages.id AND md.user_id = ?)",
			userID,
		)
	}
}

func notDeletedNotifications(userID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			"NOT EXISTS (SELECT 1 FROM notification_deletions nd WHERE nd.notification_id = notifications.id AND nd.user_id = ?)",
			userID,
		)
	}
}

// --- Messages ---

func (s *SQLStore) CreateMessage(ctx context.Context, senderID, recipientID, content string) (*Message, error) {
	msg := &Message{
		ID:          ulid.Make().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		Read:        false,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLStore) CountUnreadMessages(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("recipient_id = ? AND read = ?", userID, false).
		Scopes(notDeletedMessages(userID)).
		Count(&n).Error
	return n, err
}

func (s *SQLStore) MarkThreadRead(ctx context.Context, readerID, peerID string) (*time.Time, error) {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("sender_id = ? AND recipient_id = ? AND read = ?", peerID, readerID, false).
		Scopes(notDeletedMessages(readerID)).
		Updates(map[string]any{"read": true, "read_at": now}).Error
	if err != nil {
		return nil, err
	}

	// The watermark is the latest now-read message's own timestamp, not the
	// read action's: out-of-order delivery then still converges client-side.
	var latest Message
	err = s.db.WithContext(ctx).
		Where("sender_id = ? AND recipient_id = ? AND read = ?", peerID, readerID, true).
		Scopes(notDeletedMessages(readerID)).
		Order("created_at DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &latest.CreatedAt, nil
}

func (s *SQLStore) Thread(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	var msgs []Message
	err := s.db.WithContext(ctx).
		Where(
			"((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))",
			userID, peerID, peerID, userID,
		).
		Where("created_at < ?", before).
		Scopes(notDeletedMessages(userID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *SQLStore) SoftDeleteMessages(ctx context.Context, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Exec(
		`INSERT OR IGNORE INTO message_deletions (message_id, user_id, created_at)
		 SELECT id, ?, ? FROM messages
		 WHERE id IN ? AND (sender_id = ? OR recipient_id = ?)`,
		userID, time.Now().UTC(), messageIDs, userID, userID,
	)
	return res.RowsAffected, res.Error
}

func (s *SQLStore) SoftDeleteThreads(ctx context.Context, userID string, peerIDs []string) (int64, error) {
	if len(peerIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Exec(
		`INSERT OR IGNORE INTO message_deletions (message_id, user_id, created_at)
		 SELECT id, ?, ? FROM messages
		 WHERE (sender_id = ? AND recipient_id IN ?) OR (recipient_id = ? AND sender_id IN ?)`,
		userID, time.Now().UTC(), userID, peerIDs, userID, peerIDs,
	)
	return res.RowsAffected, res.Error
}

// --- Notifications ---

func (s *SQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	n.Type = CoerceNotifType(n.Type)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(n).Error
}

func (s *SQLStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND read = ?", userID, false).
		Scopes(notDeletedNotifications(userID)).
		Count(&n).Error
	return n, err
}

func (s *SQLStore) MarkNotificationRead(ctx context.Context, userID, notifID string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND recipient_id = ?", notifID, userID).
		Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND read = ?", userID, false).
		Scopes(notDeletedNotifications(userID)).
		Update("read", true).Error
}

func (s *SQLStore) DismissNotification(ctx context.Context, userID, notifID string) error {
	res := s.db.WithContext(ctx).Exec(
		`INSERT OR IGNORE INTO notification_deletions (notification_id, user_id, created_at)
		 SELECT id, ?, ? FROM notifications WHERE id = ? AND recipient_id = ?`,
		userID, time.Now().UTC(), notifID, userID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Notifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var items []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Scopes(notDeletedNotifications(userID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// --- Users & match graph ---

func (s *SQLStore) User(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLStore) Entitlement(ctx context.Context, userID string) (entitlement.Snapshot, error) {
	u, err := s.User(ctx, userID)
	if err != nil {
		return entitlement.Snapshot{}, err
	}
	return entitlement.NewSnapshot(entitlement.ParsePlan(u.Plan), u.VideoOptIn), nil
}

func (s *SQLStore) IsMutualMatch(ctx context.Context, a, b string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Like{}).
		Where("(actor_id = ? AND recipient_id = ?) OR (actor_id = ? AND recipient_id = ?)", a, b, b, a).
		Count(&n).Error
	return n == 2, err
}

func (s *SQLStore) Like(ctx context.Context, actorID, recipientID string) (bool, error) {
	like := Like{ActorID: actorID, RecipientID: recipientID, CreatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&like).Error
	if err != nil {
		return false, err
	}

	var n int64
	err = s.db.WithContext(ctx).Model(&Like{}).
		Where("actor_id = ? AND recipient_id = ?", recipientID, actorID).
		Count(&n).Error
	return n > 0, err
}
