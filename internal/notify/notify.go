// Package notify keeps each user's realtime-visible unread badges
// consistent with the stores and pushes persisted notifications to their
// rooms. Counts are always re-derived from the store, never incremented in
// place, so redundant recomputes converge on the same value.
package notify

import (
	"context"
	"log/slog"

	"github.com/helenkilolo/afrovibe/internal/metrics"
	"github.com/helenkilolo/afrovibe/internal/realtime"
	"github.com/helenkilolo/afrovibe/internal/store"
	"github.com/helenkilolo/afrovibe/pkg/presence"
)

type Service struct {
	logger        *slog.Logger
	registry      presence.Registry
	messages      store.MessageStore
	notifications store.NotificationStore
}

func NewService(logger *slog.Logger, registry presence.Registry, messages store.MessageStore, notifications store.NotificationStore) *Service {
	return &Service{
		logger:        logger.With(slog.String("component", "notify_service")),
		registry:      registry,
		messages:      messages,
		notifications: notifications,
	}
}

type unreadPayload struct {
	Unread int64 `json:"unread"`
}

// RecomputeMessages refreshes the user's message badge. Safe to call
// redundantly; a store failure costs one stale badge, nothing more.
func (s *Service) RecomputeMessages(ctx context.Context, userID string) {
	n, err := s.messages.CountUnreadMessages(ctx, userID)
	if err != nil {
		s.logger.Error("Unread message count failed", slog.String("userID", userID), slog.Any("error", err))
		return
	}
	s.registry.Deliver(userID, realtime.EvUnreadUpdate, unreadPayload{Unread: n})
}

func (s *Service) RecomputeNotifications(ctx context.Context, userID string) {
	n, err := s.notifications.CountUnreadNotifications(ctx, userID)
	if err != nil {
		s.logger.Error("Unread notification count failed", slog.String("userID", userID), slog.Any("error", err))
		return
	}
	s.registry.Deliver(userID, realtime.EvNotifUpdate, unreadPayload{Unread: n})
}

// Push persists a notification and nudges the recipient's room with the
// notification itself plus a fresh badge count.
func (s *Service) Push(ctx context.Context, n *store.Notification) error {
	n.Type = store.CoerceNotifType(n.Type)
	if err := s.notifications.CreateNotification(ctx, n); err != nil {
		return err
	}
	metrics.NotificationsPushed.WithLabelValues(string(n.Type)).Inc()

	s.registry.Deliver(n.RecipientID, realtime.EvNotify, n)
	s.RecomputeNotifications(ctx, n.RecipientID)
	return nil
}
