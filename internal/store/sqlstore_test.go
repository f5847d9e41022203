package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	// A shared-cache memory database survives gorm's connection pooling.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := Open(dsn, newTestLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func seedMessages(t *testing.T, s *SQLStore, sender, recipient string, n int) []*Message {
	t.Helper()
	msgs := make([]*Message, 0, n)
	for i := 0; i < n; i++ {
		msg, err := s.CreateMessage(context.Background(), sender, recipient, fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		msgs = append(msgs, msg)
		time.Sleep(time.Millisecond) // distinct created_at ordering
	}
	return msgs
}

// --- Messages ---

func TestUnreadCountAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	seedMessages(t, s, alice, bob, 3)

	count, err := s.CountUnreadMessages(ctx, bob)
	if err != nil {
		t.Fatalf("CountUnreadMessages failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 unread, got %d", count)
	}

	until, err := s.MarkThreadRead(ctx, bob, alice)
	if err != nil {
		t.Fatalf("MarkThreadRead failed: %v", err)
	}
	if until == nil {
		t.Fatal("Expected a watermark after reading a non-empty thread")
	}

	count, _ = s.CountUnreadMessages(ctx, bob)
	if count != 0 {
		t.Errorf("Expected 0 unread after mark read, got %d", count)
	}
}

func TestMarkThreadReadWatermarkIsLatestMessageTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	msgs := seedMessages(t, s, alice, bob, 3)
	latest := msgs[len(msgs)-1]

	until, err := s.MarkThreadRead(ctx, bob, alice)
	if err != nil {
		t.Fatalf("MarkThreadRead failed: %v", err)
	}
	if until == nil || !until.Equal(latest.CreatedAt) {
		t.Errorf("Watermark must be the latest read message's own timestamp.\nwant %v\ngot  %v", latest.CreatedAt, until)
	}
}

func TestMarkThreadReadEmptyThread(t *testing.T) {
	s := newTestStore(t)
	until, err := s.MarkThreadRead(context.Background(), uuid.NewString(), uuid.NewString())
	if err != nil {
		t.Fatalf("MarkThreadRead failed: %v", err)
	}
	if until != nil {
		t.Errorf("Expected nil watermark for an empty thread, got %v", until)
	}
}

func TestSoftDeleteVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	msgs := seedMessages(t, s, alice, bob, 2)

	modified, err := s.SoftDeleteMessages(ctx, bob, []string{msgs[0].ID})
	if err != nil {
		t.Fatalf("SoftDeleteMessages failed: %v", err)
	}
	if modified != 1 {
		t.Fatalf("Expected 1 deletion row, got %d", modified)
	}

	// Hidden for bob everywhere.
	count, _ := s.CountUnreadMessages(ctx, bob)
	if count != 1 {
		t.Errorf("Expected 1 unread for bob after soft delete, got %d", count)
	}
	thread, _ := s.Thread(ctx, bob, alice, time.Now().UTC().Add(time.Hour), 0)
	if len(thread) != 1 {
		t.Errorf("Expected 1 visible message for bob, got %d", len(thread))
	}

	// Still fully visible for alice.
	thread, _ = s.Thread(ctx, alice, bob, time.Now().UTC().Add(time.Hour), 0)
	if len(thread) != 2 {
		t.Errorf("Soft delete must not affect the other party, alice sees %d", len(thread))
	}
}

func TestSoftDeleteThreadHidesBothDirections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	seedMessages(t, s, alice, bob, 2)
	seedMessages(t, s, bob, alice, 1)

	modified, err := s.SoftDeleteThreads(ctx, bob, []string{alice})
	if err != nil {
		t.Fatalf("SoftDeleteThreads failed: %v", err)
	}
	if modified != 3 {
		t.Fatalf("Expected 3 deletion rows, got %d", modified)
	}

	thread, _ := s.Thread(ctx, bob, alice, time.Now().UTC().Add(time.Hour), 0)
	if len(thread) != 0 {
		t.Errorf("Expected empty thread for bob, got %d messages", len(thread))
	}
	thread, _ = s.Thread(ctx, alice, bob, time.Now().UTC().Add(time.Hour), 0)
	if len(thread) != 3 {
		t.Errorf("Alice must still see the whole thread, got %d", len(thread))
	}
}

func TestSoftDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()
	msgs := seedMessages(t, s, alice, bob, 1)

	if _, err := s.SoftDeleteMessages(ctx, bob, []string{msgs[0].ID}); err != nil {
		t.Fatalf("First soft delete failed: %v", err)
	}
	modified, err := s.SoftDeleteMessages(ctx, bob, []string{msgs[0].ID})
	if err != nil {
		t.Fatalf("Repeated soft delete failed: %v", err)
	}
	if modified != 0 {
		t.Errorf("Repeated soft delete should insert nothing, got %d", modified)
	}
}

// --- Notifications ---

func TestNotificationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bob := uuid.NewString()

	n := &Notification{RecipientID: bob, Type: NotifLike, Message: "liked you"}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	count, _ := s.CountUnreadNotifications(ctx, bob)
	if count != 1 {
		t.Fatalf("Expected 1 unread notification, got %d", count)
	}

	if err := s.MarkNotificationRead(ctx, bob, n.ID); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}
	count, _ = s.CountUnreadNotifications(ctx, bob)
	if count != 0 {
		t.Errorf("Expected 0 unread after mark read, got %d", count)
	}

	if err := s.DismissNotification(ctx, bob, n.ID); err != nil {
		t.Fatalf("DismissNotification failed: %v", err)
	}
	items, _ := s.Notifications(ctx, bob, 0)
	if len(items) != 0 {
		t.Errorf("Dismissed notification must be hidden, got %d items", len(items))
	}
}

func TestNotificationOwnershipEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bob, mallory := uuid.NewString(), uuid.NewString()

	n := &Notification{RecipientID: bob, Type: NotifSystem, Message: "hello"}
	if err := s.CreateNotification(ctx, n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}

	if err := s.MarkNotificationRead(ctx, mallory, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Foreign mark-read must report not found, got %v", err)
	}
	if err := s.DismissNotification(ctx, mallory, n.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Foreign dismiss must report not found, got %v", err)
	}
}

func TestCreateNotificationCoercesType(t *testing.T) {
	s := newTestStore(t)
	bob := uuid.NewString()

	n := &Notification{RecipientID: bob, Type: NotificationType("weird"), Message: "x"}
	if err := s.CreateNotification(context.Background(), n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}
	if n.Type != NotifSystem {
		t.Errorf("Expected type coerced to system, got %q", n.Type)
	}
}

// --- Users & match graph ---

func seedUser(t *testing.T, s *SQLStore, plan string, optIn bool) string {
	t.Helper()
	// The profile service owns user writes; tests insert directly.
	id := uuid.NewString()
	u := &User{ID: id, Username: "u-" + id[:8], Plan: plan, VideoOptIn: optIn, CreatedAt: time.Now().UTC()}
	if err := s.db.Create(u).Error; err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	return id
}

func TestLikeAndMutualMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	matched, err := s.Like(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Like failed: %v", err)
	}
	if matched {
		t.Error("One-directional like must not be a match")
	}
	if ok, _ := s.IsMutualMatch(ctx, alice, bob); ok {
		t.Error("IsMutualMatch must be false with one direction")
	}

	matched, err = s.Like(ctx, bob, alice)
	if err != nil {
		t.Fatalf("Reverse like failed: %v", err)
	}
	if !matched {
		t.Error("Completing the pair must report a match")
	}
	if ok, _ := s.IsMutualMatch(ctx, alice, bob); !ok {
		t.Error("IsMutualMatch must be true with both directions")
	}
}

func TestLikeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	s.Like(ctx, alice, bob)
	if matched, err := s.Like(ctx, alice, bob); err != nil || matched {
		t.Errorf("Repeating a like must not error or match, got matched=%v err=%v", matched, err)
	}
}

func TestEntitlementSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	elite := seedUser(t, s, "elite", false)
	premiumOptIn := seedUser(t, s, "premium", true)
	premiumNoOptIn := seedUser(t, s, "premium", false)
	freeOptIn := seedUser(t, s, "free", true)

	cases := []struct {
		name   string
		userID string
		want   bool
	}{
		{"elite without opt-in", elite, true},
		{"premium with opt-in", premiumOptIn, true},
		{"premium without opt-in", premiumNoOptIn, false},
		{"free with opt-in", freeOptIn, false},
	}
	for _, tc := range cases {
		snap, err := s.Entitlement(ctx, tc.userID)
		if err != nil {
			t.Fatalf("%s: Entitlement failed: %v", tc.name, err)
		}
		if snap.CanVideoChat != tc.want {
			t.Errorf("%s: expected CanVideoChat=%v, got %v", tc.name, tc.want, snap.CanVideoChat)
		}
	}

	if _, err := s.Entitlement(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Unknown user must report not found, got %v", err)
	}
}
