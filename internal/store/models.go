package store

import "time"

// Message is a direct message between two matched users. Soft deletion is
// per-user: a deletion row hides the message from that user only, the row
// itself stays until the external retention job removes it.
type Message struct {
	ID          string     `gorm:"primaryKey;size:26" json:"_id"`
	SenderID    string     `gorm:"size:36;not null;index:idx_messages_thread,priority:1" json:"sender"`
	RecipientID string     `gorm:"size:36;not null;index:idx_messages_thread,priority:2" json:"recipient"`
	Content     string     `gorm:"size:4000;not null" json:"content"`
	Read        bool       `gorm:"not null;default:false" json:"read"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"createdAt"`
}

type MessageDeletion struct {
	MessageID string    `gorm:"primaryKey;size:26"`
	UserID    string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
}

// NotificationType is a closed enum; anything else coerces to "system".
type NotificationType string

const (
	NotifLike      NotificationType = "like"
	NotifMatch     NotificationType = "match"
	NotifMessage   NotificationType = "message"
	NotifFavorite  NotificationType = "favorite"
	NotifWave      NotificationType = "wave"
	NotifSystem    NotificationType = "system"
	NotifSuperlike NotificationType = "superlike"
)

var allowedNotifTypes = map[NotificationType]bool{
	NotifLike: true, NotifMatch: true, NotifMessage: true, NotifFavorite: true,
	NotifWave: true, NotifSystem: true, NotifSuperlike: true,
}

// CoerceNotifType keeps the stored type inside the allowlist.
func CoerceNotifType(t NotificationType) NotificationType {
	if allowedNotifTypes[t] {
		return t
	}
	return NotifSystem
}

type Notification struct {
	ID          string           `gorm:"primaryKey;size:26" json:"_id"`
	RecipientID string           `gorm:"size:36;not null;index" json:"recipient"`
	SenderID    *string          `gorm:"size:36" json:"sender,omitempty"` // nil for system notices
	Type        NotificationType `gorm:"size:16;not null" json:"type"`
	Message     string           `gorm:"size:512;not null" json:"message"`
	Extra       map[string]any   `gorm:"serializer:json" json:"extra,omitempty"`
	Read        bool             `gorm:"not null;default:false" json:"read"`
	CreatedAt   time.Time        `gorm:"index" json:"createdAt"`
}

type NotificationDeletion struct {
	NotificationID string    `gorm:"primaryKey;size:26"`
	UserID         string    `gorm:"primaryKey;size:36"`
	CreatedAt      time.Time
}

// Like is one directed edge of the match graph. A mutual match exists when
// both directions are present.
type Like struct {
	ActorID     string    `gorm:"primaryKey;size:36;index:idx_likes_reverse,priority:2"`
	RecipientID string    `gorm:"primaryKey;size:36;index:idx_likes_reverse,priority:1"`
	CreatedAt   time.Time
}

// User carries only what the realtime core needs: the entitlement inputs
// and the safety fields the call-request endpoint checks. Profile data
// lives with the profile service.
type User struct {
	ID         string     `gorm:"primaryKey;size:36" json:"_id"`
	Username   string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Plan       string     `gorm:"size:16;not null;default:free" json:"plan"`
	VideoOptIn bool       `gorm:"not null;default:false" json:"videoChat"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
