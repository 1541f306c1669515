package repository

import (
	"context"
	"time"

	"github.com/pitabwire/frame/datastore"

	"github.com/antinvestor/service-messaging/service/models"
)

// MessageRepository defines the interface for message data access operations.
type MessageRepository interface {
	datastore.BaseRepository[*models.Message]
	// UpdateStatus advances a message to the given status. The update only
	// applies when it moves the status forward; stale or duplicate receipts
	// leave the row untouched. Returns (nil, nil) when the ID is unknown.
	UpdateStatus(ctx context.Context, id string, status models.MessageStatus) (*models.Message, error)
	GetConversation(ctx context.Context, profileID, peerID string, limit int) ([]*models.Message, error)
	GetByReceiverAndStatus(ctx context.Context, receiverID string, status models.MessageStatus) ([]*models.Message, error)
}

// NotificationRepository defines the interface for notification data access operations.
type NotificationRepository interface {
	datastore.BaseRepository[*models.Notification]
	GetByTargetID(ctx context.Context, targetID string, limit int) ([]*models.Notification, error)
	MarkAsRead(ctx context.Context, id string) error
	CountUnread(ctx context.Context, targetID string) (int64, error)
}

// PresenceRepository defines the interface for presence data access operations.
type PresenceRepository interface {
	datastore.BaseRepository[*models.PresenceRecord]
	SetOnline(ctx context.Context, profileID string) error
	SetOffline(ctx context.Context, profileID string, lastSeen time.Time) error
	GetByProfileID(ctx context.Context, profileID string) (*models.PresenceRecord, error)
	ListOnline(ctx context.Context) ([]*models.PresenceRecord, error)
}
