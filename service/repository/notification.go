package repository

import (
	"context"

	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"

	"github.com/antinvestor/service-messaging/service/models"
)

type notificationRepository struct {
	datastore.BaseRepository[*models.Notification]
}

// GetByTargetID retrieves notifications for a profile, newest first.
func (nr *notificationRepository) GetByTargetID(
	ctx context.Context, targetID string, limit int,
) ([]*models.Notification, error) {
	var notifications []*models.Notification
	query := nr.Pool().DB(ctx, true).
		Where("target_id = ?", targetID).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&notifications).Error
	return notifications, err
}

// MarkAsRead flags a notification as read. Marking an already read
// notification is a no-op.
func (nr *notificationRepository) MarkAsRead(ctx context.Context, id string) error {
	return nr.Pool().DB(ctx, false).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Update("read", true).Error
}

// CountUnread counts a profile's unread notifications.
func (nr *notificationRepository) CountUnread(ctx context.Context, targetID string) (int64, error) {
	var count int64
	err := nr.Pool().DB(ctx, true).
		Model(&models.Notification{}).
		Where("target_id = ? AND read = ?", targetID, false).
		Count(&count).Error
	return count, err
}

// NewNotificationRepository creates a new notification repository instance.
func NewNotificationRepository(
	ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager,
) NotificationRepository {
	return &notificationRepository{
		BaseRepository: datastore.NewBaseRepository[*models.Notification](
			ctx, dbPool, workMan, func() *models.Notification { return &models.Notification{} },
		),
	}
}
