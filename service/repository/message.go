package repository

import (
	"context"

	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/frame/datastore/pool"
	"github.com/pitabwire/frame/workerpool"

	"github.com/antinvestor/service-messaging/service/models"
)

type messageRepository struct {
	datastore.BaseRepository[*models.Message]
}

// UpdateStatus advances a message through its delivery lifecycle. The update
// is conditional on the stored status being lower than the requested one, so
// a late DELIVERED receipt can never regress a message already marked READ.
func (mr *messageRepository) UpdateStatus(
	ctx context.Context, id string, status models.MessageStatus,
) (*models.Message, error) {
	result := mr.Pool().DB(ctx, false).
		Model(&models.Message{}).
		Where("id = ? AND status < ?", id, status).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}

	message := &models.Message{}
	err := mr.Pool().DB(ctx, true).First(message, "id = ?", id).Error
	if err != nil {
		if data.ErrorIsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return message, nil
}

// GetConversation retrieves the message history between two profiles in
// chronological order.
func (mr *messageRepository) GetConversation(
	ctx context.Context, profileID, peerID string, limit int,
) ([]*models.Message, error) {
	var messages []*models.Message
	query := mr.Pool().DB(ctx, true).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			profileID, peerID, peerID, profileID).
		Order("created_at ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	err := query.Find(&messages).Error
	return messages, err
}

// GetByReceiverAndStatus retrieves a receiver's messages in a given status,
// oldest first.
func (mr *messageRepository) GetByReceiverAndStatus(
	ctx context.Context, receiverID string, status models.MessageStatus,
) ([]*models.Message, error) {
	var messages []*models.Message
	err := mr.Pool().DB(ctx, true).
		Where("receiver_id = ? AND status = ?", receiverID, status).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

// NewMessageRepository creates a new message repository instance.
func NewMessageRepository(ctx context.Context, dbPool pool.Pool, workMan workerpool.Manager) MessageRepository {
	return &messageRepository{
		BaseRepository: datastore.NewBaseRepository[*models.Message](
			ctx, dbPool, workMan, func() *models.Message { return &models.Message{} },
		),
	}
}
