package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pitabwire/frame/queue"

	"github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/internal"
	"github.com/antinvestor/service-messaging/service/business"
	"github.com/antinvestor/service-messaging/service/models"
)

// NotificationFanoutPublisher routes notification events onto the sharded
// fanout queues. Sharding keys on the target profile so all of one profile's
// notifications stay ordered on a single queue.
type NotificationFanoutPublisher struct {
	cfg  *config.MessagingConfig
	qMan queue.Manager
}

func NewNotificationFanoutPublisher(cfg *config.MessagingConfig, qMan queue.Manager) *NotificationFanoutPublisher {
	return &NotificationFanoutPublisher{
		cfg:  cfg,
		qMan: qMan,
	}
}

// PublishMessageNotification fans out the alert for a freshly sent message.
func (nfp *NotificationFanoutPublisher) PublishMessageNotification(
	ctx context.Context, message *models.Message,
) error {
	return nfp.publish(ctx, &NotificationEvent{
		TargetID:  message.ReceiverID,
		Title:     "New Message",
		Content:   message.Content,
		SourceID:  message.SenderID,
		MessageID: message.GetID(),
	})
}

// PublishReadNotification fans out the read receipt alert back to the
// original sender.
func (nfp *NotificationFanoutPublisher) PublishReadNotification(
	ctx context.Context, message *models.Message,
) error {
	return nfp.publish(ctx, &NotificationEvent{
		TargetID:  message.SenderID,
		Title:     "Message Read",
		Content:   message.Content,
		SourceID:  message.ReceiverID,
		MessageID: message.GetID(),
		Status:    message.Status.String(),
	})
}

func (nfp *NotificationFanoutPublisher) publish(ctx context.Context, event *NotificationEvent) error {
	shardID := internal.ShardForKey(event.TargetID, nfp.cfg.NotificationShardCount)
	queueName := fmt.Sprintf(nfp.cfg.QueueNotificationFanoutName, shardID)

	topic, err := nfp.qMan.GetPublisher(queueName)
	if err != nil {
		return fmt.Errorf("failed to get fanout publisher for shard %d: %w", shardID, err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	headers := map[string]string{
		internal.HeaderReceiverID: event.TargetID,
		internal.HeaderSenderID:   event.SourceID,
		internal.HeaderShardID:    strconv.Itoa(shardID),
	}
	return topic.Publish(ctx, payload, headers)
}

var _ business.NotificationPublisher = (*NotificationFanoutPublisher)(nil)
