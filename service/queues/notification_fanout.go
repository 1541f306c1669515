package queues

import (
	"context"
	"encoding/json"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/internal/resilience"
	msgtel "github.com/antinvestor/service-messaging/internal/telemetry"
	"github.com/antinvestor/service-messaging/service/business"
	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
)

// notificationFanoutQueueHandler consumes notification events off a fanout
// shard, persists them for later retrieval and pushes them to the target's
// live connection if one exists. The whole pipeline is best effort: failures
// are logged and the event dropped rather than redelivered, since the
// message itself is already durable.
type notificationFanoutQueueHandler struct {
	notificationRepo repository.NotificationRepository
	emitter          business.LiveEmitter
	breaker          *resilience.CircuitBreaker
}

func NewNotificationFanoutQueueHandler(
	notificationRepo repository.NotificationRepository,
	emitter business.LiveEmitter,
) queue.SubscribeWorker {
	return &notificationFanoutQueueHandler{
		notificationRepo: notificationRepo,
		emitter:          emitter,
		breaker:          resilience.NewCircuitBreaker(resilience.DefaultSettings("notification-store")),
	}
}

//nolint:nonamedreturns // named return required for deferred tracing
func (nfh *notificationFanoutQueueHandler) Handle(
	ctx context.Context, _ map[string]string, payload []byte,
) (err error) {
	ctx, span := msgtel.NotificationTracer.Start(ctx, "NotificationFanout")
	defer func() { msgtel.NotificationTracer.End(ctx, span, err) }()

	event := &NotificationEvent{}
	if unmarshalErr := json.Unmarshal(payload, event); unmarshalErr != nil {
		util.Log(ctx).WithError(unmarshalErr).Error("failed to unmarshal notification event")
		return nil
	}
	if event.TargetID == "" {
		util.Log(ctx).Warn("notification event has no target, skipping")
		return nil
	}

	notification := &models.Notification{
		TargetID:  event.TargetID,
		Title:     event.Title,
		Content:   event.Content,
		SourceID:  event.SourceID,
		MessageID: event.MessageID,
	}

	storeErr := nfh.breaker.Execute(func() error {
		return nfh.notificationRepo.Create(ctx, notification)
	})
	if storeErr != nil {
		msgtel.NotificationsFailedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(storeErr).
			WithField("target_id", event.TargetID).
			Error("failed to persist notification")
	} else {
		msgtel.NotificationsPersistedCounter.Add(ctx, 1)
	}

	live := nfh.emitter.EmitToProfile(ctx, event.TargetID, &business.ServerEvent{
		Event: business.EventNotification,
		Data: business.NotificationPayload{
			ID:        notification.GetID(),
			Title:     event.Title,
			Content:   event.Content,
			SenderID:  event.SourceID,
			MessageID: event.MessageID,
			Status:    event.Status,
		},
	})
	if live {
		msgtel.NotificationsEmittedCounter.Add(ctx, 1)
	}

	return nil
}
