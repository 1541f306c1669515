package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/internal"
	msgtel "github.com/antinvestor/service-messaging/internal/telemetry"
	"github.com/antinvestor/service-messaging/service/business"
)

// DeadLetterPublisher moves undeliverable work onto the dead letter queue so
// nothing is silently discarded. It receives retry backlog entries evicted
// by the per receiver depth cap.
type DeadLetterPublisher struct {
	cfg  *config.MessagingConfig
	qMan queue.Manager
}

func NewDeadLetterPublisher(cfg *config.MessagingConfig, qMan queue.Manager) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		cfg:  cfg,
		qMan: qMan,
	}
}

// Publish sends a payload to the dead letter queue with context headers for
// diagnostics.
func (dlp *DeadLetterPublisher) Publish(
	ctx context.Context,
	msg any,
	originalQueue string,
	reason string,
	headers map[string]string,
) error {
	topic, err := dlp.qMan.GetPublisher(dlp.cfg.QueueDeadLetterName)
	if err != nil {
		return fmt.Errorf("failed to get dead-letter publisher: %w", err)
	}

	dlqHeaders := make(map[string]string, len(headers)+2)
	maps.Copy(dlqHeaders, headers)
	dlqHeaders[internal.HeaderDLQOriginalQueue] = originalQueue
	dlqHeaders[internal.HeaderDLQReason] = reason

	if pubErr := topic.Publish(ctx, msg, dlqHeaders); pubErr != nil {
		util.Log(ctx).WithError(pubErr).
			WithField("original_queue", originalQueue).
			Error("failed to publish to dead-letter queue")
		return pubErr
	}

	util.Log(ctx).
		WithField("original_queue", originalQueue).
		WithField("reason", reason).
		Warn("entry moved to dead-letter queue")
	return nil
}

// Evicted implements business.EvictionSink for messages dropped off the
// retry backlog when a receiver's cap is exceeded.
func (dlp *DeadLetterPublisher) Evicted(ctx context.Context, entry business.RetryEntry) {
	msgtel.MessagesEvictedCounter.Add(ctx, 1)

	payload, err := json.Marshal(entry.Message.ToAPI())
	if err != nil {
		util.Log(ctx).WithError(err).Error("failed to marshal evicted message")
		return
	}

	headers := map[string]string{
		internal.HeaderReceiverID: entry.ReceiverID,
		internal.HeaderSenderID:   entry.Message.SenderID,
	}
	err = dlp.Publish(ctx, payload, "retry.backlog", "retry backlog depth exceeded", headers)
	if err != nil {
		util.Log(ctx).WithError(err).
			WithField("message_id", entry.Message.GetID()).
			Error("failed to dead-letter evicted message")
	}
}

var _ business.EvictionSink = (*DeadLetterPublisher)(nil)
