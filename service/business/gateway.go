package business

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/internal"
	msgtel "github.com/antinvestor/service-messaging/internal/telemetry"
	"github.com/antinvestor/service-messaging/service"
	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
)

// NotificationPublisher hands message activity to the fanout pipeline.
type NotificationPublisher interface {
	PublishMessageNotification(ctx context.Context, message *models.Message) error
	PublishReadNotification(ctx context.Context, message *models.Message) error
}

// SessionGateway owns the messaging channel: it runs the per-connection
// event loop, authenticates sessions, persists and delivers messages, and
// replays a receiver's backlog when they come back online.
type SessionGateway struct {
	cfg         *config.MessagingConfig
	registry    *Registry
	retryQueue  *RetryQueue
	verifier    internal.TokenVerifier
	messageRepo repository.MessageRepository
	notifier    NotificationPublisher

	sessions *sessionSet
}

func NewSessionGateway(
	cfg *config.MessagingConfig,
	registry *Registry,
	retryQueue *RetryQueue,
	verifier internal.TokenVerifier,
	messageRepo repository.MessageRepository,
	notifier NotificationPublisher,
) *SessionGateway {
	gw := &SessionGateway{
		cfg:         cfg,
		registry:    registry,
		retryQueue:  retryQueue,
		verifier:    verifier,
		messageRepo: messageRepo,
		notifier:    notifier,
		sessions:    newSessionSet(cfg.MaxConnections),
	}
	registry.Subscribe(gw)
	return gw
}

// Registry exposes the gateway's connection registry.
func (gw *SessionGateway) Registry() *Registry {
	return gw.registry
}

// CheckCapacity reports an error when the session set is full. Used as a
// readiness signal.
func (gw *SessionGateway) CheckCapacity(_ context.Context) error {
	if gw.cfg.MaxConnections > 0 && gw.sessions.len() >= gw.cfg.MaxConnections {
		return service.ErrConnectionsAtLimit
	}
	return nil
}

// HandleConnection runs the event loop for one client connection. It returns
// when the transport closes or the session commits a terminal protocol
// violation; the caller owns closing the transport.
func (gw *SessionGateway) HandleConnection(ctx context.Context, stream ClientStream) error {
	sess := &Session{
		id:     util.IDString(),
		state:  StateConnected,
		stream: stream,
	}

	if err := gw.sessions.add(sess); err != nil {
		msgtel.ConnectionsRejectedCounter.Add(ctx, 1)
		_ = sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: err.Error()}})
		return err
	}
	msgtel.ConnectionsOpenedCounter.Add(ctx, 1)

	log := util.Log(ctx).WithField("connection_id", sess.id)
	log.Debug("client connected")
	defer gw.teardown(ctx, sess)

	for {
		frame, err := stream.Receive()
		if err != nil {
			log.WithError(err).Debug("client stream closed")
			return nil
		}

		if err = gw.dispatch(ctx, sess, frame); err != nil {
			return err
		}
	}
}

// EmitToProfile pushes an event to a profile's live session if one exists.
func (gw *SessionGateway) EmitToProfile(ctx context.Context, profileID string, event *ServerEvent) bool {
	connectionID, ok := gw.registry.ConnectionOf(profileID)
	if !ok {
		return false
	}
	sess, ok := gw.sessions.get(connectionID)
	if !ok {
		return false
	}

	if err := sess.Send(event); err != nil {
		util.Log(ctx).WithError(err).
			WithField("profile_id", profileID).
			Debug("failed to emit event to live session")
		return false
	}
	return true
}

// ConnectionBound replays the profile's buffered backlog as soon as it has a
// live connection again.
func (gw *SessionGateway) ConnectionBound(ctx context.Context, connectionID, profileID string) {
	gw.replayBacklog(ctx, connectionID, profileID)
}

func (gw *SessionGateway) ConnectionUnbound(_ context.Context, _, _ string) {}

func (gw *SessionGateway) teardown(ctx context.Context, sess *Session) {
	sess.state = StateClosed
	gw.sessions.remove(sess.id)
	gw.registry.Unbind(ctx, sess.id)
	util.Log(ctx).WithField("connection_id", sess.id).Debug("client disconnected")
}

func (gw *SessionGateway) dispatch(ctx context.Context, sess *Session, frame *ClientFrame) error {
	switch frame.Event {
	case EventAuth:
		return gw.handleAuth(ctx, sess, frame.Data)
	case EventSendMessage:
		return gw.handleSendMessage(ctx, sess, frame.Data)
	case EventReadMessage:
		return gw.handleReadMessage(ctx, sess, frame.Data)
	case EventRetryPending:
		return gw.handleRetryPending(ctx, sess)
	default:
		util.Log(ctx).
			WithField("connection_id", sess.id).
			WithField("event", frame.Event).
			Debug("ignoring unknown event")
		return nil
	}
}

// handleAuth verifies the presented token and binds the session to the
// profile it identifies. A failed verification closes the connection.
//
//nolint:nonamedreturns // named return required for deferred tracing
func (gw *SessionGateway) handleAuth(ctx context.Context, sess *Session, data json.RawMessage) (err error) {
	ctx, span := msgtel.GatewayTracer.Start(ctx, "Authenticate")
	defer func() { msgtel.GatewayTracer.End(ctx, span, err) }()

	payload := AuthPayload{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			util.Log(ctx).WithError(err).Debug("malformed auth payload")
		}
	}

	profileID, err := gw.verifier.Verify(ctx, payload.Token)
	if err != nil {
		msgtel.ConnectionsRejectedCounter.Add(ctx, 1)
		_ = sess.Send(&ServerEvent{Event: EventAuthFailed, Data: ErrorPayload{Message: err.Error()}})
		return service.ErrAuthenticationFailed
	}

	sess.profileID = profileID
	sess.state = StateAuthenticated
	msgtel.ConnectionsAuthenticatedCounter.Add(ctx, 1)

	if err = sess.Send(&ServerEvent{Event: EventAuthSuccess, Data: AuthSuccessPayload{UserID: profileID}}); err != nil {
		util.Log(ctx).WithError(err).Debug("failed to confirm auth")
	}

	// Binding triggers the backlog replay observer, so the confirmation
	// above always precedes replayed messages.
	gw.registry.Bind(ctx, sess.id, profileID)
	return nil
}

//nolint:nonamedreturns // named return required for deferred tracing
func (gw *SessionGateway) handleSendMessage(ctx context.Context, sess *Session, data json.RawMessage) (err error) {
	ctx, span := msgtel.DeliveryTracer.Start(ctx, "SendMessage")
	defer func() { msgtel.DeliveryTracer.End(ctx, span, err) }()

	if sess.state != StateAuthenticated {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrNotAuthenticated.Error()}})
	}

	payload := SendMessagePayload{}
	if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: "malformed send_message payload"}})
	}
	if payload.ReceiverID == "" {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrReceiverRequired.Error()}})
	}
	if payload.Content == "" {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrContentRequired.Error()}})
	}

	message := &models.Message{
		SenderID:   sess.profileID,
		ReceiverID: payload.ReceiverID,
		Content:    payload.Content,
		Status:     models.MessageStatusSent,
	}
	if saveErr := gw.messageRepo.Create(ctx, message); saveErr != nil {
		msgtel.MessagesFailedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(saveErr).Error("failed to persist message")
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrMessageNotSaved.Error()}})
	}
	msgtel.MessagesSentCounter.Add(ctx, 1)

	status := models.MessageStatusSent
	if gw.deliverLive(ctx, message) {
		status = models.MessageStatusDelivered
	} else {
		gw.retryQueue.Enqueue(ctx, message.ReceiverID, message)
		msgtel.MessagesQueuedCounter.Add(ctx, 1)

		// The receiver may have authenticated between the liveness check
		// and the enqueue; replay immediately so the message is not stuck
		// until their next reconnect.
		if connectionID, online := gw.registry.ConnectionOf(message.ReceiverID); online {
			gw.replayBacklog(ctx, connectionID, message.ReceiverID)
		}
	}

	if ackErr := sess.Send(&ServerEvent{
		Event: EventMessageStatus,
		Data:  StatusPayload{ID: message.GetID(), Status: status.String()},
	}); ackErr != nil {
		util.Log(ctx).WithError(ackErr).Debug("failed to ack message status")
	}

	if pubErr := gw.notifier.PublishMessageNotification(ctx, message); pubErr != nil {
		msgtel.NotificationsFailedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(pubErr).Error("failed to publish message notification")
	}
	return nil
}

// deliverLive attempts immediate delivery to the receiver's live session,
// marking the message DELIVERED first so the receiver never observes a SENT
// copy of something on its screen.
func (gw *SessionGateway) deliverLive(ctx context.Context, message *models.Message) bool {
	connectionID, ok := gw.registry.ConnectionOf(message.ReceiverID)
	if !ok {
		return false
	}
	target, ok := gw.sessions.get(connectionID)
	if !ok {
		return false
	}

	delivered, err := gw.messageRepo.UpdateStatus(ctx, message.GetID(), models.MessageStatusDelivered)
	if err != nil || delivered == nil {
		util.Log(ctx).WithError(err).
			WithField("message_id", message.GetID()).
			Error("failed to mark message delivered")
		return false
	}

	if err = target.Send(&ServerEvent{Event: EventReceiveMessage, Data: delivered.ToAPI()}); err != nil {
		util.Log(ctx).WithError(err).
			WithField("receiver_id", message.ReceiverID).
			Debug("live delivery failed, buffering for retry")
		return false
	}

	msgtel.MessagesDeliveredCounter.Add(ctx, 1)
	if !message.CreatedAt.IsZero() {
		msgtel.DeliveryLatencyHistogram.Record(ctx, float64(time.Since(message.CreatedAt).Milliseconds()))
	}
	return true
}

//nolint:nonamedreturns // named return required for deferred tracing
func (gw *SessionGateway) handleReadMessage(ctx context.Context, sess *Session, data json.RawMessage) (err error) {
	ctx, span := msgtel.DeliveryTracer.Start(ctx, "ReadMessage")
	defer func() { msgtel.DeliveryTracer.End(ctx, span, err) }()

	if sess.state != StateAuthenticated {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrNotAuthenticated.Error()}})
	}

	payload := ReadMessagePayload{}
	if jsonErr := json.Unmarshal(data, &payload); jsonErr != nil || payload.MessageID == "" {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrMessageIDRequired.Error()}})
	}

	read, updateErr := gw.messageRepo.UpdateStatus(ctx, payload.MessageID, models.MessageStatusRead)
	if updateErr != nil {
		util.Log(ctx).WithError(updateErr).
			WithField("message_id", payload.MessageID).
			Error("failed to mark message read")
		return nil
	}
	if read == nil {
		// Unknown message IDs are ignored so a stale receipt cannot leak
		// information about other conversations.
		return nil
	}

	gw.EmitToProfile(ctx, read.SenderID, &ServerEvent{
		Event: EventMessageStatus,
		Data:  StatusPayload{ID: read.GetID(), Status: read.Status.String()},
	})

	if pubErr := gw.notifier.PublishReadNotification(ctx, read); pubErr != nil {
		msgtel.NotificationsFailedCounter.Add(ctx, 1)
		util.Log(ctx).WithError(pubErr).Error("failed to publish read notification")
	}
	return nil
}

func (gw *SessionGateway) handleRetryPending(ctx context.Context, sess *Session) error {
	if sess.state != StateAuthenticated {
		return sess.Send(&ServerEvent{Event: EventError, Data: ErrorPayload{Message: service.ErrNotAuthenticated.Error()}})
	}
	gw.replayBacklog(ctx, sess.id, sess.profileID)
	return nil
}

// replayBacklog drains the profile's buffered messages and delivers them in
// arrival order, marking each DELIVERED before sending. If the connection
// dies mid replay the unsent remainder is requeued in order.
func (gw *SessionGateway) replayBacklog(ctx context.Context, connectionID, profileID string) {
	entries := gw.retryQueue.Drain(profileID)
	if len(entries) == 0 {
		return
	}

	sess, ok := gw.sessions.get(connectionID)
	if !ok {
		gw.requeue(ctx, profileID, entries)
		return
	}

	log := util.Log(ctx).WithField("profile_id", profileID)
	log.WithField("count", len(entries)).Debug("replaying buffered messages")

	for i, message := range entries {
		delivered, err := gw.messageRepo.UpdateStatus(ctx, message.GetID(), models.MessageStatusDelivered)
		if err != nil {
			log.WithError(err).WithField("message_id", message.GetID()).
				Error("failed to mark buffered message delivered")
			delivered = message
		}
		if delivered == nil {
			// Deleted while buffered; nothing left to deliver.
			continue
		}

		if sendErr := sess.Send(&ServerEvent{Event: EventReceiveMessage, Data: delivered.ToAPI()}); sendErr != nil {
			log.WithError(sendErr).Debug("replay interrupted, requeueing remainder")
			gw.requeue(ctx, profileID, entries[i:])
			return
		}
		msgtel.MessagesReplayedCounter.Add(ctx, 1)
	}
}

func (gw *SessionGateway) requeue(ctx context.Context, profileID string, entries []*models.Message) {
	for _, message := range entries {
		gw.retryQueue.Enqueue(ctx, profileID, message)
	}
}

var _ Observer = (*SessionGateway)(nil)
var _ LiveEmitter = (*SessionGateway)(nil)
