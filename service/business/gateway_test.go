package business

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/service-messaging/config"
	"github.com/antinvestor/service-messaging/internal"
	"github.com/antinvestor/service-messaging/service"
	"github.com/antinvestor/service-messaging/service/models"
	"github.com/antinvestor/service-messaging/service/repository"
)

type chanStream struct {
	in chan *ClientFrame

	mu      sync.Mutex
	sent    []*ServerEvent
	sendErr error
}

func newChanStream() *chanStream {
	return &chanStream{in: make(chan *ClientFrame, 16)}
}

func (cs *chanStream) Receive() (*ClientFrame, error) {
	frame, ok := <-cs.in
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (cs *chanStream) Send(event *ServerEvent) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.sendErr != nil {
		return cs.sendErr
	}
	cs.sent = append(cs.sent, event)
	return nil
}

func (cs *chanStream) push(t *testing.T, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	cs.in <- &ClientFrame{Event: event, Data: raw}
}

func (cs *chanStream) events() []*ServerEvent {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]*ServerEvent(nil), cs.sent...)
}

func (cs *chanStream) eventNames() []string {
	var names []string
	for _, event := range cs.events() {
		names = append(names, event.Event)
	}
	return names
}

type fakeMessageRepo struct {
	repository.MessageRepository

	mu      sync.Mutex
	store   map[string]*models.Message
	saveErr error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{store: make(map[string]*models.Message)}
}

func (f *fakeMessageRepo) Save(ctx context.Context, message *models.Message) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if message.GetID() == "" {
		message.GenID(ctx)
	}
	f.store[message.GetID()] = message
	return nil
}

func (f *fakeMessageRepo) UpdateStatus(
	_ context.Context, id string, status models.MessageStatus,
) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.store[id]
	if !ok {
		return nil, nil
	}
	if status > message.Status {
		message.Status = status
	}
	return message, nil
}

func (f *fakeMessageRepo) statusOf(id string) models.MessageStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store[id].Status
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []*models.Message
	reads    []*models.Message
	err      error
}

func (f *fakeNotifier) PublishMessageNotification(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) PublishReadNotification(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reads = append(f.reads, message)
	return nil
}

type fakeVerifier struct {
	profiles map[string]string
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (string, error) {
	profileID, ok := f.profiles[token]
	if !ok {
		return "", internal.ErrTokenInvalid
	}
	return profileID, nil
}

type gatewayFixture struct {
	gateway    *SessionGateway
	registry   *Registry
	retryQueue *RetryQueue
	repo       *fakeMessageRepo
	notifier   *fakeNotifier
}

func newGatewayFixture(maxConnections int) *gatewayFixture {
	cfg := &config.MessagingConfig{
		MaxConnections:             maxConnections,
		RetryQueueDepthPerReceiver: 100,
	}
	registry := NewRegistry()
	retryQueue := NewRetryQueue(cfg.RetryQueueDepthPerReceiver, nil)
	repo := newFakeMessageRepo()
	notifier := &fakeNotifier{}
	verifier := &fakeVerifier{profiles: map[string]string{
		"token1": "user1",
		"token2": "user2",
	}}

	return &gatewayFixture{
		gateway:    NewSessionGateway(cfg, registry, retryQueue, verifier, repo, notifier),
		registry:   registry,
		retryQueue: retryQueue,
		repo:       repo,
		notifier:   notifier,
	}
}

// connect starts a session on a fresh stream and returns once it is bound.
func (gf *gatewayFixture) connect(t *testing.T, token, profileID string) (*chanStream, chan error) {
	t.Helper()
	stream := newChanStream()
	done := make(chan error, 1)
	go func() {
		done <- gf.gateway.HandleConnection(context.Background(), stream)
	}()

	stream.push(t, EventAuth, AuthPayload{Token: token})
	require.Eventually(t, func() bool {
		_, ok := gf.registry.ConnectionOf(profileID)
		return ok
	}, time.Second, 5*time.Millisecond)

	return stream, done
}

func finish(t *testing.T, stream *chanStream, done chan error) {
	t.Helper()
	close(stream.in)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestSessionGateway_AuthSuccess(t *testing.T) {
	fixture := newGatewayFixture(10)

	stream, done := fixture.connect(t, "token1", "user1")

	events := stream.events()
	require.NotEmpty(t, events)
	assert.Equal(t, EventAuthSuccess, events[0].Event)
	payload, ok := events[0].Data.(AuthSuccessPayload)
	require.True(t, ok)
	assert.Equal(t, "user1", payload.UserID)

	finish(t, stream, done)

	// Teardown releases the binding
	_, bound := fixture.registry.ConnectionOf("user1")
	assert.False(t, bound)
}

func TestSessionGateway_AuthFailureClosesConnection(t *testing.T) {
	fixture := newGatewayFixture(10)
	stream := newChanStream()

	done := make(chan error, 1)
	go func() {
		done <- fixture.gateway.HandleConnection(context.Background(), stream)
	}()

	stream.push(t, EventAuth, AuthPayload{Token: "bogus"})

	select {
	case err := <-done:
		require.ErrorIs(t, err, service.ErrAuthenticationFailed)
	case <-time.After(time.Second):
		t.Fatal("session did not terminate after failed auth")
	}

	events := stream.events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAuthFailed, events[0].Event)
}

func TestSessionGateway_SendRequiresAuth(t *testing.T) {
	fixture := newGatewayFixture(10)
	stream := newChanStream()

	done := make(chan error, 1)
	go func() {
		done <- fixture.gateway.HandleConnection(context.Background(), stream)
	}()

	stream.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "hello"})
	finish(t, stream, done)

	events := stream.events()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Event)
	payload, ok := events[0].Data.(ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, service.ErrNotAuthenticated.Error(), payload.Message)
	assert.Empty(t, fixture.repo.store)
}

func TestSessionGateway_SendValidation(t *testing.T) {
	fixture := newGatewayFixture(10)

	stream, done := fixture.connect(t, "token1", "user1")
	stream.push(t, EventSendMessage, SendMessagePayload{Content: "no receiver"})
	stream.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2"})
	finish(t, stream, done)

	names := stream.eventNames()
	assert.Equal(t, []string{EventAuthSuccess, EventError, EventError}, names)
	assert.Empty(t, fixture.repo.store)
	assert.Empty(t, fixture.notifier.messages)
}

func TestSessionGateway_SendToOfflineReceiverQueues(t *testing.T) {
	fixture := newGatewayFixture(10)

	stream, done := fixture.connect(t, "token1", "user1")
	stream.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "hello"})
	finish(t, stream, done)

	// Persisted as SENT and buffered for the receiver
	require.Len(t, fixture.repo.store, 1)
	assert.Equal(t, 1, fixture.retryQueue.Len("user2"))

	var messageID string
	for id, message := range fixture.repo.store {
		messageID = id
		assert.Equal(t, models.MessageStatusSent, message.Status)
	}

	// The sender gets an ack with the stored status
	events := stream.events()
	require.Len(t, events, 2)
	assert.Equal(t, EventMessageStatus, events[1].Event)
	status, ok := events[1].Data.(StatusPayload)
	require.True(t, ok)
	assert.Equal(t, messageID, status.ID)
	assert.Equal(t, "SENT", status.Status)

	require.Len(t, fixture.notifier.messages, 1)
}

func TestSessionGateway_SendToOnlineReceiverDelivers(t *testing.T) {
	fixture := newGatewayFixture(10)

	receiver, receiverDone := fixture.connect(t, "token2", "user2")
	sender, senderDone := fixture.connect(t, "token1", "user1")

	sender.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "hello"})
	finish(t, sender, senderDone)

	// Receiver sees the message marked DELIVERED
	require.Eventually(t, func() bool {
		return len(receiver.events()) >= 2
	}, time.Second, 5*time.Millisecond)

	events := receiver.events()
	assert.Equal(t, EventReceiveMessage, events[1].Event)
	data, ok := events[1].Data.(*models.MessageData)
	require.True(t, ok)
	assert.Equal(t, "user1", data.SenderID)
	assert.Equal(t, "hello", data.Content)
	assert.Equal(t, "DELIVERED", data.Status)

	// Nothing buffered, sender acked DELIVERED
	assert.Equal(t, 0, fixture.retryQueue.Len("user2"))
	senderEvents := sender.events()
	status, ok := senderEvents[1].Data.(StatusPayload)
	require.True(t, ok)
	assert.Equal(t, "DELIVERED", status.Status)

	finish(t, receiver, receiverDone)
}

func TestSessionGateway_ReplayOnReconnect(t *testing.T) {
	fixture := newGatewayFixture(10)

	sender, senderDone := fixture.connect(t, "token1", "user1")
	sender.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "first"})
	sender.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "second"})
	finish(t, sender, senderDone)

	require.Equal(t, 2, fixture.retryQueue.Len("user2"))

	// Receiver reconnects; the backlog replays in order right after auth
	receiver, receiverDone := fixture.connect(t, "token2", "user2")
	require.Eventually(t, func() bool {
		return len(receiver.events()) >= 3
	}, time.Second, 5*time.Millisecond)

	names := receiver.eventNames()
	assert.Equal(t, []string{EventAuthSuccess, EventReceiveMessage, EventReceiveMessage}, names)

	events := receiver.events()
	first, ok := events[1].Data.(*models.MessageData)
	require.True(t, ok)
	second, ok := events[2].Data.(*models.MessageData)
	require.True(t, ok)
	assert.Equal(t, "first", first.Content)
	assert.Equal(t, "second", second.Content)
	assert.Equal(t, "DELIVERED", first.Status)
	assert.Equal(t, "DELIVERED", second.Status)

	assert.Equal(t, 0, fixture.retryQueue.Len("user2"))
	finish(t, receiver, receiverDone)
}

func TestSessionGateway_RetryPendingDrainsBacklog(t *testing.T) {
	fixture := newGatewayFixture(10)

	receiver, receiverDone := fixture.connect(t, "token2", "user2")

	// Buffered after the receiver was already online, simulating a message
	// that raced past live delivery
	message := makeTestMessage("user1", "user2", "late")
	require.NoError(t, fixture.repo.Create(context.Background(), message))
	fixture.retryQueue.Enqueue(context.Background(), "user2", message)

	receiver.push(t, EventRetryPending, nil)
	require.Eventually(t, func() bool {
		return len(receiver.events()) >= 2
	}, time.Second, 5*time.Millisecond)

	events := receiver.events()
	assert.Equal(t, EventReceiveMessage, events[1].Event)
	assert.Equal(t, 0, fixture.retryQueue.Len("user2"))

	finish(t, receiver, receiverDone)
}

func TestSessionGateway_ReadMessage(t *testing.T) {
	fixture := newGatewayFixture(10)

	sender, senderDone := fixture.connect(t, "token1", "user1")
	receiver, receiverDone := fixture.connect(t, "token2", "user2")

	sender.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "hello"})
	require.Eventually(t, func() bool {
		return len(receiver.events()) >= 2
	}, time.Second, 5*time.Millisecond)

	data, ok := receiver.events()[1].Data.(*models.MessageData)
	require.True(t, ok)

	receiver.push(t, EventReadMessage, ReadMessagePayload{MessageID: data.ID, SenderID: "user1"})

	// Sender is told the message is READ
	require.Eventually(t, func() bool {
		events := sender.events()
		last := events[len(events)-1]
		if last.Event != EventMessageStatus {
			return false
		}
		status, statusOk := last.Data.(StatusPayload)
		return statusOk && status.Status == "READ"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.MessageStatusRead, fixture.repo.statusOf(data.ID))

	require.Eventually(t, func() bool {
		fixture.notifier.mu.Lock()
		defer fixture.notifier.mu.Unlock()
		return len(fixture.notifier.reads) == 1
	}, time.Second, 5*time.Millisecond)

	finish(t, sender, senderDone)
	finish(t, receiver, receiverDone)
}

func TestSessionGateway_ReadUnknownMessageIgnored(t *testing.T) {
	fixture := newGatewayFixture(10)

	stream, done := fixture.connect(t, "token1", "user1")
	stream.push(t, EventReadMessage, ReadMessagePayload{MessageID: "missing"})
	finish(t, stream, done)

	// No error event and no notification for an unknown ID
	assert.Equal(t, []string{EventAuthSuccess}, stream.eventNames())
	assert.Empty(t, fixture.notifier.reads)
}

func TestSessionGateway_ConnectionLimit(t *testing.T) {
	fixture := newGatewayFixture(1)

	first, firstDone := fixture.connect(t, "token1", "user1")

	second := newChanStream()
	err := fixture.gateway.HandleConnection(context.Background(), second)
	require.ErrorIs(t, err, service.ErrConnectionsAtLimit)

	events := second.events()
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Event)

	finish(t, first, firstDone)

	// Capacity is released on teardown
	assert.NoError(t, fixture.gateway.CheckCapacity(context.Background()))
}

func TestSessionGateway_UnknownEventIgnored(t *testing.T) {
	fixture := newGatewayFixture(10)

	stream, done := fixture.connect(t, "token1", "user1")
	stream.push(t, "mystery_event", map[string]string{"some": "data"})
	stream.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "still works"})
	finish(t, stream, done)

	require.Len(t, fixture.repo.store, 1)
}

func TestSessionGateway_SaveFailureReportsError(t *testing.T) {
	fixture := newGatewayFixture(10)
	fixture.repo.saveErr = errors.New("datastore down")

	stream, done := fixture.connect(t, "token1", "user1")
	stream.push(t, EventSendMessage, SendMessagePayload{ReceiverID: "user2", Content: "hello"})
	finish(t, stream, done)

	names := stream.eventNames()
	assert.Equal(t, []string{EventAuthSuccess, EventError}, names)
	assert.Equal(t, 0, fixture.retryQueue.Len("user2"))
	assert.Empty(t, fixture.notifier.messages)
}
