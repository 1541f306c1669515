package business

import (
	"context"
	"encoding/json"
	"time"
)

// Wire event names exchanged with clients over the messaging channel.
const (
	EventAuth           = "auth"
	EventAuthSuccess    = "auth_success"
	EventAuthFailed     = "auth_failed"
	EventError          = "error"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventMessageStatus  = "message_status"
	EventReadMessage    = "read_message"
	EventRetryPending   = "retry_pending"
	EventNotification   = "notification"
)

// Wire event names exchanged with clients over the presence channel.
const (
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventStartTyping = "start_typing"
	EventStopTyping  = "stop_typing"
	EventTyping      = "typing"
)

// ClientFrame is a single event received from a client connection.
type ClientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is a single event sent to a client connection.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ClientStream abstracts the bidirectional transport carrying one client
// connection. Receive blocks until a frame arrives or the transport closes.
type ClientStream interface {
	Receive() (*ClientFrame, error)
	Send(event *ServerEvent) error
}

// LiveEmitter pushes an event to a profile's live connection if one exists.
// The boolean result reports whether the event was handed to a connection.
type LiveEmitter interface {
	EmitToProfile(ctx context.Context, profileID string, event *ServerEvent) bool
}

// AuthPayload carries the credentials of an auth frame.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthSuccessPayload acknowledges a completed auth exchange.
type AuthSuccessPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload carries a client facing failure description.
type ErrorPayload struct {
	Message string `json:"message"`
}

// SendMessagePayload carries a new message from its sender.
type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// ReadMessagePayload reports that the receiver has read a message.
type ReadMessagePayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// StatusPayload reports a message's delivery status back to its sender.
type StatusPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TypingPayload addresses a typing indicator at a profile.
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

// TypingEventPayload identifies who a typing indicator came from.
type TypingEventPayload struct {
	From string `json:"from"`
}

// PresencePayload announces a profile's availability change.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// NotificationPayload is the live form of a fanned out notification.
type NotificationPayload struct {
	ID        string `json:"id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SenderID  string `json:"senderId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status,omitempty"`
}
