package models

import (
	"fmt"
	"time"

	"github.com/pitabwire/frame/data"
)

// MessageStatus tracks a message through its delivery lifecycle. Transitions
// are strictly forward: SENT -> DELIVERED -> READ.
type MessageStatus int32

const (
	MessageStatusSent MessageStatus = iota
	MessageStatusDelivered
	MessageStatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case MessageStatusSent:
		return "SENT"
	case MessageStatusDelivered:
		return "DELIVERED"
	case MessageStatusRead:
		return "READ"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(s))
	}
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *MessageStatus) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"SENT"`:
		*s = MessageStatusSent
	case `"DELIVERED"`:
		*s = MessageStatusDelivered
	case `"READ"`:
		*s = MessageStatusRead
	default:
		return fmt.Errorf("unknown message status %s", string(b))
	}
	return nil
}

// Message is a single direct message between two profiles.
type Message struct {
	data.BaseModel

	SenderID   string        `gorm:"type:varchar(50);index:idx_message_sender_id" json:"senderId"`
	ReceiverID string        `gorm:"type:varchar(50);index:idx_message_receiver_id" json:"receiverId"`
	Content    string        `gorm:"type:text" json:"content"`
	Status     MessageStatus `gorm:"type:integer;default:0" json:"status"`
}

// MessageData is the wire representation of a message sent to clients.
type MessageData struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m *Message) ToAPI() *MessageData {
	return &MessageData{
		ID:         m.GetID(),
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Status:     m.Status.String(),
		CreatedAt:  m.CreatedAt,
	}
}

// Notification is a persisted alert targeted at a single profile. It is
// written by the fanout consumer so a recipient can catch up on activity
// that happened while they were offline.
type Notification struct {
	data.BaseModel

	TargetID  string `gorm:"type:varchar(50);index:idx_notification_target_id" json:"targetId"`
	Title     string `gorm:"type:varchar(255)" json:"title"`
	Content   string `gorm:"type:text" json:"content"`
	SourceID  string `gorm:"type:varchar(50)" json:"sourceId"`
	MessageID string `gorm:"type:varchar(50)" json:"messageId"`
	Read      bool   `gorm:"default:false" json:"read"`
}

// NotificationData is the wire representation of a notification.
type NotificationData struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	MessageID string    `json:"messageId"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n *Notification) ToAPI() *NotificationData {
	return &NotificationData{
		ID:        n.GetID(),
		Title:     n.Title,
		Content:   n.Content,
		SenderID:  n.SourceID,
		MessageID: n.MessageID,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

// PresenceRecord stores a profile's last known availability. LastSeen is nil
// while the profile is online and set to the disconnect time otherwise.
type PresenceRecord struct {
	data.BaseModel

	ProfileID string     `gorm:"type:varchar(50);uniqueIndex:idx_presence_profile_id" json:"profileId"`
	Online    bool       `gorm:"default:false" json:"online"`
	LastSeen  *time.Time `json:"lastSeen"`
}

// PresenceData is the wire representation of a presence record.
type PresenceData struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func (p *PresenceRecord) ToAPI() *PresenceData {
	return &PresenceData{
		UserID:   p.ProfileID,
		Online:   p.Online,
		LastSeen: p.LastSeen,
	}
}
