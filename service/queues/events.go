package queues

// NotificationEvent is the JSON payload carried on the fanout queues. One is
// published for every message sent and every read receipt processed.
type NotificationEvent struct {
	TargetID  string `json:"targetId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	SourceID  string `json:"sourceId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status,omitempty"`
}
