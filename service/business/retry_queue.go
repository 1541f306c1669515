package business

import (
	"context"
	"sync"

	"github.com/antinvestor/service-messaging/service/models"
)

// RetryEntry pairs a buffered message with its intended receiver.
type RetryEntry struct {
	ReceiverID string
	Message    *models.Message
}

// EvictionSink receives entries dropped when a receiver's backlog exceeds
// its depth cap.
type EvictionSink interface {
	Evicted(ctx context.Context, entry RetryEntry)
}

// RetryQueue buffers undelivered messages per receiver in arrival order
// until the receiver reconnects. Each receiver's backlog is capped; when a
// new entry would exceed the cap the oldest entry is dropped to the sink.
type RetryQueue struct {
	mu       sync.Mutex
	maxDepth int
	backlog  map[string][]*models.Message
	sink     EvictionSink
}

// NewRetryQueue creates a retry queue. A maxDepthPerReceiver of zero or less
// means unbounded. The sink may be nil, in which case evictions are silent.
func NewRetryQueue(maxDepthPerReceiver int, sink EvictionSink) *RetryQueue {
	return &RetryQueue{
		maxDepth: maxDepthPerReceiver,
		backlog:  make(map[string][]*models.Message),
		sink:     sink,
	}
}

// Enqueue appends a message to its receiver's backlog, evicting the oldest
// entry if the backlog is full. The sink callback runs outside the lock.
func (rq *RetryQueue) Enqueue(ctx context.Context, receiverID string, message *models.Message) {
	var evicted *models.Message

	rq.mu.Lock()
	entries := append(rq.backlog[receiverID], message)
	if rq.maxDepth > 0 && len(entries) > rq.maxDepth {
		evicted = entries[0]
		entries = entries[1:]
	}
	rq.backlog[receiverID] = entries
	rq.mu.Unlock()

	if evicted != nil && rq.sink != nil {
		rq.sink.Evicted(ctx, RetryEntry{ReceiverID: receiverID, Message: evicted})
	}
}

// Drain removes and returns a receiver's backlog in arrival order.
func (rq *RetryQueue) Drain(receiverID string) []*models.Message {
	rq.mu.Lock()
	entries := rq.backlog[receiverID]
	delete(rq.backlog, receiverID)
	rq.mu.Unlock()
	return entries
}

// Len reports the backlog depth for a receiver.
func (rq *RetryQueue) Len(receiverID string) int {
	rq.mu.Lock()
	n := len(rq.backlog[receiverID])
	rq.mu.Unlock()
	return n
}

// Size reports the total number of buffered messages across receivers.
func (rq *RetryQueue) Size() int {
	rq.mu.Lock()
	total := 0
	for _, entries := range rq.backlog {
		total += len(entries)
	}
	rq.mu.Unlock()
	return total
}
