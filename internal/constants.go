package internal

const (
	HeaderReceiverID = "receiver_id"
	HeaderSenderID   = "sender_id"
	HeaderShardID    = "shard_id"

	// Dead-letter queue headers
	HeaderDLQOriginalQueue = "dlq_original_queue"
	HeaderDLQReason        = "dlq_reason"
)
