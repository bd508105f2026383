package queue

import "context"

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueueName is the work queue batch dispatch triggers land on.
	DispatchQueueName = "dispatch"

	// DispatchDLQName is the dead-letter queue for poisoned triggers.
	DispatchDLQName = "dlq.dispatch"
)
