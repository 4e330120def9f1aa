package pipeline

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by Fetch once a subscriber has been closed.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Message is one delivery. Ack must be called once the message has been
// handled; until then the backend may redeliver it.
type Message struct {
	Key   string
	Value []byte

	ack func(ctx context.Context) error
}

func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Publisher enqueues values. Values sharing a key are delivered in publish
// order to a single subscriber.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// Subscriber yields messages one at a time. Fetch blocks until a message
// arrives, ctx is done, or the subscriber is closed.
type Subscriber interface {
	Fetch(ctx context.Context) (Message, error)
	Close() error
}
