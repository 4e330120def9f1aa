package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
)

// MemoryQueue is an in-process partitioned queue. Keys hash to a fixed
// partition, and each partition is drained by exactly one subscriber.
type MemoryQueue struct {
	mu         sync.RWMutex
	closed     bool
	partitions []chan Message
}

func NewMemoryQueue(partitions, buffer int) *MemoryQueue {
	if partitions <= 0 {
		partitions = 1
	}
	if buffer <= 0 {
		buffer = 128
	}
	q := &MemoryQueue{partitions: make([]chan Message, partitions)}
	for i := range q.partitions {
		q.partitions[i] = make(chan Message, buffer)
	}
	return q
}

func (q *MemoryQueue) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.partitions)))
}

func (q *MemoryQueue) Publish(ctx context.Context, key string, value []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	msg := Message{Key: key, Value: append([]byte(nil), value...)}
	select {
	case q.partitions[q.partition(key)] <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribers returns one subscriber per partition.
func (q *MemoryQueue) Subscribers() []Subscriber {
	subs := make([]Subscriber, len(q.partitions))
	for i, ch := range q.partitions {
		subs[i] = &memorySubscriber{ch: ch}
	}
	return subs
}

// Close stops accepting messages. Subscribers drain what is buffered and
// then return ErrQueueClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.partitions {
		close(ch)
	}
	return nil
}

type memorySubscriber struct {
	ch <-chan Message
}

func (s *memorySubscriber) Fetch(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return Message{}, ErrQueueClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySubscriber) Close() error { return nil }
