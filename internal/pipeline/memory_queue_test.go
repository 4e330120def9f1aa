package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueKeepsKeyOnOnePartitionInOrder(t *testing.T) {
	q := NewMemoryQueue(4, 64)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Publish(ctx, "call-a", []byte(fmt.Sprint(i))))
	}
	require.NoError(t, q.Close())

	var got []string
	seenOn := -1
	for i, sub := range q.Subscribers() {
		for {
			msg, err := sub.Fetch(ctx)
			if err != nil {
				assert.ErrorIs(t, err, ErrQueueClosed)
				break
			}
			if seenOn >= 0 {
				assert.Equal(t, seenOn, i, "key split across partitions")
			}
			seenOn = i
			got = append(got, string(msg.Value))
			require.NoError(t, msg.Ack(ctx))
		}
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, got)
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), "k", nil), ErrQueueClosed)
}

func TestMemoryQueueFetchHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Subscribers()[0].Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
