package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tunminster/by-the-app-demo/internal/config"
	"github.com/tunminster/by-the-app-demo/internal/pipeline"
)

// Queue is the configured transport between producer and consumer.
type Queue struct {
	Publisher   pipeline.Publisher
	Subscribers []pipeline.Subscriber
}

// OpenQueue builds the backend named by cfg.QueueBackend. Subscribers are
// only opened when consume is set; the memory backend always has them
// because its consumer must run in the same process.
func OpenQueue(ctx context.Context, cfg config.Config, consume bool) (*Queue, error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		q := pipeline.NewMemoryQueue(cfg.QueuePartitions, 256)
		return &Queue{Publisher: q, Subscribers: q.Subscribers()}, nil

	case config.QueueKafka:
		pub, err := pipeline.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		q := &Queue{Publisher: pub}
		if consume {
			for i := 0; i < max(cfg.FulfillmentWorkers, 1); i++ {
				sub, err := pipeline.NewKafkaSubscriber(cfg.Kafka)
				if err != nil {
					_ = q.Close()
					return nil, err
				}
				q.Subscribers = append(q.Subscribers, sub)
			}
		}
		return q, nil

	case config.QueueSQS:
		client, err := pipeline.NewSQSClient(ctx, cfg.SQS)
		if err != nil {
			return nil, err
		}
		sq := pipeline.NewSQSQueue(client, cfg.SQS.QueueURL)
		q := &Queue{Publisher: sq}
		if consume {
			for i := 0; i < max(cfg.FulfillmentWorkers, 1); i++ {
				q.Subscribers = append(q.Subscribers, sq)
			}
		}
		return q, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
}

func (q *Queue) Close() error {
	errs := []error{q.Publisher.Close()}
	for _, sub := range q.Subscribers {
		errs = append(errs, sub.Close())
	}
	return errors.Join(errs...)
}

// Consumer builds the fulfillment consumer over the core services.
func (c *Core) Consumer(cfg config.Config, log zerolog.Logger) *pipeline.Consumer {
	return pipeline.NewConsumer(c.Bookings, c.Patients, log,
		pipeline.WithMaxAttempts(cfg.FulfillmentMaxAttempts),
		pipeline.WithRetryBackoff(cfg.FulfillmentRetryBackoff),
		pipeline.WithConsumerMetrics(c.Metrics),
	)
}
