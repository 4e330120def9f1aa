package pipeline

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tunminster/by-the-app-demo/internal/config"
)

const (
	DefaultKafkaTopic   = "ai-responses"
	DefaultKafkaGroupID = "ai-response-processor"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by call id; the hash balancer keeps
// one call on one partition.
type KafkaPublisher struct {
	w kafkaWriter
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("pipeline: kafka brokers are required")
	}
	tlsCfg, err := kafkaTLS(cfg)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topicOrDefault(cfg.Topic),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	if tlsCfg != nil {
		w.Transport = &kafka.Transport{TLS: tlsCfg}
	}
	return &KafkaPublisher{w: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("pipeline: kafka write: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// KafkaSubscriber is one consumer-group member. Offsets are committed only
// when a message is acked.
type KafkaSubscriber struct {
	r kafkaReader
}

func NewKafkaSubscriber(cfg config.KafkaConfig) (*KafkaSubscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("pipeline: kafka brokers are required")
	}
	tlsCfg, err := kafkaTLS(cfg)
	if err != nil {
		return nil, err
	}

	group := cfg.GroupID
	if group == "" {
		group = DefaultKafkaGroupID
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     group,
		Topic:       topicOrDefault(cfg.Topic),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			TLS:       tlsCfg,
		},
	})
	return &KafkaSubscriber{r: r}, nil
}

func (s *KafkaSubscriber) Fetch(ctx context.Context) (Message, error) {
	m, err := s.r.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("pipeline: kafka fetch: %w", err)
	}
	return Message{
		Key:   string(m.Key),
		Value: m.Value,
		ack: func(ctx context.Context) error {
			return s.r.CommitMessages(ctx, m)
		},
	}, nil
}

func (s *KafkaSubscriber) Close() error {
	return s.r.Close()
}

func topicOrDefault(topic string) string {
	if topic == "" {
		return DefaultKafkaTopic
	}
	return topic
}

// kafkaTLS builds a client TLS config from PEM files. It returns nil when
// no files are configured.
func kafkaTLS(cfg config.KafkaConfig) (*tls.Config, error) {
	if cfg.SSLCAFile == "" && cfg.SSLCertFile == "" && cfg.SSLKeyFile == "" {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.SSLCAFile != "" {
		pem, err := os.ReadFile(cfg.SSLCAFile)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read kafka CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("pipeline: no certificates in %s", cfg.SSLCAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.SSLCertFile != "" || cfg.SSLKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SSLCertFile, cfg.SSLKeyFile)
		if err != nil {
			return nil, fmt.Errorf("pipeline: load kafka client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
