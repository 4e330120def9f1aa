package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	QueueMemory = "memory"
	QueueKafka  = "kafka"
	QueueSQS    = "sqs"
)

type Config struct {
	Env             string        // dev, prod
	HTTPPort        string        // default 8080
	LogLevel        string        // debug, info, warn, error
	PostgresDSN     string        // required
	RedisURL        string        // redis:// or rediss://, wins over the fields below
	RedisAddr       string        // host:port
	RedisUsername   string        // redis username
	RedisPassword   string        // redis password
	LockTTL         time.Duration // how long a Redis slot lock lives
	ShutdownTimeout time.Duration // graceful shutdown timeout

	ReconcileInterval time.Duration // how often the slot sweep runs
	ReconcileGrace    time.Duration // held slots younger than this are left alone

	QueueBackend    string // memory, kafka, sqs
	QueuePartitions int    // memory backend only
	Kafka           KafkaConfig
	SQS             SQSConfig

	FulfillmentWorkers      int
	FulfillmentMaxAttempts  int
	FulfillmentRetryBackoff time.Duration
	DefaultTreatment        string
}

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	SSLCAFile   string
	SSLCertFile string
	SSLKeyFile  string
}

type SQSConfig struct {
	QueueURL         string
	Region           string
	EndpointOverride string
	AccessKeyID      string
	SecretAccessKey  string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		LockTTL:         getDuration("LOCK_TTL", 5*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		ReconcileInterval: getDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:    getDuration("RECONCILE_GRACE", 2*time.Minute),

		QueueBackend:    strings.ToLower(getEnv("QUEUE_BACKEND", QueueMemory)),
		QueuePartitions: getInt("QUEUE_PARTITIONS", 8),
		Kafka: KafkaConfig{
			Brokers:     splitList(os.Getenv("KAFKA_BOOTSTRAP_SERVERS")),
			Topic:       getEnv("KAFKA_TOPIC", "ai-responses"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "ai-response-processor"),
			SSLCAFile:   os.Getenv("KAFKA_SSL_CA_FILE"),
			SSLCertFile: os.Getenv("KAFKA_SSL_CERT_FILE"),
			SSLKeyFile:  os.Getenv("KAFKA_SSL_KEY_FILE"),
		},
		SQS: SQSConfig{
			QueueURL:         os.Getenv("SQS_QUEUE_URL"),
			Region:           getEnv("AWS_REGION", "us-east-1"),
			EndpointOverride: os.Getenv("AWS_ENDPOINT_OVERRIDE"),
			AccessKeyID:      os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey:  os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},

		FulfillmentWorkers:      getInt("FULFILLMENT_WORKERS", 2),
		FulfillmentMaxAttempts:  getInt("FULFILLMENT_MAX_ATTEMPTS", 3),
		FulfillmentRetryBackoff: getDuration("FULFILLMENT_RETRY_BACKOFF", 500*time.Millisecond),
		DefaultTreatment:        getEnv("DEFAULT_TREATMENT", "General Checkup"),
	}

	if cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required")
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.RedisAddr = getEnv("REDIS_ADDR", "127.0.0.1:6379")
	cfg.RedisUsername = getEnv("REDIS_USERNAME", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")

	if err := cfg.validateQueue(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validateQueue() error {
	switch c.QueueBackend {
	case QueueMemory:
		if c.QueuePartitions <= 0 {
			return errors.New("QUEUE_PARTITIONS must be > 0")
		}
	case QueueKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BOOTSTRAP_SERVERS is required when QUEUE_BACKEND=kafka")
		}
	case QueueSQS:
		if c.SQS.QueueURL == "" {
			return errors.New("SQS_QUEUE_URL is required when QUEUE_BACKEND=sqs")
		}
		if !strings.HasSuffix(c.SQS.QueueURL, ".fifo") {
			return errors.New("SQS_QUEUE_URL must be a FIFO queue (.fifo) to keep per-call ordering")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}
	if c.FulfillmentMaxAttempts <= 0 {
		return errors.New("FULFILLMENT_MAX_ATTEMPTS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "invalid duration for %s=%q, using default %s\n", key, v, def)
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		fmt.Fprintf(os.Stderr, "invalid integer for %s=%q, using default %d\n", key, v, def)
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

