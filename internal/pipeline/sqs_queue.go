package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/tunminster/by-the-app-demo/internal/config"
)

const sqsKeyAttribute = "key"

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient loads AWS configuration, honouring static credentials and an
// endpoint override (LocalStack) when configured.
func NewSQSClient(ctx context.Context, cfg config.SQSConfig) (*sqs.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if strings.TrimSpace(cfg.AccessKeyID) != "" && strings.TrimSpace(cfg.SecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load aws config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := cfg.EndpointOverride; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SQSQueue publishes to and receives from a FIFO queue. The message group
// is the key, so one call's events are delivered in order and never
// concurrently.
type SQSQueue struct {
	client      SQSAPI
	queueURL    string
	waitSeconds int32
}

func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	if client == nil {
		panic("pipeline: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("pipeline: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL, waitSeconds: 20}
}

func (q *SQSQueue) Publish(ctx context.Context, key string, value []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.queueURL),
		MessageBody:            aws.String(string(value)),
		MessageGroupId:         aws.String(key),
		MessageDeduplicationId: aws.String(dedupID(key, value)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			sqsKeyAttribute: {DataType: aws.String("String"), StringValue: aws.String(key)},
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to send SQS message: %w", err)
	}
	return nil
}

// Fetch long-polls until a message arrives or ctx is done.
func (q *SQSQueue) Fetch(ctx context.Context) (Message, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(q.queueURL),
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       q.waitSeconds,
			MessageAttributeNames: []string{sqsKeyAttribute},
		})
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, fmt.Errorf("pipeline: failed to receive SQS messages: %w", err)
		}
		if len(out.Messages) == 0 {
			if err := ctx.Err(); err != nil {
				return Message{}, err
			}
			continue
		}

		m := out.Messages[0]
		var key string
		if attr, ok := m.MessageAttributes[sqsKeyAttribute]; ok {
			key = aws.ToString(attr.StringValue)
		}
		receipt := aws.ToString(m.ReceiptHandle)
		return Message{
			Key:   key,
			Value: []byte(aws.ToString(m.Body)),
			ack: func(ctx context.Context) error {
				return q.delete(ctx, receipt)
			},
		}, nil
	}
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return errors.New("pipeline: SQS message has no receipt handle")
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to delete SQS message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Close() error { return nil }

func dedupID(key string, value []byte) string {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write(value)
	return hex.EncodeToString(h.Sum(nil))
}
