// Package sqs implements queue.Queue on Amazon SQS.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/3leaps/imagequeue/pkg/queue"
)

const (
	// DefaultWaitTimeSeconds is the SQS long-poll maximum.
	DefaultWaitTimeSeconds = 20

	// DefaultMaxMessages is the SQS receive batch maximum.
	DefaultMaxMessages = 10

	// DefaultVisibilityTimeout covers one generation plus store writes.
	DefaultVisibilityTimeout = 300
)

// Config configures the SQS queue.
type Config struct {
	// QueueURL is the full queue URL (required).
	QueueURL string

	// Region is the AWS region. Optional; resolved by the SDK when empty.
	Region string

	// Endpoint overrides the SQS endpoint (for moto or localstack).
	Endpoint string

	// Profile is the AWS credential profile name. Optional.
	Profile string

	// WaitTimeSeconds is the long-poll duration, 0..20.
	WaitTimeSeconds int32

	// MaxMessages is the receive batch size, 1..10.
	MaxMessages int32

	// VisibilityTimeout is how long a received message stays hidden, in seconds.
	VisibilityTimeout int32
}

// Validate checks required fields and clamps limits to SQS bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.QueueURL) == "" {
		return fmt.Errorf("sqs: queue url is required")
	}
	if c.WaitTimeSeconds <= 0 || c.WaitTimeSeconds > DefaultWaitTimeSeconds {
		c.WaitTimeSeconds = DefaultWaitTimeSeconds
	}
	if c.MaxMessages <= 0 || c.MaxMessages > DefaultMaxMessages {
		c.MaxMessages = DefaultMaxMessages
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return nil
}

// api is the subset of *sqs.Client used by Queue.
type api interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Queue is an SQS-backed queue.Queue.
type Queue struct {
	client api
	cfg    Config
}

var _ queue.Queue = (*Queue)(nil)

// New creates a queue using the AWS SDK default credential chain.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sqs: load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newWithClient(client, cfg), nil
}

func newWithClient(client api, cfg Config) *Queue {
	_ = cfg.Validate()
	return &Queue{client: client, cfg: cfg}
}

func (q *Queue) Send(ctx context.Context, msg queue.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.cfg.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send %s: %w", msg.JobID, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) ([]queue.Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.cfg.QueueURL),
		MaxNumberOfMessages: q.cfg.MaxMessages,
		WaitTimeSeconds:     q.cfg.WaitTimeSeconds,
		VisibilityTimeout:   q.cfg.VisibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	now := time.Now()
	deliveries := make([]queue.Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		deliveries = append(deliveries, FromMessage(m, now))
	}
	return deliveries, nil
}

// FromMessage converts an SQS message into a delivery.
func FromMessage(m types.Message, receivedAt time.Time) queue.Delivery {
	d := queue.Delivery{
		ID:         aws.ToString(m.MessageId),
		Body:       []byte(aws.ToString(m.Body)),
		Receipt:    aws.ToString(m.ReceiptHandle),
		ReceivedAt: receivedAt,
	}
	if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		d.Attempt = n
	}
	return d
}

func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.cfg.QueueURL),
		ReceiptHandle: aws.String(d.Receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", d.ID, err)
	}
	return nil
}

// Nack makes the message visible again immediately. Redrive to a dead-letter
// queue is left to the queue's redrive policy.
func (q *Queue) Nack(ctx context.Context, d queue.Delivery) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.cfg.QueueURL),
		ReceiptHandle:     aws.String(d.Receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility %s: %w", d.ID, err)
	}
	return nil
}

// CheckHealth verifies the queue is reachable.
func (q *Queue) CheckHealth(ctx context.Context) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.cfg.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return fmt.Errorf("sqs get attributes: %w", err)
	}
	return nil
}

func (q *Queue) Close() error { return nil }
