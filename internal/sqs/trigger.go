// Package sqs carries reminder sweep triggers over an SQS queue so that an
// external scheduler can start sweeps without reaching the database.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/metrics"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// WaitTime is the long-poll duration, at most 20s.
	WaitTime time.Duration
	// VisibilityTimeout should exceed the longest expected sweep.
	VisibilityTimeout time.Duration
}

// Trigger is the message body. An empty or unparseable body is still a
// trigger; the fields are informational.
type Trigger struct {
	Source      string `json:"source,omitempty"`
	RequestedAt int64  `json:"requested_at,omitempty"`
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func newClient(ctx context.Context, region string) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer enqueues sweep triggers.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}
	return &Producer{client: client, queueURL: cfg.QueueURL, logger: logger, now: time.Now}, nil
}

// Enqueue sends one trigger and returns its message ID.
func (p *Producer) Enqueue(ctx context.Context, source string) (string, error) {
	body, err := json.Marshal(Trigger{Source: source, RequestedAt: p.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger: %w", err)
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send sweep trigger", zap.Error(err))
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(out.MessageId), nil
}

// SweepFunc runs one sweep. A non-nil error leaves the trigger on the queue
// to be redelivered after its visibility timeout.
type SweepFunc func(ctx context.Context) error

// Consumer long-polls the queue and runs a sweep per received batch.
type Consumer struct {
	client   sqsAPI
	cfg      Config
	logger   *zap.Logger
	inFlight int
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs trigger consumer initialized", zap.String("queue_url", cfg.QueueURL))

	return newConsumer(client, cfg, logger), nil
}

func newConsumer(client sqsAPI, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &Consumer{client: client, cfg: cfg, logger: logger}
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a short pause.
func (c *Consumer) Run(ctx context.Context, sweep SweepFunc) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sqs trigger consumer stopping")
			return
		default:
		}

		if err := c.Poll(ctx, sweep); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("sweep trigger poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Poll receives one batch of triggers. Several triggers arriving together
// collapse into a single sweep; all of them are deleted once it succeeds.
func (c *Consumer) Poll(ctx context.Context, sweep SweepFunc) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
		VisibilityTimeout:   int32(c.cfg.VisibilityTimeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil
	}

	c.setInFlight(len(out.Messages))
	defer c.setInFlight(0)

	for _, m := range out.Messages {
		t := decode(m)
		c.logger.Debug("sweep trigger received",
			zap.String("message_id", aws.ToString(m.MessageId)),
			zap.String("source", t.Source),
		)
	}

	if err := sweep(ctx); err != nil {
		return fmt.Errorf("sweep failed, triggers left for redelivery: %w", err)
	}

	for _, m := range out.Messages {
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.cfg.QueueURL),
			ReceiptHandle: m.ReceiptHandle,
		}); err != nil {
			c.logger.Warn("failed to delete sweep trigger",
				zap.Error(err),
				zap.String("message_id", aws.ToString(m.MessageId)),
			)
		}
	}

	return nil
}

func (c *Consumer) setInFlight(n int) {
	c.inFlight = n
	metrics.SetSweepTriggersInFlight(n)
}

func decode(m types.Message) Trigger {
	var t Trigger
	if m.Body != nil {
		_ = json.Unmarshal([]byte(*m.Body), &t)
	}
	return t
}
