package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/observ"
)

// SNSConfig holds the platform application for one route and the optional
// broadcast topic.
type SNSConfig struct {
	Region string
	// Endpoint overrides the AWS endpoint (LocalStack).
	Endpoint       string
	PlatformArn    string
	Platform       string // APNS, APNS_SANDBOX or GCM
	BroadcastTopic string
}

// SNS platform keys used in the message structure
const (
	SNSPlatformAPNS        = "APNS"
	SNSPlatformAPNSSandbox = "APNS_SANDBOX"
	SNSPlatformGCM         = "GCM"
)

type snsAPI interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSBackend delivers through AWS SNS mobile push. Device tokens are
// registered as platform endpoints on first use.
type SNSBackend struct {
	client         snsAPI
	platformArn    string
	platform       string
	broadcastTopic string
	logger         *zap.Logger
}

// NewSNSBackend loads the default AWS config for the region
func NewSNSBackend(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSBackend, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newSNSBackend(client, cfg, logger), nil
}

func newSNSBackend(client snsAPI, cfg SNSConfig, logger *zap.Logger) *SNSBackend {
	return &SNSBackend{
		client:         client,
		platformArn:    cfg.PlatformArn,
		platform:       cfg.Platform,
		broadcastTopic: cfg.BroadcastTopic,
		logger:         logger,
	}
}

// Deliver registers the token as a platform endpoint (idempotent on the SNS
// side) and publishes p to it.
func (b *SNSBackend) Deliver(ctx context.Context, deviceToken string, p Payload) error {
	endpoint, err := b.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(b.platformArn),
		Token:                  aws.String(deviceToken),
	})
	if err != nil {
		return fmt.Errorf("sns create platform endpoint: %w", err)
	}

	msg, err := b.message(p)
	if err != nil {
		return err
	}

	result, err := b.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        endpoint.EndpointArn,
		MessageStructure: aws.String("json"),
		Message:          aws.String(msg),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	b.logger.Debug("sns accepted notification",
		observ.Token(deviceToken),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// Broadcast publishes p to the configured SNS topic. The topic argument is
// recorded as a message attribute.
func (b *SNSBackend) Broadcast(ctx context.Context, topic string, p Payload) error {
	if b.broadcastTopic == "" {
		return fmt.Errorf("%w: no SNS broadcast topic configured", ErrNoBackend)
	}

	msg, err := b.message(p)
	if err != nil {
		return err
	}

	result, err := b.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(b.broadcastTopic),
		MessageStructure: aws.String("json"),
		Message:          aws.String(msg),
		Subject:          aws.String(topic),
	})
	if err != nil {
		return fmt.Errorf("sns topic publish failed: %w", err)
	}

	b.logger.Debug("sns accepted broadcast",
		zap.String("topic", topic),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// message renders the per-platform JSON envelope. SNS expects each platform
// value to be a JSON document encoded as a string.
func (b *SNSBackend) message(p Payload) (string, error) {
	var inner any
	switch b.platform {
	case SNSPlatformGCM:
		inner = map[string]any{
			"notification": map[string]string{
				"title": p.Title,
				"body":  p.Body,
				"sound": p.Sound,
			},
			"data": p.Data,
		}
	default:
		aps := map[string]any{
			"alert": map[string]string{"title": p.Title, "body": p.Body},
		}
		if p.Sound != "" {
			aps["sound"] = p.Sound
		}
		if p.Badge > 0 {
			aps["badge"] = p.Badge
		}
		if p.MutableContent {
			aps["mutable-content"] = 1
		}
		doc := map[string]any{"aps": aps}
		for k, v := range p.Data {
			doc[k] = v
		}
		inner = doc
	}

	innerJSON, err := json.Marshal(inner)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s message: %w", b.platform, err)
	}

	outer, err := json.Marshal(map[string]string{
		"default":  p.Body,
		b.platform: string(innerJSON),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	return string(outer), nil
}
