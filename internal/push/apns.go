package push

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/observ"
)

// APNSConfig holds token-based APNs credentials
type APNSConfig struct {
	KeyPath string
	KeyID   string
	TeamID  string
	Topic   string // app bundle id
	Sandbox bool
}

type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSBackend delivers directly to Apple Push Notification service.
// Production and sandbox are separate instances with separate clients.
type APNSBackend struct {
	client  apnsPusher
	topic   string
	sandbox bool
	logger  *zap.Logger
}

// NewAPNSBackend loads the .p8 signing key and builds a token client
func NewAPNSBackend(cfg APNSConfig, logger *zap.Logger) (*APNSBackend, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load apns auth key: %w", err)
	}

	tok := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tok)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &APNSBackend{
		client:  client,
		topic:   cfg.Topic,
		sandbox: cfg.Sandbox,
		logger:  logger,
	}, nil
}

// Deliver sends p to a single device token
func (b *APNSBackend) Deliver(ctx context.Context, deviceToken string, p Payload) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       b.topic,
		Expiration:  p.Expiry,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.EPushType(p.PushType),
		Payload:     apnsPayload(p),
	}
	if n.PushType == "" {
		n.PushType = apns2.PushTypeAlert
	}

	res, err := b.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}

	if !res.Sent() {
		return fmt.Errorf("%w: apns status %d: %s", ErrDeliveryFailed, res.StatusCode, res.Reason)
	}

	b.logger.Debug("apns accepted notification",
		observ.Token(deviceToken),
		zap.String("apns_id", res.ApnsID),
		zap.Bool("sandbox", b.sandbox),
	)

	return nil
}

func apnsPayload(p Payload) *apnspayload.Payload {
	pl := apnspayload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body)

	if p.Badge > 0 {
		pl.Badge(p.Badge)
	}
	if p.Sound != "" {
		pl.Sound(p.Sound)
	}
	if p.MutableContent {
		pl.MutableContent()
	}
	for k, v := range p.Data {
		pl.Custom(k, v)
	}

	return pl
}
