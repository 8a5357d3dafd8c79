package push

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/tari-project/aurora-push/internal/observ"
)

// FCMConfig holds Firebase service account credentials
type FCMConfig struct {
	ProjectID   string
	ClientEmail string
	PrivateKey  string
}

type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMBackend delivers through Firebase Cloud Messaging
type FCMBackend struct {
	client fcmSender
	logger *zap.Logger
	now    func() time.Time
}

// NewFCMBackend initializes a Firebase app from discrete service account fields.
func NewFCMBackend(ctx context.Context, cfg FCMConfig, logger *zap.Logger) (*FCMBackend, error) {
	// .env files carry the PEM with escaped newlines
	privateKey := strings.ReplaceAll(cfg.PrivateKey, "\\n", "\n")

	credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, cfg.ProjectID, privateKey, cfg.ClientEmail)

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, option.WithCredentialsJSON([]byte(credsJSON)))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	logger.Info("firebase messaging initialized", zap.String("project_id", cfg.ProjectID))

	return &FCMBackend{client: client, logger: logger, now: time.Now}, nil
}

// Deliver sends p to a single registration token
func (b *FCMBackend) Deliver(ctx context.Context, deviceToken string, p Payload) error {
	msg := b.message(p)
	msg.Token = deviceToken

	id, err := b.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}

	b.logger.Debug("fcm accepted notification",
		observ.Token(deviceToken),
		zap.String("message_id", id),
	)
	return nil
}

// Broadcast sends p to every subscriber of topic
func (b *FCMBackend) Broadcast(ctx context.Context, topic string, p Payload) error {
	msg := b.message(p)
	msg.Topic = topic

	id, err := b.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm topic send: %w", err)
	}

	b.logger.Debug("fcm accepted broadcast",
		zap.String("topic", topic),
		zap.String("message_id", id),
	)
	return nil
}

func (b *FCMBackend) message(p Payload) *messaging.Message {
	sound := p.Sound
	if sound == "" {
		sound = "default"
	}
	pushType := p.PushType
	if pushType == "" {
		pushType = PushTypeAlert
	}

	headers := map[string]string{"apns-push-type": pushType}
	android := &messaging.AndroidConfig{
		Priority:     "high",
		Notification: &messaging.AndroidNotification{Sound: sound},
	}
	if !p.Expiry.IsZero() {
		headers["apns-expiration"] = strconv.FormatInt(p.Expiry.Unix(), 10)
		ttl := p.TTL(b.now())
		android.TTL = &ttl
	}

	aps := &messaging.Aps{
		Alert:          &messaging.ApsAlert{Title: p.Title, Body: p.Body},
		Sound:          sound,
		MutableContent: p.MutableContent,
	}
	if p.Badge > 0 {
		badge := p.Badge
		aps.Badge = &badge
	}

	return &messaging.Message{
		Notification: &messaging.Notification{Title: p.Title, Body: p.Body},
		Data:         p.Data,
		Android:      android,
		APNS: &messaging.APNSConfig{
			Headers: headers,
			Payload: &messaging.APNSPayload{Aps: aps},
		},
	}
}
