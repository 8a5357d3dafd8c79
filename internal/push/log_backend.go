package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/observ"
)

// LogBackend logs notifications instead of delivering them (development only).
type LogBackend struct {
	logger *zap.Logger
}

func NewLogBackend(logger *zap.Logger) *LogBackend {
	return &LogBackend{logger: logger}
}

func (b *LogBackend) Deliver(ctx context.Context, token string, p Payload) error {
	b.logger.Info("push notification",
		observ.Token(token),
		zap.String("title", p.Title),
		zap.String("body", p.Body),
		zap.Time("expiry", p.Expiry),
	)
	return nil
}

func (b *LogBackend) Broadcast(ctx context.Context, topic string, p Payload) error {
	b.logger.Info("push broadcast",
		zap.String("topic", topic),
		zap.String("title", p.Title),
		zap.String("body", p.Body),
	)
	return nil
}
