package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/push"
)

// ProtectedBackend wraps a push.Backend with a CircuitBreaker. Calls fail
// fast with ErrCircuitOpen while the breaker is open.
//
// A provider that answered but refused one device (push.ErrDeliveryFailed)
// is healthy and does not count towards opening the breaker.
type ProtectedBackend struct {
	backend push.Backend
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedBackend wraps a backend with circuit breaker protection.
func NewProtectedBackend(backend push.Backend, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedBackend {
	return &ProtectedBackend{
		backend: backend,
		breaker: breaker,
		logger:  logger,
	}
}

// Deliver sends through the breaker.
func (p *ProtectedBackend) Deliver(ctx context.Context, token string, payload push.Payload) error {
	return p.call(func() error {
		return p.backend.Deliver(ctx, token, payload)
	})
}

// Broadcast sends a topic payload through the breaker. Backends without
// broadcast support fail without touching the breaker.
func (p *ProtectedBackend) Broadcast(ctx context.Context, topic string, payload push.Payload) error {
	b, ok := p.backend.(push.Broadcaster)
	if !ok {
		return fmt.Errorf("%s: topic broadcast not supported", p.breaker.Name())
	}
	return p.call(func() error {
		return b.Broadcast(ctx, topic, payload)
	})
}

func (p *ProtectedBackend) call(fn func() error) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected push, failing fast",
			zap.String("breaker", p.breaker.Name()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	// A panicking provider still has to release its half-open slot.
	defer func() {
		if r := recover(); r != nil {
			p.breaker.RecordFailure()
			p.logger.Error("push backend panicked",
				zap.String("breaker", p.breaker.Name()),
				zap.Any("panic", r),
			)
			panic(r)
		}
	}()

	err := fn()
	if err != nil && !errors.Is(err, push.ErrDeliveryFailed) {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return err
}
