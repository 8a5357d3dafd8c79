package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/metrics"
	"github.com/tari-project/aurora-push/internal/observ"
)

// Delivery networks
const (
	NetworkAPNS = "apns"
	NetworkFCM  = "fcm"
	NetworkSNS  = "sns"
	NetworkLog  = "log"
)

var (
	// ErrNoBackend is returned when no backend is registered for a route.
	ErrNoBackend = errors.New("no push backend for route")
	// ErrDeliveryFailed is returned when a provider refused a notification.
	ErrDeliveryFailed = errors.New("push delivery failed")
)

// Backend delivers a payload to a single device token.
type Backend interface {
	Deliver(ctx context.Context, token string, p Payload) error
}

// Broadcaster is implemented by backends that can fan out to a topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, p Payload) error
}

// Route selects one credentialed backend instance.
type Route struct {
	Network string
	Sandbox bool
}

func (r Route) String() string {
	if r.Sandbox {
		return r.Network + "-sandbox"
	}
	return r.Network + "-production"
}

// Target is a resolved delivery destination.
type Target struct {
	Token string
	Route Route
}

// TargetFor routes a stored token over network, honouring its sandbox flag.
func TargetFor(network string, tok *db.DeviceToken) Target {
	return Target{
		Token: tok.Token,
		Route: Route{Network: network, Sandbox: tok.Sandbox},
	}
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Success bool
	Detail  string
}

// Router dispatches payloads to the backend registered for a route.
// Backends are built once at start-up and never shared across routes.
type Router struct {
	mu       sync.RWMutex
	backends map[Route]Backend
	logger   *zap.Logger
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		backends: make(map[Route]Backend),
		logger:   logger,
	}
}

// Register binds a backend to a route, replacing any previous binding.
func (r *Router) Register(route Route, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[route] = backend

	r.logger.Info("push backend registered", zap.String("route", route.String()))
}

// Has reports whether a backend is registered for route.
func (r *Router) Has(route Route) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[route]
	return ok
}

// Deliver sends p to the target. Every failure, including a missing backend
// or a panicking provider client, is reported as Success=false.
func (r *Router) Deliver(ctx context.Context, target Target, p Payload) (res Result) {
	r.mu.RLock()
	backend, ok := r.backends[target.Route]
	r.mu.RUnlock()

	if !ok {
		return Result{Detail: fmt.Sprintf("%v: %s", ErrNoBackend, target.Route)}
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push backend panicked",
				zap.String("route", target.Route.String()),
				zap.Any("panic", rec),
			)
			res = Result{Detail: fmt.Sprintf("backend panic: %v", rec)}
		}
		metrics.RecordDelivery(target.Route.Network, target.Route.Sandbox, res.Success, time.Since(start))
	}()

	var err error
	if p.Topic != "" {
		b, ok := backend.(Broadcaster)
		if !ok {
			return Result{Detail: fmt.Sprintf("%s does not support topic broadcast", target.Route)}
		}
		err = b.Broadcast(ctx, p.Topic, p)
	} else {
		err = backend.Deliver(ctx, target.Token, p)
	}

	if err != nil {
		r.logger.Warn("push delivery failed",
			zap.String("route", target.Route.String()),
			observ.Token(target.Token),
			zap.String("topic", p.Topic),
			zap.Error(err),
		)
		return Result{Detail: err.Error()}
	}

	r.logger.Debug("push delivered",
		zap.String("route", target.Route.String()),
		observ.Token(target.Token),
		zap.String("topic", p.Topic),
	)
	return Result{Success: true}
}
