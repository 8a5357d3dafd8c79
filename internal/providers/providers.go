// Package providers builds the push router from configuration. Every backend
// is constructed once here, wrapped in a circuit breaker and registered on
// its route.
package providers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/circuitbreaker"
	"github.com/tari-project/aurora-push/internal/config"
	"github.com/tari-project/aurora-push/internal/metrics"
	"github.com/tari-project/aurora-push/internal/push"
)

// Network returns the network that carries wallet tokens.
func Network(cfg *config.Config) string {
	if cfg.PushProvider == "sns" {
		return push.NetworkSNS
	}
	return push.NetworkAPNS
}

// AllRoutes lists the routes the relay and sweeper can select.
func AllRoutes(cfg *config.Config) []push.Route {
	wallet := Network(cfg)
	return []push.Route{
		{Network: wallet},
		{Network: wallet, Sandbox: true},
		{Network: push.NetworkFCM},
		{Network: push.NetworkFCM, Sandbox: true},
	}
}

type builder struct {
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger
	router *push.Router
}

// NewRouter constructs and registers the configured backends. Outside
// production, routes without credentials fall back to a log-only backend.
func NewRouter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*push.Router, error) {
	b := &builder{ctx: ctx, cfg: cfg, logger: logger, router: push.NewRouter(logger)}

	var apnsSandbox push.Backend
	var err error

	switch Network(cfg) {
	case push.NetworkAPNS:
		apnsSandbox, err = b.apns()
	case push.NetworkSNS:
		err = b.sns()
	}
	if err != nil {
		return nil, err
	}

	if err := b.fcm(apnsSandbox); err != nil {
		return nil, err
	}

	for _, route := range AllRoutes(cfg) {
		if b.router.Has(route) {
			continue
		}
		if cfg.Env == "production" {
			logger.Warn("no backend configured for route", zap.String("route", route.String()))
			continue
		}
		b.router.Register(route, push.NewLogBackend(logger.With(zap.String("route", route.String()))))
	}

	return b.router, nil
}

func (b *builder) register(route push.Route, backend push.Backend) push.Backend {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        route.String(),
		MaxFailures: b.cfg.CircuitMaxFailures,
		OnStateChange: func(name string, to circuitbreaker.State) {
			metrics.SetCircuitState(name, int(to))
		},
	}, b.logger)

	protected := circuitbreaker.NewProtectedBackend(backend, breaker, b.logger)
	b.router.Register(route, protected)
	b.logger.Info("push route registered", zap.String("route", route.String()))
	return protected
}

// apns returns the sandbox backend so the app network can reuse it.
func (b *builder) apns() (push.Backend, error) {
	if b.cfg.APNSKeyPath == "" {
		return nil, nil
	}

	var sandbox push.Backend
	for _, isSandbox := range []bool{false, true} {
		backend, err := push.NewAPNSBackend(push.APNSConfig{
			KeyPath: b.cfg.APNSKeyPath,
			KeyID:   b.cfg.APNSKeyID,
			TeamID:  b.cfg.APNSTeamID,
			Topic:   b.cfg.APNSTopic,
			Sandbox: isSandbox,
		}, b.logger)
		if err != nil {
			return nil, err
		}
		registered := b.register(push.Route{Network: push.NetworkAPNS, Sandbox: isSandbox}, backend)
		if isSandbox {
			sandbox = registered
		}
	}
	return sandbox, nil
}

func (b *builder) sns() error {
	routes := []struct {
		arn      string
		platform string
		sandbox  bool
	}{
		{b.cfg.SNSAPNSArn, push.SNSPlatformAPNS, false},
		{b.cfg.SNSAPNSSandboxArn, push.SNSPlatformAPNSSandbox, true},
	}

	for _, r := range routes {
		if r.arn == "" {
			continue
		}
		backend, err := push.NewSNSBackend(b.ctx, push.SNSConfig{
			Region:         b.cfg.AWSRegion,
			PlatformArn:    r.arn,
			Platform:       r.platform,
			BroadcastTopic: b.cfg.SNSBroadcastTopicArn,
		}, b.logger)
		if err != nil {
			return fmt.Errorf("sns %s backend: %w", r.platform, err)
		}
		b.register(push.Route{Network: push.NetworkSNS, Sandbox: r.sandbox}, backend)
	}
	return nil
}

// fcm registers the app network. Sandbox app tokens belong to iOS
// development builds and go to the APNs sandbox when it exists.
func (b *builder) fcm(apnsSandbox push.Backend) error {
	switch {
	case b.cfg.FirebaseProjectID != "":
		backend, err := push.NewFCMBackend(b.ctx, push.FCMConfig{
			ProjectID:   b.cfg.FirebaseProjectID,
			ClientEmail: b.cfg.FirebaseClientEmail,
			PrivateKey:  b.cfg.FirebasePrivateKey,
		}, b.logger)
		if err != nil {
			return err
		}
		b.register(push.Route{Network: push.NetworkFCM}, backend)
	case b.cfg.SNSGCMArn != "":
		backend, err := push.NewSNSBackend(b.ctx, push.SNSConfig{
			Region:         b.cfg.AWSRegion,
			PlatformArn:    b.cfg.SNSGCMArn,
			Platform:       push.SNSPlatformGCM,
			BroadcastTopic: b.cfg.SNSBroadcastTopicArn,
		}, b.logger)
		if err != nil {
			return fmt.Errorf("sns GCM backend: %w", err)
		}
		b.register(push.Route{Network: push.NetworkFCM}, backend)
	}

	if apnsSandbox != nil {
		b.router.Register(push.Route{Network: push.NetworkFCM, Sandbox: true}, apnsSandbox)
	}
	return nil
}
