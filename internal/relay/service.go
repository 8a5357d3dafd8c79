// Package relay implements the request-driven side of the push relay:
// device registration, immediate sends and reminder cancellation.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/observ"
	"github.com/tari-project/aurora-push/internal/push"
)

var (
	// ErrNoDevices is returned when the recipient has no registered token.
	ErrNoDevices = errors.New("no registered devices")
	// ErrUnknownEvent is returned for a send event other than sent or received.
	ErrUnknownEvent = errors.New("unknown send event")
	// ErrInvalidPlatform is returned when registering a platform other than ios or android.
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Send events. The wallet sending funds reports EventSent; the recipient
// confirming receipt back to the sender reports EventReceived.
const (
	EventSent     = "sent"
	EventReceived = "received"
)

// TokenStore is the registry the service reads and writes.
type TokenStore interface {
	UpsertToken(ctx context.Context, reg db.TokenRegistration) error
	RemoveToken(ctx context.Context, identity, token string) error
	LookupTokens(ctx context.Context, identity string) ([]*db.DeviceToken, error)
	LookupAppTokens(ctx context.Context, appID, userID string) ([]*db.DeviceToken, error)
}

// Dispatcher delivers a payload to one target.
type Dispatcher interface {
	Deliver(ctx context.Context, target push.Target, p push.Payload) push.Result
}

// Reminders schedules and cancels follow-up notifications.
type Reminders interface {
	ScheduleForRecipientPath(ctx context.Context, recipient, sender string) error
	ScheduleForSenderPath(ctx context.Context, recipient, sender string) error
	CancelAll(ctx context.Context, identity string) (int64, error)
}

// Config holds the relay policy.
type Config struct {
	// Network carries wallet (pub key) tokens; AppNetwork carries app/user tokens.
	Network    string
	AppNetwork string

	Ticker          string
	ExpirePushAfter time.Duration
}

// Service wires the registry, router and reminder scheduler together.
type Service struct {
	tokens    TokenStore
	router    Dispatcher
	reminders Reminders // nil when reminders are disabled
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a relay service. reminders may be nil.
func NewService(tokens TokenStore, router Dispatcher, reminders Reminders, cfg Config, logger *zap.Logger) *Service {
	if cfg.AppNetwork == "" {
		cfg.AppNetwork = push.NetworkFCM
	}
	return &Service{
		tokens:    tokens,
		router:    router,
		reminders: reminders,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Register stores a device token for reg.Identity.
func (s *Service) Register(ctx context.Context, reg db.TokenRegistration) error {
	reg.Platform = strings.ToLower(strings.TrimSpace(reg.Platform))
	if reg.Platform != db.PlatformIOS && reg.Platform != db.PlatformAndroid {
		return fmt.Errorf("%w: %q", ErrInvalidPlatform, reg.Platform)
	}

	if err := s.tokens.UpsertToken(ctx, reg); err != nil {
		return fmt.Errorf("register token: %w", err)
	}

	s.logger.Info("device registered",
		zap.String("pub_key", db.NormalizeIdentity(reg.Identity)),
		zap.String("platform", reg.Platform),
		zap.Bool("sandbox", reg.Sandbox),
		observ.Token(reg.Token),
	)
	return nil
}

// Deregister removes one device token. db.ErrNotFound is passed through.
func (s *Service) Deregister(ctx context.Context, identity, token string) error {
	if err := s.tokens.RemoveToken(ctx, identity, token); err != nil {
		return fmt.Errorf("deregister token: %w", err)
	}
	s.logger.Info("device removed", zap.String("pub_key", db.NormalizeIdentity(identity)), observ.Token(token))
	return nil
}

// SendRequest is an authenticated wallet-to-wallet notification.
type SendRequest struct {
	To    string
	From  string
	Event string
}

// AppSendRequest is an authenticated notification addressed by app or user id.
type AppSendRequest struct {
	To     string
	From   string
	AppID  string
	UserID string
	Title  string
	Body   string
	Topic  string
}

// Delivery is the outcome for one device.
type Delivery struct {
	Token   string
	Sandbox bool
	Success bool
	Detail  string
}

// SendResult is the fan-out outcome. Success is true if at least one
// delivery succeeded.
type SendResult struct {
	Success    bool
	Deliveries []Delivery
}

// Err aggregates the failed deliveries, or returns nil if none failed.
func (r SendResult) Err() error {
	var errs *multierror.Error
	for _, d := range r.Deliveries {
		if !d.Success {
			errs = multierror.Append(errs, fmt.Errorf("token %s: %s", d.Token, d.Detail))
		}
	}
	return errs.ErrorOrNil()
}

// Send notifies every device of req.To that funds arrived and hands the
// transfer to the reminder scheduler. Reminder failures never change the result.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	event := req.Event
	if event == "" {
		event = EventSent
	}
	if event != EventSent && event != EventReceived {
		return SendResult{}, fmt.Errorf("%w: %q", ErrUnknownEvent, req.Event)
	}

	tokens, err := s.tokens.LookupTokens(ctx, req.To)
	if err != nil {
		return SendResult{}, fmt.Errorf("look up tokens: %w", err)
	}

	s.scheduleReminders(ctx, event, db.NormalizeIdentity(req.To), db.NormalizeIdentity(req.From))

	if len(tokens) == 0 {
		return SendResult{}, ErrNoDevices
	}

	payload := push.Alert(
		fmt.Sprintf("You've got %s", s.cfg.Ticker),
		fmt.Sprintf("Someone just sent you %s.", s.cfg.Ticker),
		s.now().Add(s.cfg.ExpirePushAfter),
	)

	res := s.fanOut(ctx, s.cfg.Network, tokens, payload)
	s.logResult("send", req.To, res)
	return res, nil
}

// SendApp notifies the devices registered under req.AppID or req.UserID.
// A topic turns the send into a single broadcast.
func (s *Service) SendApp(ctx context.Context, req AppSendRequest) (SendResult, error) {
	tokens, err := s.tokens.LookupAppTokens(ctx, req.AppID, req.UserID)
	if err != nil {
		return SendResult{}, fmt.Errorf("look up app tokens: %w", err)
	}
	if len(tokens) == 0 {
		return SendResult{}, ErrNoDevices
	}

	payload := push.Alert(req.Title, req.Body, s.now().Add(s.cfg.ExpirePushAfter))

	var res SendResult
	if req.Topic != "" {
		payload.Topic = req.Topic
		out := s.router.Deliver(ctx, push.Target{Route: push.Route{Network: s.cfg.AppNetwork}}, payload)
		res = SendResult{
			Success:    out.Success,
			Deliveries: []Delivery{{Token: "topic:" + req.Topic, Success: out.Success, Detail: out.Detail}},
		}
	} else {
		res = s.fanOut(ctx, s.cfg.AppNetwork, tokens, payload)
	}

	if s.reminders != nil && req.To != "" {
		if err := s.reminders.ScheduleForSenderPath(ctx, db.NormalizeIdentity(req.To), db.NormalizeIdentity(req.From)); err != nil {
			s.logger.Error("failed to schedule reminders", zap.Error(err))
		}
	}

	s.logResult("send_app", req.To, res)
	return res, nil
}

// CancelReminders drops every pending reminder for identity.
func (s *Service) CancelReminders(ctx context.Context, identity string) (int64, error) {
	if s.reminders == nil {
		return 0, nil
	}
	n, err := s.reminders.CancelAll(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}
	s.logger.Info("reminders cancelled", zap.String("pub_key", db.NormalizeIdentity(identity)), zap.Int64("count", n))
	return n, nil
}

func (s *Service) fanOut(ctx context.Context, network string, tokens []*db.DeviceToken, payload push.Payload) SendResult {
	res := SendResult{Deliveries: make([]Delivery, 0, len(tokens))}
	for _, tok := range tokens {
		out := s.router.Deliver(ctx, push.TargetFor(network, tok), payload)
		res.Deliveries = append(res.Deliveries, Delivery{
			Token:   observ.RedactToken(tok.Token),
			Sandbox: tok.Sandbox,
			Success: out.Success,
			Detail:  out.Detail,
		})
		if out.Success {
			res.Success = true
		}
	}
	return res
}

// scheduleReminders maps the send event onto a reminder path. A sent event
// starts the recipient path; a received event starts the sender path with
// the roles swapped back, since From is then the recipient of the funds.
func (s *Service) scheduleReminders(ctx context.Context, event, to, from string) {
	if s.reminders == nil {
		return
	}

	var err error
	switch event {
	case EventReceived:
		err = s.reminders.ScheduleForSenderPath(ctx, from, to)
	default:
		err = s.reminders.ScheduleForRecipientPath(ctx, to, from)
	}
	if err != nil {
		s.logger.Error("failed to schedule reminders",
			zap.Error(err),
			zap.String("event", event),
			zap.String("to", to),
		)
	}
}

func (s *Service) logResult(op, to string, res SendResult) {
	if err := res.Err(); err != nil {
		s.logger.Warn("some deliveries failed",
			zap.String("op", op),
			zap.String("to", to),
			zap.Bool("success", res.Success),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("push delivered",
		zap.String("op", op),
		zap.String("to", to),
		zap.Int("devices", len(res.Deliveries)),
	)
}
