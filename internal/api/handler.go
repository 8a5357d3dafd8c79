package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/auth"
	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/relay"
)

// Relay is the service behind the HTTP surface.
type Relay interface {
	Register(ctx context.Context, reg db.TokenRegistration) error
	Deregister(ctx context.Context, identity, token string) error
	Send(ctx context.Context, req relay.SendRequest) (relay.SendResult, error)
	SendApp(ctx context.Context, req relay.AppSendRequest) (relay.SendResult, error)
	CancelReminders(ctx context.Context, identity string) (int64, error)
}

// Authenticator checks request signatures.
type Authenticator interface {
	Authenticate(route string, claim auth.Claim) auth.Decision
}

// HealthProber reports whether the token store is reachable.
type HealthProber interface {
	HealthProbe(ctx context.Context) bool
}

// Health check responses. The wallet monitors these exact bodies.
const (
	HealthOK             = "0"
	HealthDBUnreachable  = "1"
	HealthCertUnreadable = "2"
)

// RegisterRequest is the body of POST /register/{pub_key}.
type RegisterRequest struct {
	Token       string  `json:"token"`
	Platform    string  `json:"platform"`
	Sandbox     bool    `json:"sandbox"`
	AppID       *string `json:"app_id,omitempty"`
	UserID      *string `json:"user_id,omitempty"`
	Signature   string  `json:"signature"`
	PublicNonce string  `json:"public_nonce"`
}

// DeregisterRequest is the body of DELETE /register/{pub_key}.
type DeregisterRequest struct {
	Token       string `json:"token"`
	Signature   string `json:"signature"`
	PublicNonce string `json:"public_nonce"`
}

// SendRequest is the body of POST /send/{to_pub_key}.
type SendRequest struct {
	FromPubKey  string `json:"from_pub_key"`
	Signature   string `json:"signature"`
	PublicNonce string `json:"public_nonce"`
	Event       string `json:"event,omitempty"`
}

// AppSendRequest is the body of POST /send-app.
type AppSendRequest struct {
	ToPubKey    string `json:"to_pub_key"`
	FromPubKey  string `json:"from_pub_key"`
	AppID       string `json:"app_id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Topic       string `json:"topic,omitempty"`
	Signature   string `json:"signature"`
	PublicNonce string `json:"public_nonce"`
}

// SignedRequest is the body of POST /cancel-reminders/{pub_key}.
type SignedRequest struct {
	Signature   string `json:"signature"`
	PublicNonce string `json:"public_nonce"`
}

// SuccessResponse is returned by every mutating route.
type SuccessResponse struct {
	Success    bool       `json:"success"`
	Cancelled  *int64     `json:"cancelled,omitempty"`
	Deliveries []Delivery `json:"deliveries,omitempty"`
}

// Delivery reports one device outcome with the token redacted.
type Delivery struct {
	Token   string `json:"token"`
	Sandbox bool   `json:"sandbox"`
	Success bool   `json:"success"`
}

// VersionResponse is returned by GET /.
type VersionResponse struct {
	Version    string `json:"version"`
	Production bool   `json:"production"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	relay       Relay
	gate        Authenticator
	health      HealthProber
	apnsKeyPath string
	version     VersionResponse
}

// Options carries the optional handler settings.
type Options struct {
	// APNSKeyPath is checked for readability by the health route when set.
	APNSKeyPath string
	Version     string
	Production  bool
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, relay Relay, gate Authenticator, health HealthProber, opts Options) *Handler {
	return &Handler{
		logger:      logger,
		relay:       relay,
		gate:        gate,
		health:      health,
		apnsKeyPath: opts.APNSKeyPath,
		version:     VersionResponse{Version: opts.Version, Production: opts.Production},
	}
}

// Routes mounts the relay routes on r. sendLimit throttles the send routes
// and may be nil.
func (h *Handler) Routes(r chi.Router, sendLimit func(http.Handler) http.Handler) {
	if sendLimit == nil {
		sendLimit = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/", h.Version)
	r.Get("/health", h.Health)

	r.Post("/register/{pub_key}", h.Register)
	r.Delete("/register/{pub_key}", h.Deregister)
	r.Post("/cancel-reminders/{pub_key}", h.CancelReminders)

	r.Group(func(r chi.Router) {
		r.Use(sendLimit)
		r.Post("/send/{to_pub_key}", h.Send)
		r.Post("/send-app", h.SendApp)
	})
}

// Register handles POST /register/{pub_key}
// Signed message: secret + pub_key + token.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	pubKey := chi.URLParam(r, "pub_key")

	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" || req.Platform == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "token and platform are required")
		return
	}

	if !h.authenticate(w, "register", auth.Claim{
		Identity:    pubKey,
		Signature:   req.Signature,
		PublicNonce: req.PublicNonce,
		Context:     []string{req.Token},
		AllowLegacy: true,
	}) {
		return
	}

	err := h.relay.Register(r.Context(), db.TokenRegistration{
		Identity: pubKey,
		Token:    req.Token,
		Platform: req.Platform,
		Sandbox:  req.Sandbox,
		AppID:    optional(req.AppID),
		UserID:   optional(req.UserID),
	})
	switch {
	case errors.Is(err, relay.ErrInvalidPlatform), errors.Is(err, db.ErrInvalidToken):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid registration", err.Error())
		return
	case err != nil:
		h.logger.Error("failed to register token", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register device", "")
		return
	}

	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Deregister handles DELETE /register/{pub_key}
func (h *Handler) Deregister(w http.ResponseWriter, r *http.Request) {
	pubKey := chi.URLParam(r, "pub_key")

	var req DeregisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.authenticate(w, "deregister", auth.Claim{
		Identity:    pubKey,
		Signature:   req.Signature,
		PublicNonce: req.PublicNonce,
		Context:     []string{req.Token},
		AllowLegacy: true,
	}) {
		return
	}

	err := h.relay.Deregister(r.Context(), pubKey, req.Token)
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Device not registered", "")
		return
	case err != nil:
		h.logger.Error("failed to remove token", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to remove device", "")
		return
	}

	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// Send handles POST /send/{to_pub_key}
// Signed by the sender over secret + from_pub_key + to_pub_key.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	toPubKey := chi.URLParam(r, "to_pub_key")

	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.FromPubKey == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "from_pub_key is required")
		return
	}

	if !h.authenticate(w, "send", auth.Claim{
		Identity:    req.FromPubKey,
		Signature:   req.Signature,
		PublicNonce: req.PublicNonce,
		Context:     []string{toPubKey},
		AllowLegacy: true,
	}) {
		return
	}

	res, err := h.relay.Send(r.Context(), relay.SendRequest{
		To:    toPubKey,
		From:  req.FromPubKey,
		Event: req.Event,
	})
	h.writeSendResult(w, res, err)
}

// SendApp handles POST /send-app
// Signed by the sender over secret + from_pub_key + app_id + user_id.
func (h *Handler) SendApp(w http.ResponseWriter, r *http.Request) {
	var req AppSendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.FromPubKey == "" || (req.AppID == "" && req.UserID == "") {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "from_pub_key and app_id or user_id are required")
		return
	}

	if !h.authenticate(w, "send_app", auth.Claim{
		Identity:    req.FromPubKey,
		Signature:   req.Signature,
		PublicNonce: req.PublicNonce,
		Context:     []string{req.AppID, req.UserID},
	}) {
		return
	}

	res, err := h.relay.SendApp(r.Context(), relay.AppSendRequest{
		To:     req.ToPubKey,
		From:   req.FromPubKey,
		AppID:  req.AppID,
		UserID: req.UserID,
		Title:  req.Title,
		Body:   req.Body,
		Topic:  req.Topic,
	})
	h.writeSendResult(w, res, err)
}

// CancelReminders handles POST /cancel-reminders/{pub_key}
// Signed message: secret + pub_key + "cancel-reminders".
func (h *Handler) CancelReminders(w http.ResponseWriter, r *http.Request) {
	pubKey := chi.URLParam(r, "pub_key")

	var req SignedRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.authenticate(w, "cancel_reminders", auth.Claim{
		Identity:    pubKey,
		Signature:   req.Signature,
		PublicNonce: req.PublicNonce,
		Context:     []string{"cancel-reminders"},
	}) {
		return
	}

	n, err := h.relay.CancelReminders(r.Context(), pubKey)
	if err != nil {
		h.logger.Error("failed to cancel reminders", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to cancel reminders", "")
		return
	}

	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Cancelled: &n})
}

// Health handles GET /health. The body is a single status digit.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if h.health != nil && !h.health.HealthProbe(r.Context()) {
		h.logger.Error("health check: database unreachable")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(HealthDBUnreachable))
		return
	}

	if h.apnsKeyPath != "" {
		f, err := os.Open(h.apnsKeyPath)
		if err != nil {
			h.logger.Error("health check: apns key unreadable", zap.Error(err))
			_, _ = w.Write([]byte(HealthCertUnreadable))
			return
		}
		_ = f.Close()
	}

	_, _ = w.Write([]byte(HealthOK))
}

// Version handles GET /
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.version)
}

func (h *Handler) authenticate(w http.ResponseWriter, route string, claim auth.Claim) bool {
	decision := h.gate.Authenticate(route, claim)
	if decision.Allowed {
		return true
	}
	h.writeError(w, http.StatusForbidden, "invalid_signature", "Forbidden", decision.Reason)
	return false
}

func (h *Handler) writeSendResult(w http.ResponseWriter, res relay.SendResult, err error) {
	switch {
	case errors.Is(err, relay.ErrNoDevices):
		h.writeError(w, http.StatusNotFound, "not_found", "No registered devices", "")
		return
	case errors.Is(err, relay.ErrUnknownEvent):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid event", err.Error())
		return
	case err != nil:
		h.logger.Error("send failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get device tokens", "")
		return
	}

	if !res.Success {
		h.writeError(w, http.StatusInternalServerError, "delivery_failed", "Failed to send push notification", "")
		return
	}

	out := SuccessResponse{Success: true, Deliveries: make([]Delivery, 0, len(res.Deliveries))}
	for _, d := range res.Deliveries {
		out.Deliveries = append(out.Deliveries, Delivery{Token: d.Token, Sandbox: d.Sandbox, Success: d.Success})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// optional treats an empty id like an absent one so it never overwrites a
// stored value.
func optional(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
