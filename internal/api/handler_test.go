package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/auth"
	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/relay"
)

// fakeGate allows any claim signed "good" and records what it was asked.
type fakeGate struct {
	routes []string
	claims []auth.Claim
}

func (g *fakeGate) Authenticate(route string, claim auth.Claim) auth.Decision {
	g.routes = append(g.routes, route)
	g.claims = append(g.claims, claim)
	if claim.Signature == "good" {
		return auth.Decision{Allowed: true}
	}
	return auth.Decision{Reason: "Invalid request signature. bad is not a valid hex representation of a signature"}
}

type fakeRelay struct {
	registered   []db.TokenRegistration
	deregistered []string
	sends        []relay.SendRequest
	appSends     []relay.AppSendRequest
	cancelled    []string

	err     error
	sendRes relay.SendResult
}

func (f *fakeRelay) Register(ctx context.Context, reg db.TokenRegistration) error {
	f.registered = append(f.registered, reg)
	return f.err
}

func (f *fakeRelay) Deregister(ctx context.Context, identity, token string) error {
	f.deregistered = append(f.deregistered, identity+"/"+token)
	return f.err
}

func (f *fakeRelay) Send(ctx context.Context, req relay.SendRequest) (relay.SendResult, error) {
	f.sends = append(f.sends, req)
	return f.sendRes, f.err
}

func (f *fakeRelay) SendApp(ctx context.Context, req relay.AppSendRequest) (relay.SendResult, error) {
	f.appSends = append(f.appSends, req)
	return f.sendRes, f.err
}

func (f *fakeRelay) CancelReminders(ctx context.Context, identity string) (int64, error) {
	f.cancelled = append(f.cancelled, identity)
	return 3, f.err
}

type fakeHealth bool

func (f fakeHealth) HealthProbe(ctx context.Context) bool { return bool(f) }

func newTestServer(rel *fakeRelay, gate *fakeGate, opts Options) http.Handler {
	h := NewHandler(zap.NewNop(), rel, gate, fakeHealth(true), opts)
	r := chi.NewRouter()
	h.Routes(r, nil)
	return r
}

func do(t *testing.T, srv http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	rel := &fakeRelay{}
	gate := &fakeGate{}
	srv := newTestServer(rel, gate, Options{})

	rec := do(t, srv, http.MethodPost, "/register/abcd", RegisterRequest{
		Token: "device-token", Platform: "ios", Sandbox: true, Signature: "good", PublicNonce: "n",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(rel.registered) != 1 || rel.registered[0].Identity != "abcd" || !rel.registered[0].Sandbox {
		t.Errorf("unexpected registration %+v", rel.registered)
	}

	claim := gate.claims[0]
	if claim.Identity != "abcd" || len(claim.Context) != 1 || claim.Context[0] != "device-token" || !claim.AllowLegacy {
		t.Errorf("unexpected claim %+v", claim)
	}
}

func TestRegister_EmptyIDsAreDropped(t *testing.T) {
	rel := &fakeRelay{}
	srv := newTestServer(rel, &fakeGate{}, Options{})

	rec := do(t, srv, http.MethodPost, "/register/abcd", map[string]interface{}{
		"token":        "device-token",
		"platform":     "android",
		"app_id":       "",
		"user_id":      "wallet-user",
		"signature":    "good",
		"public_nonce": "n",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(rel.registered) != 1 {
		t.Fatalf("expected one registration, got %d", len(rel.registered))
	}
	reg := rel.registered[0]
	if reg.AppID != nil {
		t.Errorf("expected empty app_id to be dropped, got %q", *reg.AppID)
	}
	if reg.UserID == nil || *reg.UserID != "wallet-user" {
		t.Errorf("expected user_id to be kept, got %v", reg.UserID)
	}
}

func TestRegister_InvalidSignature(t *testing.T) {
	rel := &fakeRelay{}
	srv := newTestServer(rel, &fakeGate{}, Options{})

	rec := do(t, srv, http.MethodPost, "/register/abcd", RegisterRequest{
		Token: "device-token", Platform: "ios", Signature: "bad",
	})

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(rel.registered) != 0 {
		t.Error("rejected request must not touch the registry")
	}

	var resp ErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Type != "invalid_signature" {
		t.Errorf("expected invalid_signature, got %s", resp.Type)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{"token":`, nil, http.StatusBadRequest},
		{"missing token", `{"platform":"ios","signature":"good"}`, nil, http.StatusBadRequest},
		{"bad platform", `{"token":"t","platform":"palm","signature":"good"}`, relay.ErrInvalidPlatform, http.StatusBadRequest},
		{"store down", `{"token":"t","platform":"ios","signature":"good"}`, errors.New("pool closed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeRelay{err: tt.err}, &fakeGate{}, Options{})

			req := httptest.NewRequest(http.MethodPost, "/register/abcd", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %s", ct)
			}
		})
	}
}

func TestDeregister(t *testing.T) {
	rel := &fakeRelay{}
	srv := newTestServer(rel, &fakeGate{}, Options{})

	rec := do(t, srv, http.MethodDelete, "/register/abcd", DeregisterRequest{Token: "tok", Signature: "good"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rel.deregistered[0] != "abcd/tok" {
		t.Errorf("unexpected deregistration %v", rel.deregistered)
	}

	missing := newTestServer(&fakeRelay{err: db.ErrNotFound}, &fakeGate{}, Options{})
	rec = do(t, missing, http.MethodDelete, "/register/abcd", DeregisterRequest{Token: "tok", Signature: "good"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSend(t *testing.T) {
	rel := &fakeRelay{sendRes: relay.SendResult{
		Success:    true,
		Deliveries: []relay.Delivery{{Token: "abcd...", Success: true}, {Token: "efgh...", Detail: "Unregistered"}},
	}}
	gate := &fakeGate{}
	srv := newTestServer(rel, gate, Options{})

	rec := do(t, srv, http.MethodPost, "/send/recipient", SendRequest{FromPubKey: "sender", Signature: "good", Event: "received"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp SuccessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || len(resp.Deliveries) != 2 {
		t.Errorf("unexpected response %+v", resp)
	}

	if rel.sends[0] != (relay.SendRequest{To: "recipient", From: "sender", Event: "received"}) {
		t.Errorf("unexpected send %+v", rel.sends[0])
	}
	claim := gate.claims[0]
	if claim.Identity != "sender" || claim.Context[0] != "recipient" {
		t.Errorf("send must be signed by the sender over the recipient, got %+v", claim)
	}
}

func TestSend_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		res    relay.SendResult
		err    error
		status int
	}{
		{"no devices", relay.SendResult{}, relay.ErrNoDevices, http.StatusNotFound},
		{"unknown event", relay.SendResult{}, relay.ErrUnknownEvent, http.StatusBadRequest},
		{"store error", relay.SendResult{}, errors.New("timeout"), http.StatusInternalServerError},
		{"all deliveries failed", relay.SendResult{Deliveries: []relay.Delivery{{Detail: "x"}}}, nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeRelay{sendRes: tt.res, err: tt.err}, &fakeGate{}, Options{})
			rec := do(t, srv, http.MethodPost, "/send/recipient", SendRequest{FromPubKey: "sender", Signature: "good"})
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestSend_MissingSender(t *testing.T) {
	srv := newTestServer(&fakeRelay{}, &fakeGate{}, Options{})
	rec := do(t, srv, http.MethodPost, "/send/recipient", SendRequest{Signature: "good"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSendApp(t *testing.T) {
	rel := &fakeRelay{sendRes: relay.SendResult{Success: true}}
	gate := &fakeGate{}
	srv := newTestServer(rel, gate, Options{})

	rec := do(t, srv, http.MethodPost, "/send-app", AppSendRequest{
		ToPubKey: "r", FromPubKey: "s", AppID: "app-1", UserID: "user-1", Title: "T", Body: "B", Signature: "good",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	claim := gate.claims[0]
	if claim.AllowLegacy {
		t.Error("app sends have no legacy format")
	}
	if len(claim.Context) != 2 || claim.Context[0] != "app-1" || claim.Context[1] != "user-1" {
		t.Errorf("unexpected context %v", claim.Context)
	}
	if rel.appSends[0].Title != "T" {
		t.Errorf("unexpected app send %+v", rel.appSends[0])
	}
}

func TestCancelReminders(t *testing.T) {
	rel := &fakeRelay{}
	gate := &fakeGate{}
	srv := newTestServer(rel, gate, Options{})

	rec := do(t, srv, http.MethodPost, "/cancel-reminders/abcd", SignedRequest{Signature: "good"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp SuccessResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Cancelled == nil || *resp.Cancelled != 3 {
		t.Errorf("expected 3 cancelled, got %+v", resp)
	}
	if gate.claims[0].Context[0] != "cancel-reminders" || gate.claims[0].AllowLegacy {
		t.Errorf("unexpected claim %+v", gate.claims[0])
	}
}

func TestHealth(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "AuthKey.p8")
	if err := os.WriteFile(keyPath, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		db      bool
		keyPath string
		body    string
	}{
		{"ok without apns", true, "", HealthOK},
		{"ok with apns key", true, keyPath, HealthOK},
		{"db down", false, keyPath, HealthDBUnreachable},
		{"key missing", true, filepath.Join(t.TempDir(), "missing.p8"), HealthCertUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(zap.NewNop(), &fakeRelay{}, &fakeGate{}, fakeHealth(tt.db), Options{APNSKeyPath: tt.keyPath})
			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Body.String() != tt.body {
				t.Errorf("expected %q, got %q", tt.body, rec.Body.String())
			}
		})
	}
}

func TestVersion(t *testing.T) {
	srv := newTestServer(&fakeRelay{}, &fakeGate{}, Options{Version: "1.2.3", Production: true})
	rec := do(t, srv, http.MethodGet, "/", nil)

	var resp VersionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "1.2.3" || !resp.Production {
		t.Errorf("unexpected version %+v", resp)
	}
}
