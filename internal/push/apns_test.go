package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sideshow/apns2"
	"go.uber.org/zap"
)

type fakePusher struct {
	res  *apns2.Response
	err  error
	sent []*apns2.Notification
}

func (f *fakePusher) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.sent = append(f.sent, n)
	return f.res, f.err
}

func TestAPNSBackend_Deliver(t *testing.T) {
	pusher := &fakePusher{res: &apns2.Response{StatusCode: apns2.StatusSent, ApnsID: "abc"}}
	b := &APNSBackend{client: pusher, topic: "com.tari.wallet", logger: zap.NewNop()}

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	p := Alert("You've got tXTR", "Someone just sent you tXTR.", expiry)

	if err := b.Deliver(context.Background(), "device-token", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pusher.sent) != 1 {
		t.Fatalf("expected 1 push, got %d", len(pusher.sent))
	}
	n := pusher.sent[0]
	if n.Topic != "com.tari.wallet" || n.DeviceToken != "device-token" {
		t.Errorf("unexpected notification target %+v", n)
	}
	if !n.Expiration.Equal(expiry) {
		t.Errorf("expected expiry %s, got %s", expiry, n.Expiration)
	}
	if n.PushType != apns2.PushTypeAlert {
		t.Errorf("expected alert push type, got %s", n.PushType)
	}

	raw, err := json.Marshal(n.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Aps struct {
			Alert struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			} `json:"alert"`
			Badge          int    `json:"badge"`
			Sound          string `json:"sound"`
			MutableContent int    `json:"mutable-content"`
		} `json:"aps"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Aps.Alert.Title != "You've got tXTR" || doc.Aps.Sound != "ping.aiff" || doc.Aps.Badge != 1 || doc.Aps.MutableContent != 1 {
		t.Errorf("unexpected aps payload %s", raw)
	}
}

func TestAPNSBackend_Rejected(t *testing.T) {
	pusher := &fakePusher{res: &apns2.Response{StatusCode: 410, Reason: apns2.ReasonUnregistered}}
	b := &APNSBackend{client: pusher, logger: zap.NewNop()}

	err := b.Deliver(context.Background(), "stale", Alert("t", "b", time.Now()))
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestAPNSBackend_TransportError(t *testing.T) {
	pusher := &fakePusher{err: errors.New("connection reset")}
	b := &APNSBackend{client: pusher, logger: zap.NewNop()}

	if err := b.Deliver(context.Background(), "t", Alert("t", "b", time.Now())); err == nil {
		t.Error("expected error")
	}
}

func writeAuthKey(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "AuthKey.p8")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewAPNSBackend(t *testing.T) {
	path := writeAuthKey(t)

	prod, err := NewAPNSBackend(APNSConfig{KeyPath: path, KeyID: "KEY", TeamID: "TEAM", Topic: "com.tari.wallet"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c := prod.client.(*apns2.Client); c.Host != apns2.HostProduction {
		t.Errorf("expected production host, got %s", c.Host)
	}

	dev, err := NewAPNSBackend(APNSConfig{KeyPath: path, KeyID: "KEY", TeamID: "TEAM", Sandbox: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c := dev.client.(*apns2.Client); c.Host != apns2.HostDevelopment {
		t.Errorf("expected development host, got %s", c.Host)
	}
}

func TestNewAPNSBackend_MissingKey(t *testing.T) {
	_, err := NewAPNSBackend(APNSConfig{KeyPath: filepath.Join(t.TempDir(), "missing.p8")}, zap.NewNop())
	if err == nil {
		t.Error("expected error for missing key file")
	}
}
