package auth

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingVerifier accepts exactly the messages in valid and records every call.
type recordingVerifier struct {
	valid    map[string]bool
	messages []string
}

func (v *recordingVerifier) Check(publicNonce, signature, publicKey, message string) CheckResult {
	v.messages = append(v.messages, message)
	if v.valid[message] {
		return CheckResult{Result: true}
	}
	return CheckResult{Error: "bad sig"}
}

func TestGate_PrimaryFormat(t *testing.T) {
	v := &recordingVerifier{valid: map[string]bool{"secretPUBtoken": true}}
	g := NewGate("secret", v, zap.NewNop())

	d := g.Authenticate("register", Claim{Identity: "PUB", Context: []string{"token"}, AllowLegacy: true})
	if !d.Allowed || d.Legacy {
		t.Fatalf("expected primary pass, got %+v", d)
	}
	if len(v.messages) != 1 {
		t.Errorf("legacy check must not run after primary success, calls=%v", v.messages)
	}
	if d.Err() != nil {
		t.Errorf("expected nil error, got %v", d.Err())
	}
}

func TestGate_LegacyFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	v := &recordingVerifier{valid: map[string]bool{"fromto": true}}
	g := NewGate("secret", v, zap.New(core))

	d := g.Authenticate("send", Claim{Identity: "from", Context: []string{"to"}, AllowLegacy: true})
	if !d.Allowed || !d.Legacy {
		t.Fatalf("expected legacy pass, got %+v", d)
	}
	if want := []string{"secretfromto", "fromto"}; strings.Join(v.messages, ",") != strings.Join(want, ",") {
		t.Errorf("expected checks %v, got %v", want, v.messages)
	}
	if logs.FilterMessage("deprecated signature format accepted").Len() != 1 {
		t.Error("expected a deprecation warning")
	}
}

func TestGate_LegacyDisallowed(t *testing.T) {
	v := &recordingVerifier{valid: map[string]bool{"fromappuser": true}}
	g := NewGate("secret", v, zap.NewNop())

	d := g.Authenticate("send-app", Claim{Identity: "from", Context: []string{"app", "user"}})
	if d.Allowed {
		t.Fatal("legacy format must be rejected when not allowed")
	}
	if len(v.messages) != 1 {
		t.Errorf("expected only the primary check, got %v", v.messages)
	}
}

func TestGate_Rejection(t *testing.T) {
	v := &recordingVerifier{}
	g := NewGate("", v, zap.NewNop())

	d := g.Authenticate("register", Claim{Identity: "pub", Context: []string{"tok"}, AllowLegacy: true})
	if d.Allowed {
		t.Fatal("expected rejection")
	}
	if d.Reason != "Invalid request signature. bad sig" {
		t.Errorf("unexpected reason %q", d.Reason)
	}

	err := d.Err()
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
	if err.Error() != d.Reason {
		t.Errorf("expected error text to be the reason, got %q", err.Error())
	}
}

func TestGate_WithSchnorrVerifier(t *testing.T) {
	k := newKeypair(t)
	pub := k.pubHex()
	g := NewGate("app-key", NewSchnorrVerifier(WalletSigningDomain), zap.NewNop())

	nonce, sig := sign(t, k, WalletSigningDomain, "app-key"+pub+"device-token")
	d := g.Authenticate("register", Claim{
		Identity: pub, Signature: sig, PublicNonce: nonce,
		Context: []string{"device-token"}, AllowLegacy: true,
	})
	if !d.Allowed || d.Legacy {
		t.Errorf("expected primary pass, got %+v", d)
	}

	nonce, sig = sign(t, k, WalletSigningDomain, pub+"device-token")
	d = g.Authenticate("register", Claim{
		Identity: pub, Signature: sig, PublicNonce: nonce,
		Context: []string{"device-token"}, AllowLegacy: true,
	})
	if !d.Allowed || !d.Legacy {
		t.Errorf("expected legacy pass, got %+v", d)
	}

	d = g.Authenticate("register", Claim{
		Identity: pub, Signature: sig, PublicNonce: nonce,
		Context: []string{"other-token"}, AllowLegacy: true,
	})
	if d.Allowed {
		t.Error("signature over a different token must be rejected")
	}
}
