package auth

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/metrics"
)

// ErrInvalidSignature is returned when neither message format verifies.
var ErrInvalidSignature = errors.New("invalid request signature")

// Claim is what a request asserts about its signer.
type Claim struct {
	Identity    string
	Signature   string
	PublicNonce string
	// Context fields are appended to the message in order after the identity.
	Context []string
	// AllowLegacy permits the older message format that omits the shared secret.
	AllowLegacy bool
}

// Decision is the gate's verdict on a claim.
type Decision struct {
	Allowed bool
	Legacy  bool
	Reason  string
}

// Err returns nil for an allowed claim and ErrInvalidSignature wrapped with
// the reason otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RejectionError{Reason: d.Reason}
}

// RejectionError carries the reason surfaced to the caller.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func (e *RejectionError) Unwrap() error { return ErrInvalidSignature }

// Gate authenticates requests against the identity they claim to come from.
type Gate struct {
	secret   string
	verifier Verifier
	logger   *zap.Logger
}

// NewGate creates a gate. secret is the shared app key and may be empty.
func NewGate(secret string, verifier Verifier, logger *zap.Logger) *Gate {
	return &Gate{
		secret:   secret,
		verifier: verifier,
		logger:   logger,
	}
}

// Authenticate checks the claim for the named route. It never mutates state.
func (g *Gate) Authenticate(route string, claim Claim) Decision {
	payload := claim.Identity + strings.Join(claim.Context, "")

	primary := g.verifier.Check(claim.PublicNonce, claim.Signature, claim.Identity, g.secret+payload)
	if primary.Result {
		metrics.RecordAuthCheck(route, "primary")
		return Decision{Allowed: true}
	}

	if claim.AllowLegacy {
		legacy := g.verifier.Check(claim.PublicNonce, claim.Signature, claim.Identity, payload)
		if legacy.Result {
			g.logger.Warn("deprecated signature format accepted",
				zap.String("route", route),
				zap.String("pub_key", claim.Identity),
			)
			metrics.RecordAuthCheck(route, "legacy")
			return Decision{Allowed: true, Legacy: true}
		}
	}

	metrics.RecordAuthCheck(route, "rejected")
	g.logger.Info("signature rejected",
		zap.String("route", route),
		zap.String("pub_key", claim.Identity),
		zap.String("reason", primary.Error),
	)

	return Decision{Reason: strings.TrimSpace("Invalid request signature. " + primary.Error)}
}
