package auth

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/blake2b"
)

// WalletSigningDomain is the hash domain wallets use for message signatures.
const WalletSigningDomain = "com.tari.base_layer.wallet.message_signing"

// CheckResult is the outcome of a single signature check. Error is empty
// unless an input could not be decoded.
type CheckResult struct {
	Result bool
	Error  string
}

// Verifier checks a signature over message by the holder of publicKey.
type Verifier interface {
	Check(publicNonce, signature, publicKey, message string) CheckResult
}

// SchnorrVerifier verifies domain separated Schnorr signatures over
// ristretto255. All inputs are lower or upper case hex.
type SchnorrVerifier struct {
	domain string
}

// NewSchnorrVerifier returns a verifier for the given hash domain.
func NewSchnorrVerifier(domain string) *SchnorrVerifier {
	return &SchnorrVerifier{domain: domain}
}

// Check accepts iff s·G == R + e·P with e = H(R || P || message).
func (v *SchnorrVerifier) Check(publicNonce, signature, publicKey, message string) CheckResult {
	R, err := decodePoint(publicNonce)
	if err != nil {
		return CheckResult{Error: fmt.Sprintf("%s is not a valid public nonce", publicNonce)}
	}

	P, err := decodePoint(publicKey)
	if err != nil {
		return CheckResult{Error: fmt.Sprintf("%s is not a valid public key", publicKey)}
	}

	s, err := decodeScalar(signature)
	if err != nil {
		return CheckResult{Error: fmt.Sprintf("%s is not a valid hex representation of a signature", signature)}
	}

	e := v.challenge(R, P, []byte(message))

	lhs := ristretto255.NewElement().ScalarBaseMult(s)
	rhs := ristretto255.NewElement().ScalarMult(e, P)
	rhs.Add(rhs, R)

	return CheckResult{Result: lhs.Equal(rhs) == 1}
}

// challenge hashes the nonce, key and message under the "challenge" label of
// the verifier's domain and reduces the 64 byte digest to a scalar.
func (v *SchnorrVerifier) challenge(R, P *ristretto255.Element, message []byte) *ristretto255.Scalar {
	h := newDomainHasher(v.domain, "challenge")
	h.chain(R.Encode(nil))
	h.chain(P.Encode(nil))
	h.chain(message)

	return ristretto255.NewScalar().FromUniformBytes(h.Sum(nil))
}

// domainHasher length-prefixes every input with its little endian u64 size,
// starting with the "<domain>.v1.<label>" tag.
type domainHasher struct {
	hash.Hash
}

func newDomainHasher(domain, label string) *domainHasher {
	h, _ := blake2b.New512(nil) // only errors on an oversized key
	d := &domainHasher{Hash: h}
	d.chain([]byte(fmt.Sprintf("%s.v1.%s", domain, label)))
	return d
}

func (d *domainHasher) chain(data []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(data)))
	d.Write(n[:])
	d.Write(data)
}

func decodePoint(s string) (*ristretto255.Element, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	p := ristretto255.NewElement()
	if err := p.Decode(b); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeScalar(s string) (*ristretto255.Scalar, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	sc := ristretto255.NewScalar()
	if err := sc.Decode(b); err != nil {
		return nil, err
	}
	return sc, nil
}
