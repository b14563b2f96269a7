package signature

import (
	"crypto/hmac"
	"time"
)

// Verifier checks inbound signatures against the same contract the Signer
// produces. Malformed input never panics; it verifies as false.
type Verifier struct {
	signer *Signer
	nonces *NonceCache
}

// NewVerifier creates a Verifier. nonces may be nil to disable replay
// tracking beyond the timestamp tolerance.
func NewVerifier(cfg Config, nonces *NonceCache) *Verifier {
	return &Verifier{signer: NewSigner(cfg), nonces: nonces}
}

// Verify recomputes the expected signature and compares in constant time.
// It rejects timestamps outside the configured tolerance to block replays.
func (v *Verifier) Verify(payload any, sig, secret string, ts time.Time) bool {
	return v.VerifyAt(payload, sig, secret, ts, time.Now())
}

// VerifyAt is Verify with an explicit "now", for deterministic tests.
func (v *Verifier) VerifyAt(payload any, sig, secret string, ts, now time.Time) bool {
	tolerance := time.Duration(v.signer.Config().ToleranceSeconds) * time.Second
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return false
	}
	want, err := v.signer.Sign(payload, secret, ts)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(want))
}

// VerifyWithNonce additionally rejects a previously seen nonce, regardless
// of signature validity. A fresh nonce is recorded only when the signature
// itself verifies.
func (v *Verifier) VerifyWithNonce(payload any, sig, secret, nonce string, ts time.Time) bool {
	if v.nonces != nil && v.nonces.Seen(nonce) {
		return false
	}
	if !v.Verify(payload, sig, secret, ts) {
		return false
	}
	if v.nonces != nil {
		v.nonces.Add(nonce)
	}
	return true
}
