// Package signature implements the HMAC signing contract for outbound
// deliveries: hex HMAC over "{unixSeconds}.{json(body)}" with constant-time
// verification and timestamp replay protection.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"net/http"
	"strconv"
	"time"

	"github.com/tidehook/tidehook/internal/hook"
)

// Signer produces delivery signatures and the outbound header set.
type Signer struct {
	cfg Config
}

// NewSigner creates a Signer; cfg is normalized with defaults.
func NewSigner(cfg Config) *Signer {
	return &Signer{cfg: cfg.Normalize()}
}

// Config returns the normalized signing configuration.
func (s *Signer) Config() Config { return s.cfg }

func (s *Signer) newHash() func() hash.Hash {
	if s.cfg.Algorithm == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// canonicalize renders the payload as its JSON byte string. Raw byte slices
// pass through untouched so a pre-serialized body signs identically.
func canonicalize(payload any) ([]byte, error) {
	if b, ok := payload.([]byte); ok {
		return b, nil
	}
	return json.Marshal(payload)
}

// Sign computes the hex HMAC over "{unixSeconds}.{json(payload)}" keyed by
// secret.
func (s *Signer) Sign(payload any, secret string, ts time.Time) (string, error) {
	body, err := canonicalize(payload)
	if err != nil {
		return "", &hook.SignatureError{Reason: "payload not serializable: " + err.Error()}
	}
	if secret == "" {
		return "", &hook.SignatureError{Reason: "empty secret"}
	}
	mac := hmac.New(s.newHash(), []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Headers builds the full outbound header set for one delivery: content
// type, signature, timestamp and the subscription's custom headers. Custom
// headers never override the signature headers.
func (s *Signer) Headers(payload any, secret string, ts time.Time, custom map[string]string) (http.Header, error) {
	sig, err := s.Sign(payload, secret, ts)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	for k, v := range custom {
		h.Set(k, v)
	}
	h.Set(s.cfg.HeaderName, sig)
	if !s.cfg.OmitTimestamp {
		h.Set(s.cfg.TimestampHeaderName, strconv.FormatInt(ts.Unix(), 10))
	}
	return h, nil
}
