package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

func TestSignKnownVector(t *testing.T) {
	signer := NewSigner(Config{Algorithm: SHA256})
	payload := map[string]any{"hello": "world"}
	ts := time.Unix(1700000000, 0)

	got, err := signer.Sign(payload, "secret", ts)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	body, _ := json.Marshal(payload)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestSignSHA512(t *testing.T) {
	signer := NewSigner(Config{Algorithm: SHA512})
	ts := time.Unix(1700000000, 0)

	got, err := signer.Sign([]byte(`{"a":1}`), "secret", ts)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	mac := hmac.New(sha512.New, []byte("secret"))
	mac.Write([]byte("1700000000." + `{"a":1}`))
	want := hex.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Errorf("Sign() sha512 = %q, want %q", got, want)
	}
}

func TestSignErrors(t *testing.T) {
	signer := NewSigner(Config{})
	ts := time.Now()

	if _, err := signer.Sign(map[string]any{"a": 1}, "", ts); err == nil {
		t.Error("Sign() with empty secret should fail")
	}
	if _, err := signer.Sign(map[string]any{"fn": func() {}}, "secret", ts); err == nil {
		t.Error("Sign() with unserializable payload should fail")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(sig string, payload map[string]any, secret string) (string, map[string]any, string)
		wantOK bool
	}{
		{
			name: "valid signature verifies",
			mutate: func(sig string, p map[string]any, s string) (string, map[string]any, string) {
				return sig, p, s
			},
			wantOK: true,
		},
		{
			name: "mutated payload fails",
			mutate: func(sig string, p map[string]any, s string) (string, map[string]any, string) {
				return sig, map[string]any{"hello": "tampered"}, s
			},
			wantOK: false,
		},
		{
			name: "mutated signature fails",
			mutate: func(sig string, p map[string]any, s string) (string, map[string]any, string) {
				last := "0"
				if sig[len(sig)-1] == '0' {
					last = "1"
				}
				return sig[:len(sig)-1] + last, p, s
			},
			wantOK: false,
		},
		{
			name: "wrong secret fails",
			mutate: func(sig string, p map[string]any, s string) (string, map[string]any, string) {
				return sig, p, "other-secret"
			},
			wantOK: false,
		},
	}

	signer := NewSigner(Config{})
	verifier := NewVerifier(Config{}, nil)
	ts := time.Now()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]any{"hello": "world"}
			sig, err := signer.Sign(payload, "secret", ts)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			sig, payload, secret := tt.mutate(sig, payload, "secret")
			if got := verifier.Verify(payload, sig, secret, ts); got != tt.wantOK {
				t.Errorf("Verify() = %v, want %v", got, tt.wantOK)
			}
		})
	}
}

func TestVerifyTimestampTolerance(t *testing.T) {
	tests := []struct {
		name   string
		skew   time.Duration
		wantOK bool
	}{
		{"exactly at now", 0, true},
		{"4 minutes old", -4 * time.Minute, true},
		{"4 minutes ahead", 4 * time.Minute, true},
		{"6 minutes old", -6 * time.Minute, false},
		{"6 minutes ahead", 6 * time.Minute, false},
	}

	signer := NewSigner(Config{ToleranceSeconds: 300})
	verifier := NewVerifier(Config{ToleranceSeconds: 300}, nil)
	now := time.Unix(1700000000, 0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := now.Add(tt.skew)
			payload := map[string]any{"k": "v"}
			sig, err := signer.Sign(payload, "secret", ts)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if got := verifier.VerifyAt(payload, sig, "secret", ts, now); got != tt.wantOK {
				t.Errorf("VerifyAt(skew=%s) = %v, want %v", tt.skew, got, tt.wantOK)
			}
		})
	}
}

func TestVerifyWithNonce(t *testing.T) {
	signer := NewSigner(Config{})
	verifier := NewVerifier(Config{}, NewNonceCache(16))
	ts := time.Now()
	payload := map[string]any{"k": "v"}

	sig, err := signer.Sign(payload, "secret", ts)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if !verifier.VerifyWithNonce(payload, sig, "secret", "nonce-1", ts) {
		t.Error("first use of nonce should verify")
	}
	if verifier.VerifyWithNonce(payload, sig, "secret", "nonce-1", ts) {
		t.Error("replayed nonce should fail")
	}
	if !verifier.VerifyWithNonce(payload, sig, "secret", "nonce-2", ts) {
		t.Error("fresh nonce should verify")
	}

	// An invalid signature must not burn the nonce.
	if verifier.VerifyWithNonce(payload, "bad-sig", "secret", "nonce-3", ts) {
		t.Error("bad signature should fail")
	}
	if !verifier.VerifyWithNonce(payload, sig, "secret", "nonce-3", ts) {
		t.Error("nonce from failed attempt should still be usable")
	}
}

func TestHeaders(t *testing.T) {
	signer := NewSigner(Config{})
	ts := time.Unix(1700000000, 0)
	custom := map[string]string{
		"X-Custom":            "yes",
		"X-Webhook-Signature": "spoofed",
	}

	h, err := signer.Headers([]byte(`{"a":1}`), "secret", ts, custom)
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}

	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := h.Get("X-Webhook-Timestamp"); got != "1700000000" {
		t.Errorf("timestamp header = %q, want 1700000000", got)
	}
	if got := h.Get("X-Custom"); got != "yes" {
		t.Errorf("custom header = %q, want yes", got)
	}

	want, _ := signer.Sign([]byte(`{"a":1}`), "secret", ts)
	if got := h.Get("X-Webhook-Signature"); got != want {
		t.Errorf("signature header = %q, want %q (custom headers must not override it)", got, want)
	}
}

func TestHeadersOmitTimestamp(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	h, err := NewSigner(Config{OmitTimestamp: true}).Headers([]byte(`{"a":1}`), "secret", ts, nil)
	if err != nil {
		t.Fatalf("Headers() error = %v", err)
	}
	if got := h.Get("X-Webhook-Timestamp"); got != "" {
		t.Errorf("timestamp header = %q, want none with OmitTimestamp set", got)
	}
	if h.Get("X-Webhook-Signature") == "" {
		t.Error("signature header missing")
	}
}

func TestConfigNormalize(t *testing.T) {
	got := Config{}.Normalize()
	if got.Algorithm != SHA256 {
		t.Errorf("Normalize() Algorithm = %q, want sha256", got.Algorithm)
	}
	if got.HeaderName != "X-Webhook-Signature" {
		t.Errorf("Normalize() HeaderName = %q", got.HeaderName)
	}
	if got.ToleranceSeconds != 300 {
		t.Errorf("Normalize() ToleranceSeconds = %d, want 300", got.ToleranceSeconds)
	}
	if got.OmitTimestamp {
		t.Error("Normalize() OmitTimestamp = true; the timestamp header must be on by default")
	}

	kept := Config{Algorithm: SHA512, HeaderName: "X-Sig", ToleranceSeconds: 60}.Normalize()
	if kept.Algorithm != SHA512 || kept.HeaderName != "X-Sig" || kept.ToleranceSeconds != 60 {
		t.Errorf("Normalize() overwrote explicit values: %+v", kept)
	}
}
