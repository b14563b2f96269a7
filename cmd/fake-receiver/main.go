// fake-receiver is a test endpoint for exercising the delivery engine
// end to end: it verifies signatures, answers the verification challenge,
// and can simulate flaky or slow subscribers.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tidehook/tidehook/internal/config"
	"github.com/tidehook/tidehook/internal/logging"
	"github.com/tidehook/tidehook/internal/signature"
)

type receiver struct {
	cfg      config.Config
	verifier *signature.Verifier
	log      *logging.Logger
	reqCount atomic.Int64
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("tidehook-fake-receiver")

	rcv := &receiver{
		cfg: cfg,
		verifier: signature.NewVerifier(signature.Config{
			Algorithm:           signature.Algorithm(cfg.Signing.Algorithm),
			HeaderName:          cfg.Signing.SignatureHeader,
			TimestampHeaderName: cfg.Signing.TimestampHeader,
			ToleranceSeconds:    cfg.FakeReceiver.SigningLeewaySeconds,
		}, nil),
		log: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", rcv.handleHook)

	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      mux,
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	logger.Plain().WithField("addr", srv.Addr).Info("fake-receiver listening")
	logger.Plain().WithError(srv.ListenAndServe()).Fatal("fake-receiver stopped")
}

func (rcv *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	n := rcv.reqCount.Add(1)
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if secret := rcv.cfg.FakeReceiver.EndpointSecret; secret != "" {
		if ok, msg := rcv.verifySignature(secret, body, r.Header); !ok {
			rcv.log.Plain().WithField("reason", msg).Warn("signature verification failed")
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	if delay := rcv.cfg.FakeReceiver.ResponseDelayMS; delay > 0 {
		time.Sleep(time.Duration(delay) * time.Millisecond)
	}

	// The verification challenge must be echoed even in flaky mode, or the
	// subscription can never verify.
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Type == "webhook.verification" {
		rcv.log.Plain().Info("verification challenge answered")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"challenge": probe.Challenge})
		return
	}

	// Simulate flakiness: first N requests fail with 500.
	if failN := int64(rcv.cfg.FakeReceiver.FailFirstN); n <= failN {
		rcv.log.Plain().WithField("count", fmt.Sprintf("%d/%d", n, failN)).Info("failing on purpose")
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	rcv.log.Plain().WithField("body", truncate(string(body), 160)).Info("delivery accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func (rcv *receiver) verifySignature(secret string, body []byte, h http.Header) (bool, string) {
	sig := h.Get(rcv.cfg.Signing.SignatureHeader)
	tsRaw := h.Get(rcv.cfg.Signing.TimestampHeader)
	if sig == "" || tsRaw == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	if !rcv.verifier.Verify(body, sig, secret, time.Unix(unix, 0)) {
		return false, "signature mismatch or stale timestamp"
	}
	return true, ""
}

// truncate shortens a string for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
