package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidehook/tidehook/internal/auth"
	"github.com/tidehook/tidehook/internal/hook"
	"github.com/tidehook/tidehook/internal/metrics"
	"github.com/tidehook/tidehook/internal/signature"
	"github.com/tidehook/tidehook/internal/tracing"
)

// Executor performs a single signed HTTP attempt against a subscriber
// endpoint and classifies the outcome.
type Executor struct {
	client *http.Client
	signer *signature.Signer
	minter *auth.TokenMinter
}

// NewExecutor creates an Executor. timeout bounds each attempt, not the
// delivery lifetime.
func NewExecutor(signer *signature.Signer, minter *auth.TokenMinter, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		client: &http.Client{Timeout: timeout},
		signer: signer,
		minter: minter,
	}
}

// Attempt POSTs the payload to the subscription's URL with signature
// headers. The returned error is nil for 2xx, a retryable DeliveryError
// for network failures and retryable statuses, and a terminal
// DeliveryError otherwise.
func (e *Executor) Attempt(ctx context.Context, sub *hook.Subscription, payload map[string]any, policy hook.RetryPolicy) (int, time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, &hook.SignatureError{Reason: "payload not serializable: " + err.Error()}
	}
	now := time.Now()
	headers, err := e.signer.Headers(body, sub.Secret, now, sub.Headers)
	if err != nil {
		return 0, 0, err
	}
	if sub.TokenAuth && e.minter != nil {
		token, err := e.minter.Mint(sub.Secret, sub.ID, fmt.Sprint(payload["id"]), now)
		if err != nil {
			return 0, 0, &hook.SignatureError{Reason: "token mint failed: " + err.Error()}
		}
		headers.Set("Authorization", "Bearer "+token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, hook.NewTerminalError(0, err)
	}
	req.Header = headers
	tracing.InjectHTTPHeaders(ctx, req.Header)

	start := time.Now()
	resp, doErr := e.client.Do(req)
	latency := time.Since(start)

	if doErr != nil {
		metrics.RecordAttemptLatency(0, latency)
		return 0, latency, hook.NewRetryableError(0, doErr)
	}
	status := resp.StatusCode
	_ = resp.Body.Close()
	metrics.RecordAttemptLatency(status, latency)

	switch {
	case status >= 200 && status < 300:
		return status, latency, nil
	case retryableStatus(policy, status):
		return status, latency, hook.NewRetryableError(status, nil)
	default:
		return status, latency, hook.NewTerminalError(status, nil)
	}
}

// VerifyEndpoint sends a signed one-time challenge to the subscription's
// URL. The endpoint passes by answering 200 with the challenge echoed
// back, either as a raw string or as {"challenge": "..."}.
func (e *Executor) VerifyEndpoint(ctx context.Context, sub *hook.Subscription, challenge string) (bool, error) {
	payload := map[string]any{
		"type":      hook.VerificationType,
		"challenge": challenge,
		"timestamp": time.Now().Unix(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	headers, err := e.signer.Headers(body, sub.Secret, time.Now(), sub.Headers)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header = headers
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := e.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == challenge {
		return true, nil
	}
	var echo struct {
		Challenge string `json:"challenge"`
	}
	if json.Unmarshal(raw, &echo) == nil && echo.Challenge == challenge {
		return true, nil
	}
	return false, nil
}

// classifyReason buckets a failed attempt for the retry metrics.
func classifyReason(err error, status int) string {
	if err != nil && status == 0 {
		errLower := strings.ToLower(err.Error())
		switch {
		case strings.Contains(errLower, "timeout"), strings.Contains(errLower, "deadline"):
			return "timeout"
		case strings.Contains(errLower, "connection refused"):
			return "connection_refused"
		case strings.Contains(errLower, "no such host"):
			return "dns_error"
		default:
			return "network"
		}
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	default:
		return "other"
	}
}
