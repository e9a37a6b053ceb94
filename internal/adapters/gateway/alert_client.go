// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roykane/flower-shop-sub000/internal/core/domain"
	"github.com/roykane/flower-shop-sub000/internal/core/ports"
)

// Custom errors for specific alert endpoint failures
var (
	// ErrAlertRejected indicates the endpoint refused the payload (4xx)
	ErrAlertRejected = errors.New("alert endpoint rejected the request")

	// ErrRateLimited indicates the endpoint asked us to slow down (429)
	ErrRateLimited = errors.New("alert endpoint rate limit exceeded")
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body
const SignatureHeader = "X-Chat-Signature-256"

// Ensure AlertClient implements StaffNotifier
var _ ports.StaffNotifier = (*AlertClient)(nil)

// AlertClient posts "customer waiting" alerts to the staff notification
// webhook (chat app, SMS bridge, ...)
type AlertClient struct {
	httpClient *http.Client
	url        string
	secret     string
	backoff    time.Duration
}

// NewAlertClient creates a new alert client. secret signs each payload when set.
func NewAlertClient(url, secret string) *AlertClient {
	return &AlertClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		url:     url,
		secret:  secret,
		backoff: 500 * time.Millisecond,
	}
}

// alertPayload is the JSON body posted to the webhook
type alertPayload struct {
	Event string            `json:"event"`
	Text  string            `json:"text"`
	Alert domain.StaffAlert `json:"alert"`
}

// NotifyWaitingCustomer sends the alert with a retry mechanism
//
// Returns specific errors:
// - ErrAlertRejected: endpoint refused the payload, retrying will not help
// - ErrRateLimited: endpoint throttled us
func (c *AlertClient) NotifyWaitingCustomer(ctx context.Context, alert domain.StaffAlert) error {
	const maxRetries = 3

	body, err := json.Marshal(alertPayload{
		Event: "customer_waiting",
		Text:  fmt.Sprintf("Khách %s đang chờ hỗ trợ: %q", alert.CustomerName, alert.Preview),
		Alert: alert,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = c.sendAttempt(ctx, body, attempt)
		if lastErr == nil {
			slog.Info("Staff alert sent",
				"conversation_id", alert.ConversationID,
				"attempt", attempt,
			)
			return nil
		}

		// Don't retry on these specific errors
		if errors.Is(lastErr, ErrAlertRejected) || errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}

		// Retry on network and server errors with linear backoff
		if attempt < maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			slog.Warn("Retrying staff alert",
				"attempt", attempt,
				"max_retries", maxRetries,
				"backoff_ms", backoff.Milliseconds(),
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// sendAttempt performs a single POST
func (c *AlertClient) sendAttempt(ctx context.Context, body []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(body, c.secret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send staff alert",
			"error", err,
			"attempt", attempt,
		)
		return fmt.Errorf("alert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	slog.Error("Alert endpoint error",
		"status_code", resp.StatusCode,
		"body", string(respBody),
		"attempt", attempt,
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrAlertRejected, resp.StatusCode)
	default:
		return fmt.Errorf("alert endpoint error %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of body
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value in constant time.
// Receivers of the alert webhook use it to authenticate the sender.
func VerifySignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	expected, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
