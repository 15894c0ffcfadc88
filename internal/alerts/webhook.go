package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/models"
	"github.com/rs/zerolog"
)

// WebhookPayload is the JSON body posted to webhook endpoints.
type WebhookPayload struct {
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// WebhookDispatcher posts alerts to an HTTP endpoint with HMAC signing and
// retry. Failures are logged, not surfaced: Dispatch never blocks the caller
// on delivery outcome beyond the request itself.
type WebhookDispatcher struct {
	url        string
	secret     string
	client     *http.Client
	logger     zerolog.Logger
	maxRetries int
}

// NewWebhookDispatcher creates a WebhookDispatcher posting to url. If secret
// is non-empty, requests carry an X-Fleetguard-Signature HMAC-SHA256 header.
func NewWebhookDispatcher(url, secret string, logger zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     logger.With().Str("component", "alert_webhook").Logger(),
		maxRetries: 3,
	}
}

// Dispatch posts the alert, retrying with exponential backoff. Errors are
// logged and swallowed.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, alert *models.Alert) {
	payload := WebhookPayload{
		EventType: string(alert.Type),
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		Timestamp: alert.Timestamp,
		Data:      alert.Data,
	}

	if err := d.send(ctx, payload); err != nil {
		d.logger.Error().
			Err(err).
			Str("alert_type", string(alert.Type)).
			Msg("webhook alert delivery failed")
	}
}

func (d *WebhookDispatcher) send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			d.logger.Debug().
				Int("attempt", attempt+1).
				Msg("retrying webhook")
		}

		lastErr = d.doSend(ctx, body)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", d.maxRetries, lastErr)
}

func (d *WebhookDispatcher) doSend(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if d.secret != "" {
		req.Header.Set("X-Fleetguard-Signature", computeHMAC(body, d.secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// computeHMAC computes an HMAC-SHA256 signature for the given payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
