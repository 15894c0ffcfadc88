// Package agent provides the device-side heartbeat reporter.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MacJediWizard/fleetguard/internal/models"
)

// Client is an HTTP client for communicating with the Fleetguard server.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new agent API client.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: serverURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendHeartbeat reports device liveness and metrics to the server.
func (c *Client) SendHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	var result map[string]any
	if err := c.post(ctx, "/api/v1/heartbeat", hb, &result); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	return nil
}

// CheckHealth checks if the server is reachable.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// ActivateLicense activates a license key for this device.
func (c *Client) ActivateLicense(ctx context.Context, key, deviceIdentifier string) (*models.License, error) {
	body := map[string]string{
		"key":               key,
		"unique_identifier": deviceIdentifier,
	}
	var license models.License
	if err := c.post(ctx, "/api/v1/licenses/activate", body, &license); err != nil {
		return nil, fmt.Errorf("activate license: %w", err)
	}
	return &license, nil
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if result != nil && len(body) > 0 {
		return json.Unmarshal(body, result)
	}
	return nil
}
