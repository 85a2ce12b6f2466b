// Package aggregator is the outbound client for the wearable/lab data
// aggregator API. The gateway only ever calls it for widget-session
// generation; all inbound traffic arrives via signed webhooks.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/biothread/vitalgate/internal/config"
	"github.com/biothread/vitalgate/internal/metrics"
)

// Client talks to the aggregator REST API.
type Client struct {
	baseURL    string
	apiKey     string
	devID      string
	successURL string
	failureURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an aggregator client from config. The timeout bounds
// every request; callers get the error, never an internal retry.
func NewClient(cfg config.AggregatorConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		devID:      cfg.DevID,
		successURL: cfg.SuccessURL,
		failureURL: cfg.FailureURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WidgetSession is the aggregator's hosted connection-flow handle.
type WidgetSession struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
}

type widgetSessionRequest struct {
	ReferenceID            string `json:"reference_id"`
	Providers              string `json:"providers,omitempty"`
	Language               string `json:"language"`
	AuthSuccessRedirectURL string `json:"auth_success_redirect_url,omitempty"`
	AuthFailureRedirectURL string `json:"auth_failure_redirect_url,omitempty"`
}

type widgetSessionResponse struct {
	Status    string `json:"status"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	ExpiresIn int    `json:"expires_in"`
	Message   string `json:"message,omitempty"`
}

// GenerateWidgetSession asks the aggregator for a device-connection flow
// URL for a local user. localUserID becomes the reference_id the
// aggregator echoes back as user_id in subsequent webhook deliveries.
// providerMode optionally restricts the providers shown in the flow.
// Empty successURL/failureURL fall back to the configured redirects.
func (c *Client) GenerateWidgetSession(ctx context.Context, localUserID, providerMode, successURL, failureURL string) (*WidgetSession, error) {
	metrics.WidgetSessionRequestsTotal.Inc()

	if c.baseURL == "" {
		return nil, fmt.Errorf("aggregator base_url not configured")
	}
	if localUserID == "" {
		return nil, fmt.Errorf("local user id is required")
	}

	if successURL == "" {
		successURL = c.successURL
	}
	if failureURL == "" {
		failureURL = c.failureURL
	}

	reqBody := widgetSessionRequest{
		ReferenceID:            localUserID,
		Providers:              providerMode,
		Language:               "en",
		AuthSuccessRedirectURL: successURL,
		AuthFailureRedirectURL: failureURL,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal widget session request: %w", err)
	}

	url := c.baseURL + "/auth/generateWidgetSession"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build widget session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("dev-id", c.devID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read aggregator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("widget session request rejected",
			"status_code", resp.StatusCode,
			"user_id", localUserID,
		)
		return nil, fmt.Errorf("aggregator returned status %d", resp.StatusCode)
	}

	var parsed widgetSessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode aggregator response: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("aggregator response missing session url")
	}

	c.logger.Info("widget session generated",
		"user_id", localUserID,
		"session_id", parsed.SessionID,
	)
	return &WidgetSession{
		URL:       parsed.URL,
		SessionID: parsed.SessionID,
		ExpiresIn: parsed.ExpiresIn,
	}, nil
}
