package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinicware/medibot/internal/apperr"
	"github.com/clinicware/medibot/pkg/logging"
)

// sendRequest is the gateway sidecar's outbound message payload.
type sendRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

// SessionStatus reports the gateway's WhatsApp session health.
type SessionStatus struct {
	Connected bool   `json:"connected"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
}

// GatewayClient is an HTTP client for the WhatsApp gateway sidecar, which
// holds the long-lived device session.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// GatewayOption is a functional option for configuring the GatewayClient.
type GatewayOption func(*GatewayClient)

// WithGatewayHTTPClient sets a custom HTTP client.
func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(c *GatewayClient) {
		c.httpClient = client
	}
}

// WithGatewayLogger sets a custom logger.
func WithGatewayLogger(logger *logging.Logger) GatewayOption {
	return func(c *GatewayClient) {
		c.logger = logger
	}
}

// NewGatewayClient creates a gateway sidecar client.
// baseURL is the sidecar service URL (e.g. "http://localhost:3100").
func NewGatewayClient(baseURL string, opts ...GatewayOption) *GatewayClient {
	c := &GatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send delivers a message through the gateway's device session. Transport
// failures and gateway-reported failures both surface as
// apperr.ProviderUnavailable so callers can fall back to another sender.
func (c *GatewayClient) Send(ctx context.Context, chatID, text string) (SendResult, error) {
	body, err := json.Marshal(sendRequest{ChatID: chatID, Text: text})
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/messages", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, apperr.ProviderUnavailable("gateway send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return SendResult{}, apperr.ProviderUnavailable(
			fmt.Sprintf("gateway send returned status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SendResult{}, apperr.ProviderUnavailable("gateway send: decode response", err)
	}
	if !result.Success {
		return SendResult{}, apperr.ProviderUnavailable("gateway send rejected: "+result.Error, nil)
	}

	c.logger.Debug("gateway message sent", "chat_id", chatID, "message_id", result.MessageID)
	return SendResult{MessageID: result.MessageID}, nil
}

// Status returns the gateway's session status.
func (c *GatewayClient) Status(ctx context.Context) (*SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/session/status", nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("messaging: status returned %d: %s", resp.StatusCode, string(raw))
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("messaging: decode status response: %w", err)
	}
	return &status, nil
}

// InitSession asks the gateway to (re)initialize its device session and
// returns the new session identifier.
func (c *GatewayClient) InitSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/session/init", nil)
	if err != nil {
		return "", fmt.Errorf("messaging: create init request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("messaging: init request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("messaging: init returned %d: %s", resp.StatusCode, string(raw))
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("messaging: decode init response: %w", err)
	}

	c.logger.Info("gateway session initialized", "session_id", status.SessionID)
	return status.SessionID, nil
}
