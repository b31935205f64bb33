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

type cloudTextBody struct {
	Body string `json:"body"`
}

type cloudSendRequest struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

type cloudSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// CloudAPIClient sends messages through the hosted WhatsApp Cloud API. It is
// the fallback path when the gateway sidecar is down.
type CloudAPIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// CloudAPIOption is a functional option for configuring the CloudAPIClient.
type CloudAPIOption func(*CloudAPIClient)

// WithCloudHTTPClient sets a custom HTTP client.
func WithCloudHTTPClient(client *http.Client) CloudAPIOption {
	return func(c *CloudAPIClient) {
		c.httpClient = client
	}
}

// WithCloudLogger sets a custom logger.
func WithCloudLogger(logger *logging.Logger) CloudAPIOption {
	return func(c *CloudAPIClient) {
		c.logger = logger
	}
}

// NewCloudAPIClient creates a Cloud API client.
func NewCloudAPIClient(baseURL, token string, opts ...CloudAPIOption) *CloudAPIClient {
	c := &CloudAPIClient{
		baseURL: baseURL,
		token:   token,
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

// Send delivers a text message to a phone number via the Cloud API.
func (c *CloudAPIClient) Send(ctx context.Context, chatID, text string) (SendResult, error) {
	body, err := json.Marshal(cloudSendRequest{
		MessagingProduct: "whatsapp",
		To:               chatID,
		Type:             "text",
		Text:             cloudTextBody{Body: text},
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: marshal cloud request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: create cloud request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, apperr.ProviderUnavailable("cloud api send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return SendResult{}, apperr.ProviderUnavailable(
			fmt.Sprintf("cloud api returned status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var result cloudSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SendResult{}, apperr.ProviderUnavailable("cloud api: decode response", err)
	}
	if result.Error != nil {
		return SendResult{}, apperr.ProviderUnavailable("cloud api rejected: "+result.Error.Message, nil)
	}
	if len(result.Messages) == 0 {
		return SendResult{}, apperr.ProviderUnavailable("cloud api returned no message id", nil)
	}

	c.logger.Debug("cloud api message sent", "chat_id", chatID, "message_id", result.Messages[0].ID)
	return SendResult{MessageID: result.Messages[0].ID}, nil
}
