package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/casework/internal/engine"
)

// GatewayClient delivers notifications to the municipal messaging gateway
// over HTTP.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGatewayClient constructs a client with sane defaults.
func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Deliver posts the message to the gateway endpoint matching its kind.
func (c *GatewayClient) Deliver(ctx context.Context, m engine.Message) error {
	path := "/v1/email"
	if m.Kind == engine.MessageSMS {
		path = "/v1/sms"
	}

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway error: %s", data)
	}
	return nil
}
