/**
 * @description
 * This package provides a client for the Atlas Pay API, the one-click card
 * provider. It encapsulates authenticated HTTP requests, request body
 * construction, and response parsing.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package atlasclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ErrTimeout is returned when a request deadline elapsed after the request
// may already have been sent. Callers must treat the charge outcome as
// unknown, not failed.
var ErrTimeout = errors.New("atlas request timed out")

// Client is a client for the Atlas Pay API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Atlas Pay API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest is the payload for a one-click charge.
type ChargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	CardToken   string `json:"card_token"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// ChargeResponse is the response from Atlas charge and refund endpoints.
type ChargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // "succeeded", "pending", "declined"
	RedirectURL string `json:"redirect_url,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// RefundRequest is the payload for a refund of an earlier charge.
type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// FeeResponse describes Atlas's own processing fees for an amount. These are
// provider-side fees, distinct from the platform commission.
type FeeResponse struct {
	FixedFee   int64   `json:"fixed_fee"`
	PercentFee float64 `json:"percent_fee"`
}

// APIError represents a structured error from the Atlas API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("atlas api error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// Declined reports whether the error is a business decline rather than a
// transport or server failure.
func (e *APIError) Declined() bool {
	return e.StatusCode == http.StatusPaymentRequired || e.StatusCode == http.StatusUnprocessableEntity
}

// Charge performs a one-click charge against a vaulted card token. The
// idempotencyKey is forwarded so Atlas deduplicates retried calls whose
// response was lost.
func (c *Client) Charge(ctx context.Context, idempotencyKey string, req ChargeRequest) (*ChargeResponse, error) {
	return c.do(ctx, "POST", "/v1/charges", idempotencyKey, req)
}

// Refund reverses an earlier charge. Always a new outbound call referencing
// the original payment id.
func (c *Client) Refund(ctx context.Context, idempotencyKey string, req RefundRequest) (*ChargeResponse, error) {
	return c.do(ctx, "POST", "/v1/refunds", idempotencyKey, req)
}

// GetFees fetches Atlas's processing fees for an amount and currency.
func (c *Client) GetFees(ctx context.Context, amount int64, currency string) (*FeeResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/fees?amount=%d&currency=%s", c.BaseURL, amount, url.QueryEscape(currency))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fee request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, bodyBytes, "get_fees")
	}

	var fees FeeResponse
	if err := json.Unmarshal(bodyBytes, &fees); err != nil {
		return nil, fmt.Errorf("failed to decode fee response: %w", err)
	}
	return &fees, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, payload interface{}) (*ChargeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, bodyBytes, path)
	}

	var chargeResp ChargeResponse
	if err := json.Unmarshal(bodyBytes, &chargeResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &chargeResp, nil
}

func decodeAPIError(status int, body []byte, op string) error {
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		log.Printf("level=warn component=atlas_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, status)
		apiErr.Message = fmt.Sprintf("unparsable error body (status %d)", status)
		return apiErr
	}
	log.Printf("level=warn component=atlas_client op=%s status=%d code=%q message=%q", op, status, apiErr.Code, apiErr.Message)
	return apiErr
}

// classifyTransportError distinguishes deadline expiry (outcome unknown) from
// other transport failures.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("atlas request failed: %w", err)
}
