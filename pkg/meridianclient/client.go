/**
 * @description
 * This package provides a client for the Meridian gateway API, the provider
 * used for MOTO (manual card entry) charges and tokenized recurring charges.
 * Meridian's API is JSON-over-HTTP with an api-key header and returns a
 * structured error document on failure.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package meridianclient

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
// may already have been sent; the charge outcome is unknown.
var ErrTimeout = errors.New("meridian request timed out")

// Client is a client for the Meridian gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Meridian API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// MotoChargeRequest is the payload for a manual-entry (MOTO) charge. The card
// details have already been exchanged for a single-use session token by the
// PCI-scoped capture frontend; raw card data never reaches this service.
type MotoChargeRequest struct {
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	SessionToken string `json:"session_token"`
	Description  string `json:"description,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

// RecurringChargeRequest is the payload for a charge against a stored
// recurring agreement.
type RecurringChargeRequest struct {
	AgreementID string `json:"agreement_id"`
	TokenID     string `json:"token_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// RefundRequest reverses an earlier payment.
type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// PaymentResponse is the response shape shared by Meridian's payment
// endpoints.
type PaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	State       string `json:"state"` // "authorized", "captured", "pending", "declined"
	RedirectURL string `json:"redirect_url,omitempty"`
	ReasonCode  string `json:"reason_code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ErrorResponse represents an error document from the Meridian API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Errors     []struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("meridian api error (%d %s): %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Detail)
	}
	return fmt.Sprintf("meridian api error (status %d)", e.StatusCode)
}

// FirstCode returns the first error code, or "" when none was supplied.
func (e *ErrorResponse) FirstCode() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Code
}

// FirstDetail returns the first error detail, or "" when none was supplied.
func (e *ErrorResponse) FirstDetail() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Detail
}

// Declined reports whether the error is a business decline rather than a
// transport or server failure.
func (e *ErrorResponse) Declined() bool {
	return e.StatusCode == http.StatusPaymentRequired || e.StatusCode == http.StatusUnprocessableEntity
}

// ChargeMoto performs a manual-entry charge.
func (c *Client) ChargeMoto(ctx context.Context, idempotencyKey string, req MotoChargeRequest) (*PaymentResponse, error) {
	return c.do(ctx, "/v2/payments/moto", idempotencyKey, req)
}

// ChargeRecurring charges a stored recurring agreement.
func (c *Client) ChargeRecurring(ctx context.Context, idempotencyKey string, req RecurringChargeRequest) (*PaymentResponse, error) {
	return c.do(ctx, "/v2/payments/recurring", idempotencyKey, req)
}

// Refund reverses an earlier payment by id.
func (c *Client) Refund(ctx context.Context, idempotencyKey string, req RefundRequest) (*PaymentResponse, error) {
	return c.do(ctx, "/v2/refunds", idempotencyKey, req)
}

func (c *Client) do(ctx context.Context, path, idempotencyKey string, payload interface{}) (*PaymentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-meridian-key", c.APIKey)
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
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			log.Printf("level=warn component=meridian_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, errResp
		}
		log.Printf("level=warn component=meridian_client op=%s status=%d code=%q detail=%q", path, resp.StatusCode, errResp.FirstCode(), errResp.FirstDetail())
		return nil, errResp
	}

	var paymentResp PaymentResponse
	if err := json.Unmarshal(bodyBytes, &paymentResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &paymentResp, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrTimeout
	}
	return fmt.Errorf("meridian request failed: %w", err)
}
