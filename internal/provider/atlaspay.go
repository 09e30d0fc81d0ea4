/**
 * @description
 * Atlas Pay adapter: one-click charges against vaulted tokens, refunds, and
 * provider fee lookup. Atlas does not support MOTO or recurring agreements.
 */

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/pkg/atlasclient"
)

// AtlasAdapter implements Charger, Refunder, FeeQuoter and WebhookDecoder
// over the Atlas Pay HTTP client.
type AtlasAdapter struct {
	client *atlasclient.Client
}

// NewAtlasAdapter wraps an Atlas Pay client.
func NewAtlasAdapter(client *atlasclient.Client) *AtlasAdapter {
	return &AtlasAdapter{client: client}
}

func (a *AtlasAdapter) Provider() domain.Provider {
	return domain.ProviderAtlasPay
}

// Charge performs a one-click charge. The caller's idempotency key is passed
// through so a retried call whose response was lost does not double-charge.
func (a *AtlasAdapter) Charge(ctx context.Context, idempotencyKey string, params domain.CreatePaymentParams) (*ChargeOutcome, error) {
	if params.CardToken == nil || *params.CardToken == "" {
		return nil, domain.NewValidationError("card_token", "required for one-click charges")
	}

	resp, err := a.client.Charge(ctx, idempotencyKey, atlasclient.ChargeRequest{
		Amount:      params.GrossAmount,
		Currency:    params.Currency,
		CardToken:   *params.CardToken,
		Description: params.Description,
	})
	if err != nil {
		return nil, a.translateError(err)
	}

	return &ChargeOutcome{
		ProviderPaymentID: resp.ID,
		Status:            atlasStatus(resp.Status),
		RedirectURL:       resp.RedirectURL,
	}, nil
}

// Refund reverses an earlier charge by provider payment id.
func (a *AtlasAdapter) Refund(ctx context.Context, idempotencyKey string, providerPaymentID string, amount int64) (*RefundOutcome, error) {
	resp, err := a.client.Refund(ctx, idempotencyKey, atlasclient.RefundRequest{
		PaymentID: providerPaymentID,
		Amount:    amount,
	})
	if err != nil {
		return nil, a.translateError(err)
	}
	return &RefundOutcome{
		ProviderRefundID: resp.ID,
		Status:           atlasStatus(resp.Status),
	}, nil
}

// QuoteFees fetches Atlas's own processing fees.
func (a *AtlasAdapter) QuoteFees(ctx context.Context, amount int64, currency string) (*Fees, error) {
	resp, err := a.client.GetFees(ctx, amount, currency)
	if err != nil {
		return nil, a.translateError(err)
	}
	return &Fees{FixedFee: resp.FixedFee, PercentFee: resp.PercentFee}, nil
}

// atlasWebhookPayload is Atlas's webhook wire format.
type atlasWebhookPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		PaymentID   string `json:"payment_id"`
		Status      string `json:"status"`
		DeclineCode string `json:"decline_code,omitempty"`
		Message     string `json:"message,omitempty"`
	} `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// DecodeWebhook normalizes an Atlas webhook payload.
func (a *AtlasAdapter) DecodeWebhook(payload []byte) (*domain.ProviderWebhookEvent, error) {
	var raw atlasWebhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.NewValidationError("payload", fmt.Sprintf("invalid atlas webhook json: %v", err))
	}
	if raw.EventID == "" {
		return nil, domain.NewValidationError("event_id", "missing in atlas webhook")
	}
	return &domain.ProviderWebhookEvent{
		Provider:          domain.ProviderAtlasPay,
		ProviderEventID:   raw.EventID,
		ProviderPaymentID: raw.Data.PaymentID,
		EventType:         raw.EventType,
		Status:            atlasStatus(raw.Data.Status),
		FailureCode:       raw.Data.DeclineCode,
		FailureReason:     raw.Data.Message,
		OccurredAt:        raw.CreatedAt,
	}, nil
}

// atlasStatus maps Atlas payment states onto the ledger state machine.
func atlasStatus(status string) domain.TransactionStatus {
	switch status {
	case "succeeded":
		return domain.StatusCompleted
	case "authorized":
		return domain.StatusAuthorized
	case "pending", "requires_action":
		return domain.StatusPending
	case "refunded":
		return domain.StatusRefunded
	case "declined", "failed":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

// translateError maps Atlas client errors to the shared taxonomy.
func (a *AtlasAdapter) translateError(err error) error {
	if errors.Is(err, atlasclient.ErrTimeout) {
		return &domain.ProviderTransientError{Provider: domain.ProviderAtlasPay, Ambiguous: true, Err: err}
	}
	var apiErr *atlasclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Declined() {
			return &domain.ProviderDeclinedError{
				Provider: domain.ProviderAtlasPay,
				Code:     apiErr.Code,
				Reason:   apiErr.Message,
			}
		}
		return &domain.ProviderTransientError{Provider: domain.ProviderAtlasPay, Err: apiErr}
	}
	return &domain.ProviderTransientError{Provider: domain.ProviderAtlasPay, Err: err}
}
