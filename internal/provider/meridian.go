/**
 * @description
 * Meridian adapter: manual-entry (MOTO) charges, tokenized recurring charges,
 * and refunds. Meridian does not support one-click vault charges and does not
 * publish a fee schedule, so it implements neither Charger nor FeeQuoter.
 */

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/pkg/meridianclient"
)

// MeridianAdapter implements MotoCharger, RecurringCharger, Refunder and
// WebhookDecoder over the Meridian HTTP client.
type MeridianAdapter struct {
	client *meridianclient.Client
}

// NewMeridianAdapter wraps a Meridian client.
func NewMeridianAdapter(client *meridianclient.Client) *MeridianAdapter {
	return &MeridianAdapter{client: client}
}

func (m *MeridianAdapter) Provider() domain.Provider {
	return domain.ProviderMeridian
}

// ChargeMoto performs a manual-entry charge using the session token produced
// by the PCI-scoped capture frontend.
func (m *MeridianAdapter) ChargeMoto(ctx context.Context, idempotencyKey string, params domain.CreatePaymentParams) (*ChargeOutcome, error) {
	if params.CardToken == nil || *params.CardToken == "" {
		return nil, domain.NewValidationError("card_token", "capture session token required for manual-entry charges")
	}

	resp, err := m.client.ChargeMoto(ctx, idempotencyKey, meridianclient.MotoChargeRequest{
		Amount:       params.GrossAmount,
		Currency:     params.Currency,
		SessionToken: *params.CardToken,
		Description:  params.Description,
	})
	if err != nil {
		return nil, m.translateError(err)
	}

	return &ChargeOutcome{
		ProviderPaymentID: resp.PaymentID,
		Status:            meridianStatus(resp.State),
		RedirectURL:       resp.RedirectURL,
	}, nil
}

// ChargeRecurring charges a stored agreement.
func (m *MeridianAdapter) ChargeRecurring(ctx context.Context, idempotencyKey string, contract *domain.RecurringContract, params domain.RecurringChargeParams) (*ChargeOutcome, error) {
	resp, err := m.client.ChargeRecurring(ctx, idempotencyKey, meridianclient.RecurringChargeRequest{
		AgreementID: contract.ProviderContractID,
		TokenID:     contract.TokenID,
		Amount:      params.GrossAmount,
		Currency:    params.Currency,
		Description: params.Description,
	})
	if err != nil {
		return nil, m.translateError(err)
	}

	return &ChargeOutcome{
		ProviderPaymentID: resp.PaymentID,
		Status:            meridianStatus(resp.State),
	}, nil
}

// Refund reverses an earlier payment by provider payment id.
func (m *MeridianAdapter) Refund(ctx context.Context, idempotencyKey string, providerPaymentID string, amount int64) (*RefundOutcome, error) {
	resp, err := m.client.Refund(ctx, idempotencyKey, meridianclient.RefundRequest{
		PaymentID: providerPaymentID,
		Amount:    amount,
	})
	if err != nil {
		return nil, m.translateError(err)
	}
	return &RefundOutcome{
		ProviderRefundID: resp.PaymentID,
		Status:           meridianStatus(resp.State),
	}, nil
}

// meridianWebhookPayload is Meridian's webhook wire format.
type meridianWebhookPayload struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	PaymentID  string `json:"payment_id"`
	State      string `json:"state"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DecodeWebhook normalizes a Meridian webhook payload.
func (m *MeridianAdapter) DecodeWebhook(payload []byte) (*domain.ProviderWebhookEvent, error) {
	var raw meridianWebhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, domain.NewValidationError("payload", fmt.Sprintf("invalid meridian webhook json: %v", err))
	}
	if raw.ID == "" {
		return nil, domain.NewValidationError("id", "missing in meridian webhook")
	}
	return &domain.ProviderWebhookEvent{
		Provider:          domain.ProviderMeridian,
		ProviderEventID:   raw.ID,
		ProviderPaymentID: raw.PaymentID,
		EventType:         raw.Type,
		Status:            meridianStatus(raw.State),
		FailureCode:       raw.ReasonCode,
		FailureReason:     raw.Reason,
		OccurredAt:        raw.OccurredAt,
	}, nil
}

// meridianStatus maps Meridian payment states onto the ledger state machine.
func meridianStatus(state string) domain.TransactionStatus {
	switch state {
	case "captured", "settled":
		return domain.StatusCompleted
	case "authorized":
		return domain.StatusAuthorized
	case "pending", "processing":
		return domain.StatusPending
	case "refunded":
		return domain.StatusRefunded
	case "declined", "failed", "expired":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

// translateError maps Meridian client errors to the shared taxonomy.
func (m *MeridianAdapter) translateError(err error) error {
	if errors.Is(err, meridianclient.ErrTimeout) {
		return &domain.ProviderTransientError{Provider: domain.ProviderMeridian, Ambiguous: true, Err: err}
	}
	var apiErr *meridianclient.ErrorResponse
	if errors.As(err, &apiErr) {
		if apiErr.Declined() {
			return &domain.ProviderDeclinedError{
				Provider: domain.ProviderMeridian,
				Code:     apiErr.FirstCode(),
				Reason:   apiErr.FirstDetail(),
			}
		}
		return &domain.ProviderTransientError{Provider: domain.ProviderMeridian, Err: apiErr}
	}
	return &domain.ProviderTransientError{Provider: domain.ProviderMeridian, Err: err}
}
