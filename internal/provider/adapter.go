/**
 * @description
 * Capability-polymorphic provider adapter contracts. Each external payment
 * provider implements the subset of capabilities it actually supports; the
 * ledger routes through the registry and never branches on provider identity.
 *
 * Adapters are responsible for translating provider-specific error payloads
 * into the shared failure taxonomy in internal/domain (transient vs declined
 * vs ambiguous timeout).
 */

package provider

import (
	"context"

	"github.com/vendora/payments-service/internal/domain"
)

// ChargeOutcome is the normalized immediate result of a charge call. A
// pending status with a redirect URL carries the 3-D Secure continuation
// artifact back to the caller.
type ChargeOutcome struct {
	ProviderPaymentID string
	Status            domain.TransactionStatus
	RedirectURL       string
}

// RefundOutcome is the normalized immediate result of a refund call.
type RefundOutcome struct {
	ProviderRefundID string
	Status           domain.TransactionStatus
}

// Fees describes a provider's own fixed/percentage fees for an amount. These
// are provider-side costs, distinct from the platform commission.
type Fees struct {
	FixedFee   int64
	PercentFee float64
}

// Adapter is the core contract every provider implementation satisfies.
// Operation capabilities are separate interfaces asserted at runtime by the
// registry.
type Adapter interface {
	Provider() domain.Provider
}

// Charger supports one-click charges against a vaulted card token.
type Charger interface {
	Adapter
	Charge(ctx context.Context, idempotencyKey string, params domain.CreatePaymentParams) (*ChargeOutcome, error)
}

// MotoCharger supports manual-entry (MOTO) charges.
type MotoCharger interface {
	Adapter
	ChargeMoto(ctx context.Context, idempotencyKey string, params domain.CreatePaymentParams) (*ChargeOutcome, error)
}

// RecurringCharger supports charges against a stored recurring contract.
type RecurringCharger interface {
	Adapter
	ChargeRecurring(ctx context.Context, idempotencyKey string, contract *domain.RecurringContract, params domain.RecurringChargeParams) (*ChargeOutcome, error)
}

// Refunder supports refunds referencing an original provider payment id.
type Refunder interface {
	Adapter
	Refund(ctx context.Context, idempotencyKey string, providerPaymentID string, amount int64) (*RefundOutcome, error)
}

// FeeQuoter optionally exposes provider-side fees for cost transparency.
type FeeQuoter interface {
	Adapter
	QuoteFees(ctx context.Context, amount int64, currency string) (*Fees, error)
}

// WebhookDecoder normalizes a provider's raw webhook payload into the shared
// event shape. Signature verification happens before decoding, in the API
// layer.
type WebhookDecoder interface {
	Adapter
	DecodeWebhook(payload []byte) (*domain.ProviderWebhookEvent, error)
}
