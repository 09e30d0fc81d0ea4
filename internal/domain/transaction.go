/**
 * @description
 * This file defines the core domain models for the payments-service. These
 * structs represent the main entities and data transfer objects used across
 * the business logic, database, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (minor units,
 *   e.g. cents), which avoids floating-point inaccuracies with financial data.
 * - The commission rate applied to a transaction is snapshotted onto the row
 *   at creation time; a later tenant config change never alters history.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies an external payment provider.
type Provider string

const (
	ProviderAtlasPay Provider = "atlaspay"
	ProviderMeridian Provider = "meridian"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAtlasPay, ProviderMeridian:
		return true
	}
	return false
}

// PaymentType distinguishes how a charge was initiated.
type PaymentType string

const (
	PaymentTypeOneClick    PaymentType = "one_click"
	PaymentTypeManualEntry PaymentType = "manual_entry"
	PaymentTypeRecurring   PaymentType = "recurring"
	PaymentTypeRefund      PaymentType = "refund"
)

// PaymentTransaction is the central ledger record for one attempted or
// completed charge. It maps directly to the `payment_transactions` table.
type PaymentTransaction struct {
	ID                uuid.UUID   `json:"id"`
	TenantID          uuid.UUID   `json:"tenant_id"`
	OrderID           *uuid.UUID  `json:"order_id,omitempty"`
	IdempotencyKey    *string     `json:"idempotency_key,omitempty"`
	Provider          Provider    `json:"provider"`
	ProviderPaymentID *string     `json:"provider_payment_id,omitempty"`
	PaymentType       PaymentType `json:"payment_type"`
	// OriginalTransactionID links a refund transaction back to the charge it
	// reverses. Nil for anything that is not a refund.
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"`
	ContractID            *uuid.UUID        `json:"contract_id,omitempty"`
	GrossAmount           int64             `json:"gross_amount"` // minor units
	Currency              string            `json:"currency"`
	CommissionRate        float64           `json:"commission_rate"`
	CommissionAmount      int64             `json:"commission_amount"` // minor units
	NetAmount             int64             `json:"net_amount"`        // minor units
	Status                TransactionStatus `json:"status"`
	FailureCode           *string           `json:"failure_code,omitempty"`
	FailureReason         *string           `json:"failure_reason,omitempty"`
	RedirectURL           *string           `json:"redirect_url,omitempty"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Terminal reports whether the transaction has reached a state from which no
// further money-affecting transition is permitted.
func (t *PaymentTransaction) Terminal() bool {
	return t.Status.Terminal()
}

// PaymentEvent is one entry in a transaction's append-only audit trail.
// Events are only ever inserted; they are never edited or reordered. The
// Seq column provides the true arrival order.
type PaymentEvent struct {
	Seq             int64             `json:"seq"`
	TransactionID   uuid.UUID         `json:"transaction_id"`
	EventType       string            `json:"event_type"`
	Status          TransactionStatus `json:"status"`
	Provider        Provider          `json:"provider"`
	ProviderEventID *string           `json:"provider_event_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Well-known event types recorded on the audit trail.
const (
	EventTypeCreated         = "created"
	EventTypeAuthorized      = "authorized"
	EventTypeCompleted       = "completed"
	EventTypeFailed          = "failed"
	EventTypeRefunded        = "refunded"
	EventTypePartialRefund   = "partial_refund"
	EventTypeVoided          = "voided"
	EventTypeProviderTimeout = "provider_timeout"
	EventTypeWebhookRejected = "webhook_rejected"
)

// CreatePaymentParams is the input to the ledger's charge-creation path.
type CreatePaymentParams struct {
	OrderID     *uuid.UUID  `json:"order_id,omitempty"`
	Provider    Provider    `json:"provider"`
	PaymentType PaymentType `json:"payment_type"`
	GrossAmount int64       `json:"gross_amount"` // minor units
	Currency    string      `json:"currency"`
	CustomerID  *uuid.UUID  `json:"customer_id,omitempty"`
	// CardToken references a vaulted instrument for one-click charges.
	CardToken   *string     `json:"card_token,omitempty"`
	Description string      `json:"description"`
}

// PaymentResult is returned to the caller after a charge attempt. Pending
// results may carry a redirect URL for 3-D Secure continuation.
type PaymentResult struct {
	Transaction *PaymentTransaction `json:"transaction"`
	// Duplicate is true when the idempotency key matched an earlier request
	// and the prior transaction was returned unchanged.
	Duplicate   bool    `json:"duplicate"`
	RedirectURL *string `json:"redirect_url,omitempty"`
}

// RefundResult is returned after a refund attempt. The refund is itself a new
// transaction; the original is referenced, never mutated.
type RefundResult struct {
	RefundTransaction   *PaymentTransaction `json:"refund_transaction"`
	OriginalTransaction *PaymentTransaction `json:"original_transaction"`
}

// TenantPaymentConfig holds a tenant's provider credentials and commission
// policy. It is owned and edited by tenant administration; this service only
// reads it.
type TenantPaymentConfig struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	CommissionRate float64   `json:"commission_rate"` // fraction in [0,1]
	BaseCurrency   string    `json:"base_currency"`
	// Enabled providers for the tenant; a charge routed at a provider the
	// tenant has not enabled is rejected before any state change.
	EnabledProviders []Provider `json:"enabled_providers"`
}

// ProviderEnabled reports whether the tenant may route charges at p.
func (c *TenantPaymentConfig) ProviderEnabled(p Provider) bool {
	for _, enabled := range c.EnabledProviders {
		if enabled == p {
			return true
		}
	}
	return false
}

// PlatformCommission is the derived, append-only payout-accounting record.
// Exactly one exists per transaction that reached completed.
type PlatformCommission struct {
	ID               uuid.UUID `json:"id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	TransactionID    uuid.UUID `json:"transaction_id"`
	CommissionAmount int64     `json:"commission_amount"` // minor units
	CommissionRate   float64   `json:"commission_rate"`
	Currency         string    `json:"currency"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// CommissionSummary is the reporting read model for a tenant.
type CommissionSummary struct {
	TenantID         uuid.UUID `json:"tenant_id"`
	TotalCollected   int64     `json:"total_collected"` // minor units
	TransactionCount int64     `json:"transaction_count"`
}
