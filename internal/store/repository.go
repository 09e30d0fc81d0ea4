/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the payments-service performs. The interface decouples business
 * logic from PostgreSQL and lets tests substitute stubs.
 *
 * Atomicity notes (part of the contract, not an implementation detail):
 * - CreateTransaction deduplicates on a unique (tenant_id, idempotency_key)
 *   constraint; a read-then-write without the constraint would be a race.
 * - RecordProviderEvent deduplicates on a unique (provider, provider_event_id)
 *   constraint for the same reason.
 * - UpdateTransactionStatus is conditional on the expected current status so
 *   concurrent service instances serialize through the store, not through
 *   in-process locks.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Tenant configuration (read-only here; owned by tenant administration).
	GetTenantPaymentConfig(ctx context.Context, tenantID uuid.UUID) (*domain.TenantPaymentConfig, error)

	// Transaction methods.
	//
	// CreateTransaction inserts tx together with its initial event in one
	// transaction. When the (tenant_id, idempotency_key) pair already exists
	// it returns the prior row with created=false and inserts nothing.
	CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction, initialEvent *domain.PaymentEvent) (existing *domain.PaymentTransaction, created bool, err error)
	FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.PaymentTransaction, error)
	FindTransactionByProviderPaymentID(ctx context.Context, provider domain.Provider, providerPaymentID string) (*domain.PaymentTransaction, error)
	// UpdateTransactionStatus moves a transaction from expectedFrom to
	// params.Status; when the row is no longer in expectedFrom it returns
	// ErrStaleTransactionState and changes nothing.
	UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expectedFrom domain.TransactionStatus, params UpdateTransactionStatusParams) error
	// SumRefundedAmount totals the gross amounts of refund transactions
	// referencing originalTransactionID that are pending or completed.
	// In-flight refunds count so concurrent partial refunds cannot overshoot
	// the original.
	SumRefundedAmount(ctx context.Context, tenantID, originalTransactionID uuid.UUID) (int64, error)

	// Audit trail methods. Events are append-only: no update or delete
	// operation exists.
	AppendEvent(ctx context.Context, event *domain.PaymentEvent) error
	// RecordProviderEvent appends an event carrying a provider_event_id.
	// inserted=false means the (provider, provider_event_id) pair was already
	// recorded and nothing changed.
	RecordProviderEvent(ctx context.Context, event *domain.PaymentEvent) (inserted bool, err error)
	HasProviderEvent(ctx context.Context, provider domain.Provider, providerEventID string) (bool, error)
	ListEvents(ctx context.Context, transactionID uuid.UUID) ([]domain.PaymentEvent, error)

	// Platform commission methods (append-only, 1:1 with completed
	// transactions via a unique transaction_id constraint).
	RecordPlatformCommission(ctx context.Context, commission *domain.PlatformCommission) (inserted bool, err error)
	GetCommissionSummary(ctx context.Context, tenantID uuid.UUID) (*domain.CommissionSummary, error)
	ListCommissionEntries(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.PlatformCommission, error)

	// Recurring contract methods. Contracts are never hard-deleted.
	CreateContract(ctx context.Context, contract *domain.RecurringContract) error
	FindContractByID(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error)
	// UpdateContractStatus moves a contract to status and reports whether a
	// row actually changed (changed=false when it was already there, which
	// callers treat as an idempotent no-op success).
	UpdateContractStatus(ctx context.Context, tenantID, contractID uuid.UUID, from []domain.ContractStatus, to domain.ContractStatus) (changed bool, err error)
	AdvanceNextChargeDate(ctx context.Context, contractID uuid.UUID, next time.Time) error
	FindDueScheduledContracts(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error)
	FindContractsWithExpiredCards(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error)
}

// UpdateTransactionStatusParams carries the optional fields a status change
// can set alongside the new status.
type UpdateTransactionStatusParams struct {
	Status            domain.TransactionStatus
	ProviderPaymentID *string
	FailureCode       *string
	FailureReason     *string
	CompletedAt       *time.Time
}
