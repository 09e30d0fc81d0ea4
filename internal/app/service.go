/**
 * @description
 * This file contains the Transaction Ledger: the core business logic that
 * owns PaymentTransaction and PlatformCommission writes, the idempotency-key
 * deduplication, and the append-only audit trail. The `Service` struct
 * coordinates the database repository, the provider adapter registry, and the
 * message broker.
 *
 * Key behaviors:
 * - Create is a single attempt per call; retry/backoff belongs to callers.
 * - The commission rate is snapshotted at creation and never re-read.
 * - A provider timeout with an ambiguous outcome leaves the transaction
 *   pending for webhook confirmation; success or failure is never guessed.
 * - A persist failure after a successful provider call is CRITICAL and is
 *   surfaced, never swallowed.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/commission, internal/domain, internal/provider, internal/store.
 * - pkg/rabbitmq: For publishing lifecycle events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/commission"
	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/provider"
	"github.com/vendora/payments-service/internal/store"
	"github.com/vendora/payments-service/pkg/rabbitmq"
)

const defaultProviderTimeout = 30 * time.Second

// Service provides the transaction ledger and reporting logic.
type Service struct {
	repo            store.Repository
	registry        *provider.Registry
	eventProducer   rabbitmq.Publisher
	providerTimeout time.Duration
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, registry *provider.Registry, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:            repo,
		registry:        registry,
		eventProducer:   producer,
		providerTimeout: defaultProviderTimeout,
	}
}

// SetProviderTimeout overrides the bounded timeout applied to outbound
// provider calls.
func (s *Service) SetProviderTimeout(d time.Duration) {
	if d > 0 {
		s.providerTimeout = d
	}
}

// CreatePayment handles a one-click charge against a vaulted card token.
func (s *Service) CreatePayment(ctx context.Context, tenantID uuid.UUID, params domain.CreatePaymentParams, idempotencyKey string) (*domain.PaymentResult, error) {
	params.PaymentType = domain.PaymentTypeOneClick
	if err := validateCreateParams(params, idempotencyKey); err != nil {
		return nil, err
	}

	charger, err := s.registry.Charger(params.Provider)
	if err != nil {
		return nil, err
	}

	return s.createAndExecute(ctx, tenantID, params, idempotencyKey, nil, func(callCtx context.Context, key string) (*provider.ChargeOutcome, error) {
		return charger.Charge(callCtx, key, params)
	})
}

// CreateMotoPayment handles a manual-entry (MOTO) charge.
func (s *Service) CreateMotoPayment(ctx context.Context, tenantID uuid.UUID, params domain.CreatePaymentParams, idempotencyKey string) (*domain.PaymentResult, error) {
	params.PaymentType = domain.PaymentTypeManualEntry
	if err := validateCreateParams(params, idempotencyKey); err != nil {
		return nil, err
	}

	charger, err := s.registry.MotoCharger(params.Provider)
	if err != nil {
		return nil, err
	}

	return s.createAndExecute(ctx, tenantID, params, idempotencyKey, nil, func(callCtx context.Context, key string) (*provider.ChargeOutcome, error) {
		return charger.ChargeMoto(callCtx, key, params)
	})
}

// chargeRecurring executes a charge against an established contract. Called
// by the ContractManager only; the dependency runs one way.
func (s *Service) chargeRecurring(ctx context.Context, contract *domain.RecurringContract, params domain.RecurringChargeParams, idempotencyKey string) (*domain.PaymentResult, error) {
	charger, err := s.registry.RecurringCharger(contract.Provider)
	if err != nil {
		return nil, err
	}

	createParams := domain.CreatePaymentParams{
		OrderID:     params.OrderID,
		Provider:    contract.Provider,
		PaymentType: domain.PaymentTypeRecurring,
		GrossAmount: params.GrossAmount,
		Currency:    params.Currency,
		CustomerID:  &contract.CustomerID,
		Description: params.Description,
	}
	if err := validateCreateParams(createParams, idempotencyKey); err != nil {
		return nil, err
	}

	contractID := contract.ID
	return s.createAndExecute(ctx, contract.TenantID, createParams, idempotencyKey, &contractID, func(callCtx context.Context, key string) (*provider.ChargeOutcome, error) {
		return charger.ChargeRecurring(callCtx, key, contract, params)
	})
}

func validateCreateParams(params domain.CreatePaymentParams, idempotencyKey string) error {
	if idempotencyKey == "" {
		return domain.NewValidationError("idempotency_key", "required for charge creation")
	}
	if !params.Provider.Valid() {
		return domain.NewValidationError("provider", "unknown provider "+string(params.Provider))
	}
	if params.GrossAmount <= 0 {
		return domain.NewValidationError("gross_amount", "must be positive")
	}
	return nil
}

// createAndExecute is the shared charge-creation path: snapshot the tenant's
// commission rate, persist the pending transaction (or return the prior one
// on an idempotency hit), invoke the adapter, and advance the state machine
// from the immediate result.
func (s *Service) createAndExecute(
	ctx context.Context,
	tenantID uuid.UUID,
	params domain.CreatePaymentParams,
	idempotencyKey string,
	contractID *uuid.UUID,
	invoke func(ctx context.Context, idempotencyKey string) (*provider.ChargeOutcome, error),
) (*domain.PaymentResult, error) {
	cfg, err := s.repo.GetTenantPaymentConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant payment config: %w", err)
	}
	if !cfg.ProviderEnabled(params.Provider) {
		return nil, domain.NewValidationError("provider", string(params.Provider)+" is not enabled for this tenant")
	}

	currency := params.Currency
	if currency == "" {
		currency = cfg.BaseCurrency
	}

	// Snapshot the rate now; a later tenant config change must not alter this
	// transaction.
	breakdown := commission.Calculate(params.GrossAmount, cfg.CommissionRate, currency)

	key := idempotencyKey
	tx := &domain.PaymentTransaction{
		ID:               uuid.New(),
		TenantID:         tenantID,
		OrderID:          params.OrderID,
		IdempotencyKey:   &key,
		Provider:         params.Provider,
		PaymentType:      params.PaymentType,
		ContractID:       contractID,
		GrossAmount:      breakdown.GrossAmount,
		Currency:         breakdown.Currency,
		CommissionRate:   breakdown.CommissionRate,
		CommissionAmount: breakdown.CommissionAmount,
		NetAmount:        breakdown.NetAmount,
		Status:           domain.StatusPending,
	}
	initialEvent := &domain.PaymentEvent{
		TransactionID: tx.ID,
		EventType:     domain.EventTypeCreated,
		Status:        domain.StatusPending,
		Provider:      tx.Provider,
	}

	persisted, created, err := s.repo.CreateTransaction(ctx, tx, initialEvent)
	if err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	duplicate := !created
	if duplicate {
		// An earlier request with the same key exists. If it already has a
		// provider-side identity or reached a decision, return it unchanged.
		// A pending row with no provider payment id means the earlier call's
		// response was lost; the adapter deduplicates on the same key, so
		// retrying the call is safe.
		if persisted.ProviderPaymentID != nil || persisted.Status != domain.StatusPending {
			return &domain.PaymentResult{Transaction: persisted, Duplicate: true, RedirectURL: persisted.RedirectURL}, nil
		}
		// Retrying the lost call is only safe when this request matches the
		// recorded row; a reused key with different amounts would charge the
		// provider something the ledger does not say.
		if persisted.GrossAmount != breakdown.GrossAmount || persisted.Currency != breakdown.Currency || persisted.Provider != params.Provider {
			return nil, domain.NewValidationError("idempotency_key", "reused with different request parameters")
		}
	}

	// On a decline the result still carries the recorded failed transaction
	// alongside the error.
	result, err := s.executeProviderCharge(ctx, persisted, invoke)
	if result != nil {
		result.Duplicate = duplicate
	}
	return result, err
}

// executeProviderCharge invokes the adapter with a bounded timeout and
// advances the transaction from the immediate result.
func (s *Service) executeProviderCharge(
	ctx context.Context,
	tx *domain.PaymentTransaction,
	invoke func(ctx context.Context, idempotencyKey string) (*provider.ChargeOutcome, error),
) (*domain.PaymentResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	idempotencyKey := ""
	if tx.IdempotencyKey != nil {
		idempotencyKey = *tx.IdempotencyKey
	}

	outcome, err := invoke(callCtx, idempotencyKey)
	if err != nil {
		return s.handleChargeError(ctx, tx, err)
	}

	return s.applyImmediateOutcome(ctx, tx, outcome)
}

func (s *Service) handleChargeError(ctx context.Context, tx *domain.PaymentTransaction, chargeErr error) (*domain.PaymentResult, error) {
	if declined, ok := domain.IsProviderDeclined(chargeErr); ok {
		code := declined.Code
		reason := declined.Reason
		if err := s.failTransaction(ctx, tx, &code, &reason); err != nil {
			return nil, err
		}
		return &domain.PaymentResult{Transaction: tx}, chargeErr
	}

	if transient, ambiguous := domain.IsProviderTransient(chargeErr); transient {
		if ambiguous {
			// The provider may already have processed the charge. Leave the
			// transaction pending for webhook confirmation and record what
			// happened; never guess the outcome from a timeout.
			log.Printf("level=warn component=ledger msg=\"provider call ambiguous; leaving transaction pending\" transaction_id=%s err=%v", tx.ID, chargeErr)
			if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
				TransactionID: tx.ID,
				EventType:     domain.EventTypeProviderTimeout,
				Status:        domain.StatusPending,
				Provider:      tx.Provider,
				Metadata:      map[string]string{"error": chargeErr.Error()},
			}); err != nil {
				log.Printf("level=error component=ledger msg=\"failed to record timeout event\" transaction_id=%s err=%v", tx.ID, err)
			}
			return &domain.PaymentResult{Transaction: tx}, nil
		}
		// The request never reached the provider; the transaction stays
		// pending and the caller may retry with the same idempotency key.
		return nil, chargeErr
	}

	return nil, chargeErr
}

// applyImmediateOutcome advances the transaction from the adapter's immediate
// result in the same logical operation as creation.
func (s *Service) applyImmediateOutcome(ctx context.Context, tx *domain.PaymentTransaction, outcome *provider.ChargeOutcome) (*domain.PaymentResult, error) {
	var providerPaymentID *string
	if outcome.ProviderPaymentID != "" {
		id := outcome.ProviderPaymentID
		providerPaymentID = &id
	}

	result := &domain.PaymentResult{Transaction: tx}
	if outcome.RedirectURL != "" {
		redirect := outcome.RedirectURL
		result.RedirectURL = &redirect
		tx.RedirectURL = &redirect
	}

	if outcome.Status == domain.StatusPending {
		// Still pending provider-side; just attach the provider identity so
		// the webhook can resolve the transaction later.
		if providerPaymentID != nil {
			if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, domain.StatusPending, store.UpdateTransactionStatusParams{
				Status:            domain.StatusPending,
				ProviderPaymentID: providerPaymentID,
			}); err != nil && !errors.Is(err, store.ErrStaleTransactionState) {
				return nil, s.criticalPersistFailure(tx, err)
			}
			tx.ProviderPaymentID = providerPaymentID
		}
		return result, nil
	}

	if !domain.CanTransition(tx.Status, outcome.Status) {
		log.Printf("level=error component=ledger msg=\"adapter returned illegal immediate status\" transaction_id=%s from=%s to=%s", tx.ID, tx.Status, outcome.Status)
		return nil, domain.ErrInvalidStateTransition
	}

	params := store.UpdateTransactionStatusParams{
		Status:            outcome.Status,
		ProviderPaymentID: providerPaymentID,
	}
	var completedAt *time.Time
	if outcome.Status == domain.StatusCompleted {
		now := time.Now().UTC()
		completedAt = &now
		params.CompletedAt = completedAt
	}

	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, tx.Status, params); err != nil {
		// The provider call already succeeded; losing this write is an
		// inconsistency that must be alerted on, not dropped.
		return nil, s.criticalPersistFailure(tx, err)
	}

	if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
		TransactionID: tx.ID,
		EventType:     eventTypeForStatus(outcome.Status),
		Status:        outcome.Status,
		Provider:      tx.Provider,
	}); err != nil {
		return nil, s.criticalPersistFailure(tx, err)
	}

	tx.Status = outcome.Status
	tx.ProviderPaymentID = providerPaymentID
	tx.CompletedAt = completedAt

	if outcome.Status == domain.StatusCompleted {
		if err := s.finalizeCompletion(ctx, tx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// failTransaction moves a transaction to failed, records the event, and
// publishes the failure. Terminal failures are always recorded, never only
// returned to the caller.
func (s *Service) failTransaction(ctx context.Context, tx *domain.PaymentTransaction, code, reason *string) error {
	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, tx.Status, store.UpdateTransactionStatusParams{
		Status:        domain.StatusFailed,
		FailureCode:   code,
		FailureReason: reason,
	}); err != nil {
		return s.criticalPersistFailure(tx, err)
	}
	if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
		TransactionID: tx.ID,
		EventType:     domain.EventTypeFailed,
		Status:        domain.StatusFailed,
		Provider:      tx.Provider,
		Metadata:      failureMetadata(code, reason),
	}); err != nil {
		return s.criticalPersistFailure(tx, err)
	}

	tx.Status = domain.StatusFailed
	tx.FailureCode = code
	tx.FailureReason = reason

	s.publishPaymentFailed(ctx, tx)
	return nil
}

// finalizeCompletion records the platform commission (exactly once per
// transaction) and publishes the completion event. A failed commission insert
// surfaces as a persistence failure: the completed status is already on disk,
// so nothing will retry the insert and the billing summary would silently
// understate.
func (s *Service) finalizeCompletion(ctx context.Context, tx *domain.PaymentTransaction) error {
	inserted, err := s.repo.RecordPlatformCommission(ctx, &domain.PlatformCommission{
		ID:               uuid.New(),
		TenantID:         tx.TenantID,
		TransactionID:    tx.ID,
		CommissionAmount: tx.CommissionAmount,
		CommissionRate:   tx.CommissionRate,
		Currency:         tx.Currency,
	})
	if err != nil {
		return s.criticalPersistFailure(tx, fmt.Errorf("record platform commission: %w", err))
	}
	if inserted {
		s.publish(ctx, rabbitmq.RoutingKeyCommissionRecorded, domain.PaymentCompletedEvent{
			TenantID:         tx.TenantID.String(),
			TransactionID:    tx.ID.String(),
			GrossAmount:      tx.GrossAmount,
			CommissionAmount: tx.CommissionAmount,
			NetAmount:        tx.NetAmount,
			Currency:         tx.Currency,
			Timestamp:        time.Now().UTC(),
		})
	}

	s.publish(ctx, rabbitmq.RoutingKeyPaymentCompleted, domain.PaymentCompletedEvent{
		TenantID:         tx.TenantID.String(),
		TransactionID:    tx.ID.String(),
		GrossAmount:      tx.GrossAmount,
		CommissionAmount: tx.CommissionAmount,
		NetAmount:        tx.NetAmount,
		Currency:         tx.Currency,
		Timestamp:        time.Now().UTC(),
	})
	return nil
}

// RefundTransaction reverses a completed charge, fully or in part. The refund
// is a brand-new transaction referencing the original; the original's money
// fields stay frozen, and its status moves completed -> refunded only once
// cumulative refunds cover the gross amount.
func (s *Service) RefundTransaction(ctx context.Context, tenantID, transactionID uuid.UUID, amount *int64) (*domain.RefundResult, error) {
	original, err := s.repo.FindTransactionByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.StatusCompleted {
		log.Printf("level=warn component=ledger msg=\"refund rejected\" transaction_id=%s status=%s", original.ID, original.Status)
		return nil, fmt.Errorf("refund from %s: %w", original.Status, domain.ErrInvalidStateTransition)
	}
	if original.ProviderPaymentID == nil {
		return nil, domain.NewValidationError("transaction", "original transaction has no provider payment id")
	}

	alreadyRefunded, err := s.repo.SumRefundedAmount(ctx, tenantID, original.ID)
	if err != nil {
		return nil, fmt.Errorf("sum prior refunds: %w", err)
	}
	remaining := original.GrossAmount - alreadyRefunded
	if remaining <= 0 {
		return nil, domain.NewValidationError("amount", "original transaction is already fully refunded")
	}

	refundAmount := remaining
	if amount != nil {
		if *amount <= 0 || *amount > remaining {
			return nil, domain.NewValidationError("amount", "refund amount must be positive and at most the unrefunded remainder")
		}
		refundAmount = *amount
	}

	refunder, err := s.registry.Refunder(original.Provider)
	if err != nil {
		return nil, err
	}

	originalID := original.ID
	refundTx := &domain.PaymentTransaction{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		OrderID:               original.OrderID,
		Provider:              original.Provider,
		PaymentType:           domain.PaymentTypeRefund,
		OriginalTransactionID: &originalID,
		ContractID:            original.ContractID,
		GrossAmount:           refundAmount,
		Currency:              original.Currency,
		CommissionRate:        original.CommissionRate,
		Status:                domain.StatusPending,
	}
	refundTx.NetAmount = refundAmount

	if _, _, err := s.repo.CreateTransaction(ctx, refundTx, &domain.PaymentEvent{
		TransactionID: refundTx.ID,
		EventType:     domain.EventTypeCreated,
		Status:        domain.StatusPending,
		Provider:      refundTx.Provider,
		Metadata:      map[string]string{"original_transaction_id": originalID.String()},
	}); err != nil {
		return nil, fmt.Errorf("persist refund transaction: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	outcome, err := refunder.Refund(callCtx, refundTx.ID.String(), *original.ProviderPaymentID, refundAmount)
	if err != nil {
		if declined, ok := domain.IsProviderDeclined(err); ok {
			code := declined.Code
			reason := declined.Reason
			if failErr := s.failTransaction(ctx, refundTx, &code, &reason); failErr != nil {
				return nil, failErr
			}
		}
		return nil, err
	}

	var providerRefundID *string
	if outcome.ProviderRefundID != "" {
		id := outcome.ProviderRefundID
		providerRefundID = &id
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateTransactionStatus(ctx, refundTx.ID, domain.StatusPending, store.UpdateTransactionStatusParams{
		Status:            domain.StatusCompleted,
		ProviderPaymentID: providerRefundID,
		CompletedAt:       &now,
	}); err != nil {
		return nil, s.criticalPersistFailure(refundTx, err)
	}
	if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
		TransactionID: refundTx.ID,
		EventType:     domain.EventTypeCompleted,
		Status:        domain.StatusCompleted,
		Provider:      refundTx.Provider,
	}); err != nil {
		return nil, s.criticalPersistFailure(refundTx, err)
	}
	refundTx.Status = domain.StatusCompleted
	refundTx.ProviderPaymentID = providerRefundID
	refundTx.CompletedAt = &now

	// A refund of the full remainder closes the original completed ->
	// refunded. A partial refund leaves it completed so the rest stays
	// refundable; the original's money fields are frozen either way and only
	// the audit trail records what happened.
	if refundAmount == remaining {
		if err := s.repo.UpdateTransactionStatus(ctx, original.ID, domain.StatusCompleted, store.UpdateTransactionStatusParams{
			Status: domain.StatusRefunded,
		}); err != nil {
			return nil, s.criticalPersistFailure(original, err)
		}
		if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
			TransactionID: original.ID,
			EventType:     domain.EventTypeRefunded,
			Status:        domain.StatusRefunded,
			Provider:      original.Provider,
			Metadata:      map[string]string{"refund_transaction_id": refundTx.ID.String()},
		}); err != nil {
			return nil, s.criticalPersistFailure(original, err)
		}
		original.Status = domain.StatusRefunded
	} else {
		if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
			TransactionID: original.ID,
			EventType:     domain.EventTypePartialRefund,
			Status:        domain.StatusCompleted,
			Provider:      original.Provider,
			Metadata: map[string]string{
				"refund_transaction_id": refundTx.ID.String(),
				"refunded_amount":       strconv.FormatInt(refundAmount, 10),
			},
		}); err != nil {
			return nil, s.criticalPersistFailure(original, err)
		}
	}

	s.publish(ctx, rabbitmq.RoutingKeyPaymentRefunded, domain.PaymentCompletedEvent{
		TenantID:         tenantID.String(),
		TransactionID:    refundTx.ID.String(),
		GrossAmount:      refundAmount,
		CommissionAmount: 0,
		NetAmount:        refundAmount,
		Currency:         refundTx.Currency,
		Timestamp:        now,
	})

	return &domain.RefundResult{RefundTransaction: refundTx, OriginalTransaction: original}, nil
}

// VoidTransaction cancels a transaction before settlement. Legal from any
// non-terminal state; terminal thereafter, reversible only by creating a
// brand-new transaction.
func (s *Service) VoidTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.PaymentTransaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Terminal() {
		return nil, fmt.Errorf("void from %s: %w", tx.Status, domain.ErrInvalidStateTransition)
	}

	if err := s.repo.UpdateTransactionStatus(ctx, tx.ID, tx.Status, store.UpdateTransactionStatusParams{
		Status: domain.StatusVoided,
	}); err != nil {
		if errors.Is(err, store.ErrStaleTransactionState) {
			return nil, domain.ErrInvalidStateTransition
		}
		return nil, err
	}
	if err := s.repo.AppendEvent(ctx, &domain.PaymentEvent{
		TransactionID: tx.ID,
		EventType:     domain.EventTypeVoided,
		Status:        domain.StatusVoided,
		Provider:      tx.Provider,
	}); err != nil {
		return nil, s.criticalPersistFailure(tx, err)
	}
	tx.Status = domain.StatusVoided
	return tx, nil
}

// GetTransaction returns a transaction together with its audit trail.
func (s *Service) GetTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.PaymentTransaction, []domain.PaymentEvent, error) {
	tx, err := s.repo.FindTransactionByID(ctx, tenantID, transactionID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.repo.ListEvents(ctx, tx.ID)
	if err != nil {
		return nil, nil, err
	}
	return tx, events, nil
}

// QuoteProviderFees exposes a provider's own fixed/percentage fees for cost
// transparency. Distinct from the platform commission; not every provider
// publishes fees.
func (s *Service) QuoteProviderFees(ctx context.Context, p domain.Provider, amount int64, currency string) (*provider.Fees, error) {
	quoter, ok := s.registry.FeeQuoter(p)
	if !ok {
		return nil, domain.NewValidationError("provider", string(p)+" does not publish a fee schedule")
	}
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	return quoter.QuoteFees(callCtx, amount, currency)
}

func (s *Service) criticalPersistFailure(tx *domain.PaymentTransaction, err error) error {
	log.Printf("CRITICAL: failed to persist state for transaction %s after provider call: %v", tx.ID, err)
	return fmt.Errorf("transaction %s: %v: %w", tx.ID, err, domain.ErrPersistenceFailure)
}

func (s *Service) publishPaymentFailed(ctx context.Context, tx *domain.PaymentTransaction) {
	event := domain.PaymentFailedEvent{
		TenantID:      tx.TenantID.String(),
		TransactionID: tx.ID.String(),
		Timestamp:     time.Now().UTC(),
	}
	if tx.FailureCode != nil {
		event.FailureCode = *tx.FailureCode
	}
	if tx.FailureReason != nil {
		event.FailureReason = *tx.FailureReason
	}
	s.publish(ctx, rabbitmq.RoutingKeyPaymentFailed, event)
}

func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, rabbitmq.PaymentsExchange, routingKey, body); err != nil {
		log.Printf("WARN: failed to publish %s event: %v", routingKey, err)
	}
}

func eventTypeForStatus(status domain.TransactionStatus) string {
	switch status {
	case domain.StatusAuthorized:
		return domain.EventTypeAuthorized
	case domain.StatusCompleted:
		return domain.EventTypeCompleted
	case domain.StatusFailed:
		return domain.EventTypeFailed
	case domain.StatusRefunded:
		return domain.EventTypeRefunded
	case domain.StatusVoided:
		return domain.EventTypeVoided
	default:
		return string(status)
	}
}

func failureMetadata(code, reason *string) map[string]string {
	metadata := make(map[string]string, 2)
	if code != nil && *code != "" {
		metadata["failure_code"] = *code
	}
	if reason != nil && *reason != "" {
		metadata["failure_reason"] = *reason
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}
