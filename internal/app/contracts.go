/**
 * @description
 * Recurring contract management: establishing contracts from a vaulted
 * instrument, charging them on schedule or on merchant demand, and the
 * pause/resume/cancel lifecycle. The manager owns all RecurringContract
 * writes; resulting charges go through the ledger, never the other way
 * around.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/provider"
	"github.com/vendora/payments-service/internal/store"
	"github.com/vendora/payments-service/pkg/rabbitmq"
)

const (
	chargeRateLimitScope  = "contract_charge"
	chargeRateLimitWindow = time.Minute
)

// RateLimitedError signals that a merchant-initiated contract charge exceeded
// the per-contract throttle.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("charge rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// ContractManager owns the recurring contract lifecycle.
type ContractManager struct {
	repo                 store.Repository
	registry             *provider.Registry
	ledger               *Service
	eventProducer        rabbitmq.Publisher
	rateLimiter          ChargeRateLimiter
	chargeLimitPerMinute int
}

// NewContractManager creates a contract manager. The ledger dependency runs
// one way: contract charges are created through it.
func NewContractManager(repo store.Repository, registry *provider.Registry, ledger *Service, producer rabbitmq.Publisher) *ContractManager {
	return &ContractManager{
		repo:          repo,
		registry:      registry,
		ledger:        ledger,
		eventProducer: producer,
	}
}

// SetChargeRateLimiter enables distributed throttling of merchant-initiated
// charges. Zero or negative limitPerMinute disables it.
func (m *ContractManager) SetChargeRateLimiter(limiter ChargeRateLimiter, limitPerMinute int) {
	m.rateLimiter = limiter
	m.chargeLimitPerMinute = limitPerMinute
}

// EstablishContract stores a new recurring contract after the initial
// authorization vaulted the instrument provider-side.
func (m *ContractManager) EstablishContract(ctx context.Context, tenantID uuid.UUID, params domain.ContractParams) (*domain.ContractResult, error) {
	if !params.Provider.Valid() {
		return nil, domain.NewValidationError("provider", "unknown provider "+string(params.Provider))
	}
	// Establishing a contract at a provider that cannot charge it later is a
	// configuration mistake worth rejecting up front.
	if _, err := m.registry.RecurringCharger(params.Provider); err != nil {
		return nil, err
	}
	if params.TokenID == "" {
		return nil, domain.NewValidationError("token_id", "required")
	}
	if params.ContractType != domain.ContractTypeScheduled && params.ContractType != domain.ContractTypeUnscheduled {
		return nil, domain.NewValidationError("contract_type", "must be scheduled or unscheduled")
	}

	cfg, err := m.repo.GetTenantPaymentConfig(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant payment config: %w", err)
	}
	if !cfg.ProviderEnabled(params.Provider) {
		return nil, domain.NewValidationError("provider", string(params.Provider)+" is not enabled for this tenant")
	}

	contract := &domain.RecurringContract{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		CustomerID:         params.CustomerID,
		Provider:           params.Provider,
		ProviderContractID: params.ProviderContractID,
		ContractType:       params.ContractType,
		Status:             domain.ContractStatusActive,
		TokenID:            params.TokenID,
		CardLast4:          params.CardLast4,
		CardBrand:          params.CardBrand,
		CardExpMonth:       params.CardExpMonth,
		CardExpYear:        params.CardExpYear,
		MaxAmount:          params.MaxAmount,
	}

	if params.ContractType == domain.ContractTypeScheduled {
		if params.FrequencyDays <= 0 {
			return nil, domain.NewValidationError("frequency_days", "must be positive for scheduled contracts")
		}
		if params.ChargeAmount <= 0 {
			return nil, domain.NewValidationError("charge_amount", "must be positive for scheduled contracts")
		}
		if params.MaxAmount != nil && params.ChargeAmount > *params.MaxAmount {
			return nil, domain.NewValidationError("charge_amount", "exceeds max_amount")
		}
		contract.FrequencyDays = params.FrequencyDays
		contract.ChargeAmount = params.ChargeAmount
		contract.Currency = params.Currency
		first := time.Now().UTC().AddDate(0, 0, params.FrequencyDays)
		if params.FirstChargeDate != nil {
			first = params.FirstChargeDate.UTC()
		}
		contract.NextChargeDate = &first
	}

	if contract.CardExpired(time.Now().UTC()) {
		return nil, domain.NewValidationError("card_exp", "stored instrument is already expired")
	}

	if err := m.repo.CreateContract(ctx, contract); err != nil {
		return nil, fmt.Errorf("persist contract: %w", err)
	}
	return &domain.ContractResult{Contract: contract}, nil
}

// GetContract returns a contract by id for the tenant.
func (m *ContractManager) GetContract(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	return m.repo.FindContractByID(ctx, tenantID, contractID)
}

// ChargeContract executes a merchant-initiated charge against a contract.
// Unscheduled contracts are the usual callers, but a scheduled contract can
// also be charged off-cycle; max_amount and the throttle apply either way.
func (m *ContractManager) ChargeContract(ctx context.Context, tenantID, contractID uuid.UUID, params domain.RecurringChargeParams, idempotencyKey string) (*domain.PaymentResult, error) {
	contract, err := m.chargeableContract(ctx, tenantID, contractID, params)
	if err != nil {
		return nil, err
	}

	if m.rateLimiter != nil && m.chargeLimitPerMinute > 0 {
		count, retryAfter, limitErr := m.rateLimiter.ConsumeRateLimit(ctx, chargeRateLimitScope, contract.ID.String(), m.chargeLimitPerMinute, chargeRateLimitWindow)
		if limitErr != nil {
			// Redis being down must not block revenue; log and continue.
			log.Printf("level=warn component=contracts msg=\"rate limiter unavailable; allowing charge\" contract_id=%s err=%v", contract.ID, limitErr)
		} else if count > m.chargeLimitPerMinute {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	return m.ledger.chargeRecurring(ctx, contract, params, idempotencyKey)
}

// ChargeDueContracts runs one scheduler pass: find scheduled contracts whose
// next_charge_date has arrived and charge each. Failures on one contract do
// not stop the batch.
func (m *ContractManager) ChargeDueContracts(ctx context.Context, now time.Time, batchSize int) (charged, failed int, err error) {
	due, err := m.repo.FindDueScheduledContracts(ctx, now, batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("list due contracts: %w", err)
	}

	for i := range due {
		contract := &due[i]
		params := domain.RecurringChargeParams{
			GrossAmount: contract.ChargeAmount,
			Currency:    contract.Currency,
			Description: "scheduled contract charge",
		}
		if chargeErr := m.chargeScheduled(ctx, contract, now, params); chargeErr != nil {
			failed++
			continue
		}
		charged++
	}
	return charged, failed, nil
}

// chargeScheduled executes one scheduler-initiated charge. The idempotency
// key is derived from the contract and its due date, so two scheduler
// instances processing the same tick cannot double-charge.
func (m *ContractManager) chargeScheduled(ctx context.Context, contract *domain.RecurringContract, now time.Time, params domain.RecurringChargeParams) error {
	if contract.Status != domain.ContractStatusActive {
		return nil
	}
	if contract.NextChargeDate == nil {
		return nil
	}
	if contract.CardExpired(now) {
		log.Printf("level=warn component=contracts msg=\"skipping charge on expired card\" contract_id=%s", contract.ID)
		return m.expireContract(ctx, contract)
	}
	if err := m.validateChargeAmount(contract, params); err != nil {
		return err
	}

	dueDate := contract.NextChargeDate.UTC().Format("2006-01-02")
	idempotencyKey := fmt.Sprintf("contract-%s-%s", contract.ID, dueDate)

	result, err := m.ledger.chargeRecurring(ctx, contract, params, idempotencyKey)
	if err != nil {
		if _, declined := domain.IsProviderDeclined(err); declined {
			// Terminal failure: next_charge_date stays put so the operator
			// can see the missed cycle, and the failure is broadcast.
			m.publishChargeFailed(ctx, contract, err.Error())
		}
		return err
	}

	// Any non-failed outcome advances the schedule, pending included; the
	// webhook will settle the transaction itself.
	if result.Transaction.Status != domain.StatusFailed {
		next := contract.NextChargeDate.AddDate(0, 0, contract.FrequencyDays)
		if advanceErr := m.repo.AdvanceNextChargeDate(ctx, contract.ID, next); advanceErr != nil {
			log.Printf("CRITICAL: charged contract %s but failed to advance next_charge_date: %v", contract.ID, advanceErr)
			return advanceErr
		}
		contract.NextChargeDate = &next
		return nil
	}

	m.publishChargeFailed(ctx, contract, failureText(result.Transaction))
	return fmt.Errorf("scheduled charge failed for contract %s", contract.ID)
}

// CancelContract permanently stops a contract. Cancelling an already
// cancelled or expired contract is a no-op success.
func (m *ContractManager) CancelContract(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	changed, err := m.repo.UpdateContractStatus(ctx, tenantID, contractID,
		[]domain.ContractStatus{domain.ContractStatusActive, domain.ContractStatusPaused},
		domain.ContractStatusCancelled)
	if err != nil {
		return nil, err
	}
	contract, err := m.repo.FindContractByID(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	if !changed && !contract.Status.Terminal() {
		return nil, fmt.Errorf("cancel from %s: %w", contract.Status, domain.ErrInvalidStateTransition)
	}
	return contract, nil
}

// PauseContract suspends charging without discarding the schedule. Pausing a
// paused contract is a no-op success.
func (m *ContractManager) PauseContract(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	changed, err := m.repo.UpdateContractStatus(ctx, tenantID, contractID,
		[]domain.ContractStatus{domain.ContractStatusActive},
		domain.ContractStatusPaused)
	if err != nil {
		return nil, err
	}
	contract, err := m.repo.FindContractByID(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	if !changed && contract.Status != domain.ContractStatusPaused {
		return nil, fmt.Errorf("pause from %s: %w", contract.Status, domain.ErrInvalidStateTransition)
	}
	return contract, nil
}

// ResumeContract reactivates a paused contract. Resuming an active contract
// is a no-op success; terminal contracts cannot come back.
func (m *ContractManager) ResumeContract(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	changed, err := m.repo.UpdateContractStatus(ctx, tenantID, contractID,
		[]domain.ContractStatus{domain.ContractStatusPaused},
		domain.ContractStatusActive)
	if err != nil {
		return nil, err
	}
	contract, err := m.repo.FindContractByID(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	if !changed && contract.Status != domain.ContractStatusActive {
		return nil, fmt.Errorf("resume from %s: %w", contract.Status, domain.ErrInvalidStateTransition)
	}
	return contract, nil
}

// ExpireContractsWithStaleCards runs one sweep marking contracts whose stored
// card expiry has passed. Returns how many were expired.
func (m *ContractManager) ExpireContractsWithStaleCards(ctx context.Context, now time.Time, batchSize int) (int, error) {
	stale, err := m.repo.FindContractsWithExpiredCards(ctx, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("list contracts with expired cards: %w", err)
	}

	expired := 0
	for i := range stale {
		if err := m.expireContract(ctx, &stale[i]); err != nil {
			log.Printf("level=error component=contracts msg=\"failed to expire contract\" contract_id=%s err=%v", stale[i].ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (m *ContractManager) expireContract(ctx context.Context, contract *domain.RecurringContract) error {
	_, err := m.repo.UpdateContractStatus(ctx, contract.TenantID, contract.ID,
		[]domain.ContractStatus{domain.ContractStatusActive, domain.ContractStatusPaused},
		domain.ContractStatusExpired)
	if err != nil {
		return err
	}
	contract.Status = domain.ContractStatusExpired
	return nil
}

func (m *ContractManager) chargeableContract(ctx context.Context, tenantID, contractID uuid.UUID, params domain.RecurringChargeParams) (*domain.RecurringContract, error) {
	contract, err := m.repo.FindContractByID(ctx, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	switch contract.Status {
	case domain.ContractStatusActive:
	case domain.ContractStatusPaused:
		return nil, domain.NewValidationError("contract", "contract is paused")
	default:
		return nil, domain.NewValidationError("contract", "contract is "+string(contract.Status))
	}
	if contract.CardExpired(time.Now().UTC()) {
		if err := m.expireContract(ctx, contract); err != nil {
			log.Printf("level=error component=contracts msg=\"failed to expire contract\" contract_id=%s err=%v", contract.ID, err)
		}
		return nil, domain.NewValidationError("contract", "stored instrument has expired")
	}
	if err := m.validateChargeAmount(contract, params); err != nil {
		return nil, err
	}
	return contract, nil
}

func (m *ContractManager) validateChargeAmount(contract *domain.RecurringContract, params domain.RecurringChargeParams) error {
	if params.GrossAmount <= 0 {
		return domain.NewValidationError("gross_amount", "must be positive")
	}
	if contract.MaxAmount != nil && params.GrossAmount > *contract.MaxAmount {
		return domain.NewValidationError("gross_amount", fmt.Sprintf("exceeds contract max_amount of %d", *contract.MaxAmount))
	}
	return nil
}

func (m *ContractManager) publishChargeFailed(ctx context.Context, contract *domain.RecurringContract, reason string) {
	if m.eventProducer == nil {
		return
	}
	event := domain.ContractChargeFailedEvent{
		TenantID:   contract.TenantID.String(),
		ContractID: contract.ID.String(),
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	if err := m.eventProducer.Publish(ctx, rabbitmq.PaymentsExchange, rabbitmq.RoutingKeyContractChargeFailed, event); err != nil {
		log.Printf("WARN: failed to publish contract charge failure for %s: %v", contract.ID, err)
	}
}

func failureText(tx *domain.PaymentTransaction) string {
	switch {
	case tx.FailureReason != nil && *tx.FailureReason != "":
		return *tx.FailureReason
	case tx.FailureCode != nil && *tx.FailureCode != "":
		return *tx.FailureCode
	default:
		return "charge failed"
	}
}
