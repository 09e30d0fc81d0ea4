package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/provider"
	"github.com/vendora/payments-service/internal/store"
)

type contractRepoStub struct {
	store.Repository

	config   *domain.TenantPaymentConfig
	contract *domain.RecurringContract
	due      []domain.RecurringContract

	createdContract *domain.RecurringContract
	statusChanges   []domain.ContractStatus
	statusChanged   bool
	advancedTo      *time.Time
	appendedEvents  []domain.PaymentEvent
	commissionCalls int
}

func (s *contractRepoStub) GetTenantPaymentConfig(ctx context.Context, tenantID uuid.UUID) (*domain.TenantPaymentConfig, error) {
	if s.config == nil {
		return nil, store.ErrTenantConfigNotFound
	}
	return s.config, nil
}

func (s *contractRepoStub) CreateContract(ctx context.Context, contract *domain.RecurringContract) error {
	s.createdContract = contract
	return nil
}

func (s *contractRepoStub) FindContractByID(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	if s.contract == nil {
		return nil, store.ErrContractNotFound
	}
	return s.contract, nil
}

func (s *contractRepoStub) UpdateContractStatus(ctx context.Context, tenantID, contractID uuid.UUID, from []domain.ContractStatus, to domain.ContractStatus) (bool, error) {
	if s.contract == nil {
		return false, store.ErrContractNotFound
	}
	for _, f := range from {
		if s.contract.Status == f {
			s.contract.Status = to
			s.statusChanges = append(s.statusChanges, to)
			s.statusChanged = true
			return true, nil
		}
	}
	return false, nil
}

func (s *contractRepoStub) AdvanceNextChargeDate(ctx context.Context, contractID uuid.UUID, next time.Time) error {
	s.advancedTo = &next
	return nil
}

func (s *contractRepoStub) FindDueScheduledContracts(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error) {
	return s.due, nil
}

func (s *contractRepoStub) CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction, initialEvent *domain.PaymentEvent) (*domain.PaymentTransaction, bool, error) {
	s.appendedEvents = append(s.appendedEvents, *initialEvent)
	return tx, true, nil
}

func (s *contractRepoStub) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expectedFrom domain.TransactionStatus, params store.UpdateTransactionStatusParams) error {
	return nil
}

func (s *contractRepoStub) AppendEvent(ctx context.Context, event *domain.PaymentEvent) error {
	s.appendedEvents = append(s.appendedEvents, *event)
	return nil
}

func (s *contractRepoStub) RecordPlatformCommission(ctx context.Context, commission *domain.PlatformCommission) (bool, error) {
	s.commissionCalls++
	return true, nil
}

type stubRecurringCharger struct {
	outcome *provider.ChargeOutcome
	err     error
	keys    []string
}

func (c *stubRecurringCharger) Provider() domain.Provider { return domain.ProviderMeridian }

func (c *stubRecurringCharger) ChargeRecurring(ctx context.Context, idempotencyKey string, contract *domain.RecurringContract, params domain.RecurringChargeParams) (*provider.ChargeOutcome, error) {
	c.keys = append(c.keys, idempotencyKey)
	if c.err != nil {
		return nil, c.err
	}
	return c.outcome, nil
}

type allowAllLimiter struct {
	count int
}

func (l *allowAllLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.count++
	return l.count, 1, nil
}

func meridianConfig() *domain.TenantPaymentConfig {
	return &domain.TenantPaymentConfig{
		TenantID:         uuid.New(),
		CommissionRate:   0.025,
		BaseCurrency:     "USD",
		EnabledProviders: []domain.Provider{domain.ProviderMeridian},
	}
}

func activeScheduledContract(nextCharge time.Time) *domain.RecurringContract {
	return &domain.RecurringContract{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		CustomerID:     uuid.New(),
		Provider:       domain.ProviderMeridian,
		ContractType:   domain.ContractTypeScheduled,
		Status:         domain.ContractStatusActive,
		TokenID:        "tok_abc",
		CardExpMonth:   12,
		CardExpYear:    time.Now().UTC().Year() + 2,
		FrequencyDays:  30,
		ChargeAmount:   4999,
		Currency:       "USD",
		NextChargeDate: &nextCharge,
	}
}

func newManager(repo store.Repository, charger provider.Adapter) (*ContractManager, *recordingPublisher) {
	publisher := &recordingPublisher{}
	registry := provider.NewRegistry(charger)
	ledger := NewService(repo, registry, publisher)
	return NewContractManager(repo, registry, ledger, publisher), publisher
}

func TestChargeDueContracts_SuccessAdvancesByFrequency(t *testing.T) {
	now := time.Now().UTC()
	due := now.Add(-time.Hour)
	contract := activeScheduledContract(due)
	repo := &contractRepoStub{config: meridianConfig(), due: []domain.RecurringContract{*contract}}
	charger := &stubRecurringCharger{outcome: &provider.ChargeOutcome{
		ProviderPaymentID: "mp_1",
		Status:            domain.StatusCompleted,
	}}
	manager, _ := newManager(repo, charger)

	charged, failed, err := manager.ChargeDueContracts(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if charged != 1 || failed != 0 {
		t.Fatalf("expected 1 charged 0 failed, got %d/%d", charged, failed)
	}
	if repo.advancedTo == nil {
		t.Fatal("expected next_charge_date to advance")
	}
	want := due.AddDate(0, 0, 30)
	if !repo.advancedTo.Equal(want) {
		t.Fatalf("expected advance by exactly 30 days to %s, got %s", want, repo.advancedTo)
	}
}

func TestChargeDueContracts_DerivedIdempotencyKeyIsStablePerDueDate(t *testing.T) {
	now := time.Now().UTC()
	due := now.Add(-time.Hour)
	contract := activeScheduledContract(due)
	repo := &contractRepoStub{config: meridianConfig(), due: []domain.RecurringContract{*contract}}
	charger := &stubRecurringCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}}
	manager, _ := newManager(repo, charger)

	if _, _, err := manager.ChargeDueContracts(context.Background(), now, 100); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(charger.keys) != 1 {
		t.Fatalf("expected one provider call, got %d", len(charger.keys))
	}
	want := "contract-" + contract.ID.String() + "-" + due.Format("2006-01-02")
	if charger.keys[0] != want {
		t.Fatalf("expected derived key %q, got %q", want, charger.keys[0])
	}
}

func TestChargeDueContracts_DeclineLeavesScheduleAndStaysActive(t *testing.T) {
	now := time.Now().UTC()
	due := now.Add(-time.Hour)
	contract := activeScheduledContract(due)
	repo := &contractRepoStub{config: meridianConfig(), due: []domain.RecurringContract{*contract}}
	charger := &stubRecurringCharger{err: &domain.ProviderDeclinedError{
		Provider: domain.ProviderMeridian,
		Code:     "card_declined",
		Reason:   "expired card",
	}}
	manager, publisher := newManager(repo, charger)

	charged, failed, err := manager.ChargeDueContracts(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if charged != 0 || failed != 1 {
		t.Fatalf("expected 0 charged 1 failed, got %d/%d", charged, failed)
	}
	if repo.advancedTo != nil {
		t.Fatal("expected next_charge_date unchanged on terminal failure")
	}
	if len(repo.statusChanges) != 0 {
		t.Fatal("expected contract to remain active for manual follow-up")
	}
	chargeFailedPublished := false
	for _, key := range publisher.published {
		if key == "contract.charge_failed" {
			chargeFailedPublished = true
		}
	}
	if !chargeFailedPublished {
		t.Fatal("expected contract.charge_failed to be published")
	}
}

func TestChargeContract_MaxAmountEnforced(t *testing.T) {
	maxAmount := int64(5000)
	contract := activeScheduledContract(time.Now().UTC().AddDate(0, 0, 10))
	contract.ContractType = domain.ContractTypeUnscheduled
	contract.MaxAmount = &maxAmount
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	manager, _ := newManager(repo, &stubRecurringCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}})

	_, err := manager.ChargeContract(context.Background(), contract.TenantID, contract.ID, domain.RecurringChargeParams{
		GrossAmount: 9000,
		Currency:    "USD",
	}, "merchant-key-1")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error over max_amount, got %v", err)
	}
}

func TestChargeContract_PausedRejected(t *testing.T) {
	contract := activeScheduledContract(time.Now().UTC())
	contract.Status = domain.ContractStatusPaused
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	manager, _ := newManager(repo, &stubRecurringCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}})

	_, err := manager.ChargeContract(context.Background(), contract.TenantID, contract.ID, domain.RecurringChargeParams{
		GrossAmount: 1000,
	}, "merchant-key-2")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for paused contract, got %v", err)
	}
}

func TestChargeContract_RateLimited(t *testing.T) {
	contract := activeScheduledContract(time.Now().UTC())
	contract.ContractType = domain.ContractTypeUnscheduled
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	manager, _ := newManager(repo, &stubRecurringCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}})

	limiter := &allowAllLimiter{count: 5} // next consume returns 6
	manager.SetChargeRateLimiter(limiter, 5)

	_, err := manager.ChargeContract(context.Background(), contract.TenantID, contract.ID, domain.RecurringChargeParams{
		GrossAmount: 1000,
	}, "merchant-key-3")
	var rateLimited *RateLimitedError
	if !errors.As(err, &rateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestCancelContract_Idempotent(t *testing.T) {
	contract := activeScheduledContract(time.Now().UTC())
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	manager, _ := newManager(repo, &stubRecurringCharger{})

	first, err := manager.CancelContract(context.Background(), contract.TenantID, contract.ID)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if first.Status != domain.ContractStatusCancelled {
		t.Fatalf("expected cancelled, got %s", first.Status)
	}

	// Cancelling again is a no-op success.
	second, err := manager.CancelContract(context.Background(), contract.TenantID, contract.ID)
	if err != nil {
		t.Fatalf("expected idempotent cancel, got %v", err)
	}
	if second.Status != domain.ContractStatusCancelled {
		t.Fatalf("expected cancelled, got %s", second.Status)
	}
}

func TestResumeContract_TerminalRejected(t *testing.T) {
	contract := activeScheduledContract(time.Now().UTC())
	contract.Status = domain.ContractStatusCancelled
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	manager, _ := newManager(repo, &stubRecurringCharger{})

	_, err := manager.ResumeContract(context.Background(), contract.TenantID, contract.ID)
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid state transition, got %v", err)
	}
}

func TestEstablishContract_ScheduledRequiresFrequencyAndAmount(t *testing.T) {
	repo := &contractRepoStub{config: meridianConfig()}
	manager, _ := newManager(repo, &stubRecurringCharger{})

	_, err := manager.EstablishContract(context.Background(), uuid.New(), domain.ContractParams{
		CustomerID:   uuid.New(),
		Provider:     domain.ProviderMeridian,
		ContractType: domain.ContractTypeScheduled,
		TokenID:      "tok_abc",
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEstablishContract_ScheduledSetsFirstChargeDate(t *testing.T) {
	repo := &contractRepoStub{config: meridianConfig()}
	manager, _ := newManager(repo, &stubRecurringCharger{})

	result, err := manager.EstablishContract(context.Background(), uuid.New(), domain.ContractParams{
		CustomerID:    uuid.New(),
		Provider:      domain.ProviderMeridian,
		ContractType:  domain.ContractTypeScheduled,
		TokenID:       "tok_abc",
		FrequencyDays: 30,
		ChargeAmount:  4999,
		Currency:      "USD",
		CardExpMonth:  12,
		CardExpYear:   time.Now().UTC().Year() + 2,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Contract.NextChargeDate == nil {
		t.Fatal("expected a first charge date to be scheduled")
	}
	if result.Contract.Status != domain.ContractStatusActive {
		t.Fatalf("expected active, got %s", result.Contract.Status)
	}
	if repo.createdContract == nil {
		t.Fatal("expected the contract to be persisted")
	}
}

func TestExpireContractsWithStaleCards(t *testing.T) {
	contract := activeScheduledContract(time.Now().UTC())
	contract.CardExpYear = 2020
	contract.CardExpMonth = 1
	repo := &contractRepoStub{config: meridianConfig(), contract: contract}
	repoWithStale := &staleCardRepoStub{contractRepoStub: repo, stale: []domain.RecurringContract{*contract}}
	manager := NewContractManager(repoWithStale, provider.NewRegistry(&stubRecurringCharger{}), nil, nil)

	expired, err := manager.ExpireContractsWithStaleCards(context.Background(), time.Now().UTC(), 100)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}
}

type staleCardRepoStub struct {
	*contractRepoStub
	stale []domain.RecurringContract
}

func (s *staleCardRepoStub) FindContractsWithExpiredCards(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error) {
	return s.stale, nil
}
