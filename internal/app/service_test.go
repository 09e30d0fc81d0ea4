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

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

type ledgerRepoStub struct {
	store.Repository

	config *domain.TenantPaymentConfig

	existingTx *domain.PaymentTransaction

	createdTx       *domain.PaymentTransaction
	statusUpdates   []store.UpdateTransactionStatusParams
	appendedEvents  []domain.PaymentEvent
	commissionCalls int
	commissionErr   error
	statusUpdateErr error
	foundTx         *domain.PaymentTransaction
	refundedSum     int64
}

func (s *ledgerRepoStub) GetTenantPaymentConfig(ctx context.Context, tenantID uuid.UUID) (*domain.TenantPaymentConfig, error) {
	if s.config == nil {
		return nil, store.ErrTenantConfigNotFound
	}
	return s.config, nil
}

func (s *ledgerRepoStub) CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction, initialEvent *domain.PaymentEvent) (*domain.PaymentTransaction, bool, error) {
	if s.existingTx != nil {
		return s.existingTx, false, nil
	}
	s.createdTx = tx
	s.appendedEvents = append(s.appendedEvents, *initialEvent)
	return tx, true, nil
}

func (s *ledgerRepoStub) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expectedFrom domain.TransactionStatus, params store.UpdateTransactionStatusParams) error {
	if s.statusUpdateErr != nil {
		return s.statusUpdateErr
	}
	s.statusUpdates = append(s.statusUpdates, params)
	return nil
}

func (s *ledgerRepoStub) AppendEvent(ctx context.Context, event *domain.PaymentEvent) error {
	s.appendedEvents = append(s.appendedEvents, *event)
	return nil
}

func (s *ledgerRepoStub) RecordPlatformCommission(ctx context.Context, commission *domain.PlatformCommission) (bool, error) {
	if s.commissionErr != nil {
		return false, s.commissionErr
	}
	s.commissionCalls++
	return true, nil
}

func (s *ledgerRepoStub) SumRefundedAmount(ctx context.Context, tenantID, originalTransactionID uuid.UUID) (int64, error) {
	return s.refundedSum, nil
}

func (s *ledgerRepoStub) FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.PaymentTransaction, error) {
	if s.foundTx == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.foundTx, nil
}

type stubCharger struct {
	outcome *provider.ChargeOutcome
	err     error
	calls   int
}

func (c *stubCharger) Provider() domain.Provider { return domain.ProviderAtlasPay }

func (c *stubCharger) Charge(ctx context.Context, idempotencyKey string, params domain.CreatePaymentParams) (*provider.ChargeOutcome, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.outcome, nil
}

type stubRefunder struct {
	outcome *provider.RefundOutcome
	calls   int
}

func (r *stubRefunder) Provider() domain.Provider { return domain.ProviderAtlasPay }

func (r *stubRefunder) Refund(ctx context.Context, idempotencyKey, providerPaymentID string, amount int64) (*provider.RefundOutcome, error) {
	r.calls++
	return r.outcome, nil
}

func tenantConfig() *domain.TenantPaymentConfig {
	return &domain.TenantPaymentConfig{
		TenantID:         uuid.New(),
		CommissionRate:   0.025,
		BaseCurrency:     "USD",
		EnabledProviders: []domain.Provider{domain.ProviderAtlasPay, domain.ProviderMeridian},
	}
}

func newLedger(repo store.Repository, charger provider.Adapter) (*Service, *recordingPublisher) {
	publisher := &recordingPublisher{}
	return NewService(repo, provider.NewRegistry(charger), publisher), publisher
}

func TestCreatePayment_CompletedRecordsCommission(t *testing.T) {
	repo := &ledgerRepoStub{config: tenantConfig()}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{
		ProviderPaymentID: "pay_abc",
		Status:            domain.StatusCompleted,
	}}
	ledger, publisher := newLedger(repo, charger)

	result, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 10000,
	}, "key-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Transaction.Status)
	}
	if result.Transaction.CommissionAmount != 250 || result.Transaction.NetAmount != 9750 {
		t.Fatalf("unexpected breakdown: commission=%d net=%d", result.Transaction.CommissionAmount, result.Transaction.NetAmount)
	}
	if result.Transaction.Currency != "USD" {
		t.Fatalf("expected tenant base currency fallback, got %q", result.Transaction.Currency)
	}
	if repo.commissionCalls != 1 {
		t.Fatalf("expected exactly one commission record, got %d", repo.commissionCalls)
	}
	completedPublished := false
	for _, key := range publisher.published {
		if key == "payment.completed" {
			completedPublished = true
		}
	}
	if !completedPublished {
		t.Fatal("expected payment.completed to be published")
	}
}

func TestCreatePayment_DuplicateKeyReturnsPriorWithoutCharging(t *testing.T) {
	providerPaymentID := "pay_prior"
	prior := &domain.PaymentTransaction{
		ID:                uuid.New(),
		Status:            domain.StatusCompleted,
		ProviderPaymentID: &providerPaymentID,
		GrossAmount:       10000,
	}
	repo := &ledgerRepoStub{config: tenantConfig(), existingTx: prior}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}}
	ledger, _ := newLedger(repo, charger)

	result, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 10000,
	}, "key-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if result.Transaction.ID != prior.ID {
		t.Fatal("expected the prior transaction to be returned")
	}
	if charger.calls != 0 {
		t.Fatalf("expected no provider call on duplicate, got %d", charger.calls)
	}
}

func TestCreatePayment_DuplicatePendingWithoutProviderIDRetriesCall(t *testing.T) {
	prior := &domain.PaymentTransaction{
		ID:          uuid.New(),
		Status:      domain.StatusPending,
		Provider:    domain.ProviderAtlasPay,
		Currency:    "USD",
		GrossAmount: 10000,
	}
	repo := &ledgerRepoStub{config: tenantConfig(), existingTx: prior}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{
		ProviderPaymentID: "pay_retry",
		Status:            domain.StatusCompleted,
	}}
	ledger, _ := newLedger(repo, charger)

	result, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 10000,
	}, "key-1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if charger.calls != 1 {
		t.Fatalf("expected the lost call to be retried, got %d calls", charger.calls)
	}
	if !result.Duplicate {
		t.Fatal("expected duplicate flag on retried prior transaction")
	}
	if result.Transaction.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after retry, got %s", result.Transaction.Status)
	}
}

func TestCreatePayment_RetryWithMismatchedParamsRejected(t *testing.T) {
	// A pending prior row with no provider payment id normally triggers the
	// lost-response retry; a reused key carrying different amounts must not,
	// or the provider charge would disagree with the ledger row.
	prior := &domain.PaymentTransaction{
		ID:          uuid.New(),
		Status:      domain.StatusPending,
		Provider:    domain.ProviderAtlasPay,
		Currency:    "USD",
		GrossAmount: 9999,
	}
	repo := &ledgerRepoStub{config: tenantConfig(), existingTx: prior}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}}
	ledger, _ := newLedger(repo, charger)

	_, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 10000,
		Currency:    "USD",
	}, "key-1")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error on mismatched key reuse, got %v", err)
	}
	if charger.calls != 0 {
		t.Fatalf("expected no provider call on mismatched key reuse, got %d", charger.calls)
	}
}

func TestCreatePayment_DeclineRecordsTerminalFailure(t *testing.T) {
	repo := &ledgerRepoStub{config: tenantConfig()}
	charger := &stubCharger{err: &domain.ProviderDeclinedError{
		Provider: domain.ProviderAtlasPay,
		Code:     "card_declined",
		Reason:   "insufficient funds",
	}}
	ledger, publisher := newLedger(repo, charger)

	result, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "key-1")
	if _, ok := domain.IsProviderDeclined(err); !ok {
		t.Fatalf("expected decline error, got %v", err)
	}
	if result == nil || result.Transaction.Status != domain.StatusFailed {
		t.Fatal("expected the failed transaction to be recorded and returned")
	}
	if len(repo.statusUpdates) != 1 || repo.statusUpdates[0].Status != domain.StatusFailed {
		t.Fatal("expected a single transition to failed")
	}
	failedEvent := false
	for _, ev := range repo.appendedEvents {
		if ev.EventType == domain.EventTypeFailed {
			failedEvent = true
		}
	}
	if !failedEvent {
		t.Fatal("expected a failed event on the audit trail")
	}
	failedPublished := false
	for _, key := range publisher.published {
		if key == "payment.failed" {
			failedPublished = true
		}
	}
	if !failedPublished {
		t.Fatal("expected payment.failed to be published")
	}
}

func TestCreatePayment_AmbiguousTimeoutLeavesPending(t *testing.T) {
	repo := &ledgerRepoStub{config: tenantConfig()}
	charger := &stubCharger{err: &domain.ProviderTransientError{
		Provider:  domain.ProviderAtlasPay,
		Ambiguous: true,
		Err:       context.DeadlineExceeded,
	}}
	ledger, _ := newLedger(repo, charger)

	result, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "key-1")
	if err != nil {
		t.Fatalf("expected nil error for ambiguous timeout, got %v", err)
	}
	if result.Transaction.Status != domain.StatusPending {
		t.Fatalf("expected pending awaiting webhook, got %s", result.Transaction.Status)
	}
	if len(repo.statusUpdates) != 0 {
		t.Fatal("expected no status change on ambiguous timeout")
	}
	timeoutEvent := false
	for _, ev := range repo.appendedEvents {
		if ev.EventType == domain.EventTypeProviderTimeout {
			timeoutEvent = true
		}
	}
	if !timeoutEvent {
		t.Fatal("expected a provider_timeout event on the audit trail")
	}
}

func TestCreatePayment_PersistFailureAfterChargeIsSurfaced(t *testing.T) {
	repo := &ledgerRepoStub{config: tenantConfig(), statusUpdateErr: errors.New("connection reset")}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{
		ProviderPaymentID: "pay_ok",
		Status:            domain.StatusCompleted,
	}}
	ledger, _ := newLedger(repo, charger)

	_, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "key-1")
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure to surface, got %v", err)
	}
}

func TestCreatePayment_CommissionPersistFailureIsSurfaced(t *testing.T) {
	// The completed status is already on disk when the commission insert
	// fails; nothing will retry it, so the caller must see the inconsistency.
	repo := &ledgerRepoStub{config: tenantConfig(), commissionErr: errors.New("connection reset")}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{
		ProviderPaymentID: "pay_ok",
		Status:            domain.StatusCompleted,
	}}
	ledger, _ := newLedger(repo, charger)

	_, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "key-1")
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure for lost commission record, got %v", err)
	}
}

func TestCreatePayment_ProviderNotEnabledForTenant(t *testing.T) {
	cfg := tenantConfig()
	cfg.EnabledProviders = []domain.Provider{domain.ProviderMeridian}
	repo := &ledgerRepoStub{config: cfg}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}}
	ledger, _ := newLedger(repo, charger)

	_, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "key-1")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if charger.calls != 0 {
		t.Fatal("expected rejection before any provider call")
	}
}

func TestCreatePayment_RequiresIdempotencyKey(t *testing.T) {
	repo := &ledgerRepoStub{config: tenantConfig()}
	charger := &stubCharger{outcome: &provider.ChargeOutcome{Status: domain.StatusCompleted}}
	ledger, _ := newLedger(repo, charger)

	_, err := ledger.CreatePayment(context.Background(), uuid.New(), domain.CreatePaymentParams{
		Provider:    domain.ProviderAtlasPay,
		GrossAmount: 5000,
	}, "")
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVoidTransaction_TerminalStateRejected(t *testing.T) {
	now := time.Now().UTC()
	repo := &ledgerRepoStub{
		config: tenantConfig(),
		foundTx: &domain.PaymentTransaction{
			ID:          uuid.New(),
			Status:      domain.StatusCompleted,
			CompletedAt: &now,
		},
	}
	ledger, _ := newLedger(repo, &stubCharger{})

	_, err := ledger.VoidTransaction(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid state transition, got %v", err)
	}
}

func TestVoidTransaction_PendingSucceeds(t *testing.T) {
	repo := &ledgerRepoStub{
		config:  tenantConfig(),
		foundTx: &domain.PaymentTransaction{ID: uuid.New(), Status: domain.StatusPending},
	}
	ledger, _ := newLedger(repo, &stubCharger{})

	tx, err := ledger.VoidTransaction(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if tx.Status != domain.StatusVoided {
		t.Fatalf("expected voided, got %s", tx.Status)
	}
}

func TestRefundTransaction_RequiresCompletedOriginal(t *testing.T) {
	repo := &ledgerRepoStub{
		config:  tenantConfig(),
		foundTx: &domain.PaymentTransaction{ID: uuid.New(), Status: domain.StatusPending},
	}
	ledger, _ := newLedger(repo, &stubCharger{})

	_, err := ledger.RefundTransaction(context.Background(), uuid.New(), uuid.New(), nil)
	if !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected invalid state transition, got %v", err)
	}
}

func TestRefundTransaction_PartialAmountBounds(t *testing.T) {
	providerPaymentID := "pay_orig"
	repo := &ledgerRepoStub{
		config: tenantConfig(),
		foundTx: &domain.PaymentTransaction{
			ID:                uuid.New(),
			Status:            domain.StatusCompleted,
			Provider:          domain.ProviderAtlasPay,
			ProviderPaymentID: &providerPaymentID,
			GrossAmount:       10000,
		},
	}
	ledger, _ := newLedger(repo, &stubCharger{})

	tooMuch := int64(20000)
	_, err := ledger.RefundTransaction(context.Background(), uuid.New(), uuid.New(), &tooMuch)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error for oversize refund, got %v", err)
	}
}

func TestRefundTransaction_PartialLeavesOriginalCompleted(t *testing.T) {
	providerPaymentID := "pay_orig"
	repo := &ledgerRepoStub{
		config: tenantConfig(),
		foundTx: &domain.PaymentTransaction{
			ID:                uuid.New(),
			Status:            domain.StatusCompleted,
			Provider:          domain.ProviderAtlasPay,
			ProviderPaymentID: &providerPaymentID,
			GrossAmount:       10000,
			Currency:          "USD",
		},
	}
	refunder := &stubRefunder{outcome: &provider.RefundOutcome{
		ProviderRefundID: "ref_1",
		Status:           domain.StatusCompleted,
	}}
	ledger, _ := newLedger(repo, refunder)

	partial := int64(4000)
	result, err := ledger.RefundTransaction(context.Background(), uuid.New(), uuid.New(), &partial)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.OriginalTransaction.Status != domain.StatusCompleted {
		t.Fatalf("expected original to stay completed after a partial refund, got %s", result.OriginalTransaction.Status)
	}
	if len(repo.statusUpdates) != 1 || repo.statusUpdates[0].Status != domain.StatusCompleted {
		t.Fatal("expected only the refund transaction to change status")
	}
	partialEvent := false
	for _, ev := range repo.appendedEvents {
		if ev.EventType == domain.EventTypePartialRefund {
			partialEvent = true
			if ev.Metadata["refunded_amount"] != "4000" {
				t.Fatalf("expected refunded amount on the audit trail, got %q", ev.Metadata["refunded_amount"])
			}
		}
	}
	if !partialEvent {
		t.Fatal("expected a partial_refund event on the original's audit trail")
	}
}

func TestRefundTransaction_FinalRemainderClosesOriginal(t *testing.T) {
	providerPaymentID := "pay_orig"
	repo := &ledgerRepoStub{
		config:      tenantConfig(),
		refundedSum: 6000,
		foundTx: &domain.PaymentTransaction{
			ID:                uuid.New(),
			Status:            domain.StatusCompleted,
			Provider:          domain.ProviderAtlasPay,
			ProviderPaymentID: &providerPaymentID,
			GrossAmount:       10000,
			Currency:          "USD",
		},
	}
	refunder := &stubRefunder{outcome: &provider.RefundOutcome{
		ProviderRefundID: "ref_2",
		Status:           domain.StatusCompleted,
	}}
	ledger, _ := newLedger(repo, refunder)

	result, err := ledger.RefundTransaction(context.Background(), uuid.New(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if result.RefundTransaction.GrossAmount != 4000 {
		t.Fatalf("expected the default refund to cover the remainder, got %d", result.RefundTransaction.GrossAmount)
	}
	if result.OriginalTransaction.Status != domain.StatusRefunded {
		t.Fatalf("expected original to close once refunds cover the gross, got %s", result.OriginalTransaction.Status)
	}
	if len(repo.statusUpdates) != 2 || repo.statusUpdates[1].Status != domain.StatusRefunded {
		t.Fatal("expected the original's completed -> refunded transition")
	}
}

func TestRefundTransaction_RemainderBoundsPriorRefunds(t *testing.T) {
	providerPaymentID := "pay_orig"
	repo := &ledgerRepoStub{
		config:      tenantConfig(),
		refundedSum: 6000,
		foundTx: &domain.PaymentTransaction{
			ID:                uuid.New(),
			Status:            domain.StatusCompleted,
			Provider:          domain.ProviderAtlasPay,
			ProviderPaymentID: &providerPaymentID,
			GrossAmount:       10000,
			Currency:          "USD",
		},
	}
	refunder := &stubRefunder{outcome: &provider.RefundOutcome{Status: domain.StatusCompleted}}
	ledger, _ := newLedger(repo, refunder)

	overRemainder := int64(5000)
	_, err := ledger.RefundTransaction(context.Background(), uuid.New(), uuid.New(), &overRemainder)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error beyond the unrefunded remainder, got %v", err)
	}
	if refunder.calls != 0 {
		t.Fatalf("expected no provider call, got %d", refunder.calls)
	}
}
