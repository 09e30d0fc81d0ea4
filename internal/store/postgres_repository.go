/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Contains all SQL
 * for the payment transaction ledger, the append-only event trail, platform
 * commissions, tenant payment configuration, and recurring contracts.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vendora/payments-service/internal/domain"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrTenantConfigNotFound = errors.New("tenant payment config not found")
	// ErrStaleTransactionState means a conditional status update found the
	// row in a different state than expected. Another instance won the race
	// or the transition was illegal to begin with.
	ErrStaleTransactionState = errors.New("transaction state changed concurrently")
)

const uniqueViolationCode = "23505"

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `
	id, tenant_id, order_id, idempotency_key, provider, provider_payment_id,
	payment_type, original_transaction_id, contract_id, gross_amount, currency,
	commission_rate, commission_amount, net_amount, status, failure_code,
	failure_reason, redirect_url, completed_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var tx domain.PaymentTransaction
	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.OrderID, &tx.IdempotencyKey, &tx.Provider,
		&tx.ProviderPaymentID, &tx.PaymentType, &tx.OriginalTransactionID,
		&tx.ContractID, &tx.GrossAmount, &tx.Currency, &tx.CommissionRate,
		&tx.CommissionAmount, &tx.NetAmount, &tx.Status, &tx.FailureCode,
		&tx.FailureReason, &tx.RedirectURL, &tx.CompletedAt, &tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTenantPaymentConfig loads a tenant's commission policy and enabled
// providers. This service only ever reads the row.
func (r *PostgresRepository) GetTenantPaymentConfig(ctx context.Context, tenantID uuid.UUID) (*domain.TenantPaymentConfig, error) {
	var cfg domain.TenantPaymentConfig
	var providers []string
	query := `
		SELECT tenant_id, commission_rate, base_currency, enabled_providers
		FROM tenant_payment_configs
		WHERE tenant_id = $1`
	err := r.db.QueryRow(ctx, query, tenantID).Scan(&cfg.TenantID, &cfg.CommissionRate, &cfg.BaseCurrency, &providers)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTenantConfigNotFound
		}
		return nil, err
	}
	cfg.EnabledProviders = make([]domain.Provider, 0, len(providers))
	for _, p := range providers {
		cfg.EnabledProviders = append(cfg.EnabledProviders, domain.Provider(p))
	}
	return &cfg, nil
}

// CreateTransaction inserts the transaction and its initial event in one
// database transaction. The unique index on (tenant_id, idempotency_key)
// makes the check-and-create atomic across service instances: when the insert
// conflicts, the prior row is returned unchanged and no event is appended.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction, initialEvent *domain.PaymentEvent) (*domain.PaymentTransaction, bool, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin create transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	insert := `
		INSERT INTO payment_transactions (
			id, tenant_id, order_id, idempotency_key, provider, provider_payment_id,
			payment_type, original_transaction_id, contract_id, gross_amount, currency,
			commission_rate, commission_amount, net_amount, status, failure_code,
			failure_reason, redirect_url, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW()
		)
		ON CONFLICT (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`
	tag, err := dbTx.Exec(ctx, insert,
		tx.ID, tx.TenantID, tx.OrderID, tx.IdempotencyKey, tx.Provider, tx.ProviderPaymentID,
		tx.PaymentType, tx.OriginalTransactionID, tx.ContractID, tx.GrossAmount, tx.Currency,
		tx.CommissionRate, tx.CommissionAmount, tx.NetAmount, tx.Status, tx.FailureCode,
		tx.FailureReason, tx.RedirectURL, tx.CompletedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert transaction: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Idempotency hit: return the prior transaction unchanged.
		prior, err := scanTransaction(dbTx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM payment_transactions WHERE tenant_id = $1 AND idempotency_key = $2`,
			tx.TenantID, tx.IdempotencyKey,
		))
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, false, ErrTransactionNotFound
			}
			return nil, false, fmt.Errorf("load prior transaction: %w", err)
		}
		if err := dbTx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit idempotent read: %w", err)
		}
		return prior, false, nil
	}

	if initialEvent != nil {
		if err := insertEvent(ctx, dbTx, initialEvent); err != nil {
			return nil, false, fmt.Errorf("insert initial event: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit create transaction: %w", err)
	}
	return tx, true, nil
}

// FindTransactionByID retrieves a transaction scoped to a tenant.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.PaymentTransaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE tenant_id = $1 AND id = $2`,
		tenantID, transactionID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionByProviderPaymentID resolves a webhook's target transaction.
func (r *PostgresRepository) FindTransactionByProviderPaymentID(ctx context.Context, provider domain.Provider, providerPaymentID string) (*domain.PaymentTransaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE provider = $1 AND provider_payment_id = $2`,
		provider, providerPaymentID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// UpdateTransactionStatus performs a conditional state move. The WHERE clause
// on the expected current status is what serializes concurrent instances
// through the store; zero rows affected means the caller lost the race or the
// transition was stale.
func (r *PostgresRepository) UpdateTransactionStatus(ctx context.Context, transactionID uuid.UUID, expectedFrom domain.TransactionStatus, params UpdateTransactionStatusParams) error {
	query := `
		UPDATE payment_transactions
		SET status = $1,
			provider_payment_id = COALESCE($2, provider_payment_id),
			failure_code = COALESCE($3, failure_code),
			failure_reason = COALESCE($4, failure_reason),
			completed_at = COALESCE($5, completed_at),
			updated_at = NOW()
		WHERE id = $6 AND status = $7`
	tag, err := r.db.Exec(ctx, query,
		params.Status, params.ProviderPaymentID, params.FailureCode,
		params.FailureReason, params.CompletedAt, transactionID, expectedFrom,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleTransactionState
	}
	return nil
}

// SumRefundedAmount totals refunds already issued, or still in flight, against
// an original transaction.
func (r *PostgresRepository) SumRefundedAmount(ctx context.Context, tenantID, originalTransactionID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(gross_amount), 0)
		FROM payment_transactions
		WHERE tenant_id = $1 AND original_transaction_id = $2
			AND payment_type = $3 AND status IN ($4, $5)`,
		tenantID, originalTransactionID,
		domain.PaymentTypeRefund, domain.StatusPending, domain.StatusCompleted,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func insertEvent(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, event *domain.PaymentEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO payment_events (transaction_id, event_type, status, provider, provider_event_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		event.TransactionID, event.EventType, event.Status, event.Provider, event.ProviderEventID, metadata,
	)
	return err
}

// AppendEvent appends one audit event. There is deliberately no update or
// delete counterpart: the trail is append-only.
func (r *PostgresRepository) AppendEvent(ctx context.Context, event *domain.PaymentEvent) error {
	return insertEvent(ctx, r.db, event)
}

// RecordProviderEvent appends an event that carries a provider_event_id. The
// unique index on (provider, provider_event_id) makes webhook dedup atomic:
// inserted=false means the event was already processed.
func (r *PostgresRepository) RecordProviderEvent(ctx context.Context, event *domain.PaymentEvent) (bool, error) {
	if event.ProviderEventID == nil || *event.ProviderEventID == "" {
		return false, errors.New("provider event id required")
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal event metadata: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO payment_events (transaction_id, event_type, status, provider, provider_event_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (provider, provider_event_id) WHERE provider_event_id IS NOT NULL DO NOTHING`,
		event.TransactionID, event.EventType, event.Status, event.Provider, event.ProviderEventID, metadata,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasProviderEvent reports whether a provider event was already recorded.
func (r *PostgresRepository) HasProviderEvent(ctx context.Context, provider domain.Provider, providerEventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_events WHERE provider = $1 AND provider_event_id = $2)`,
		provider, providerEventID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListEvents returns a transaction's audit trail in arrival order.
func (r *PostgresRepository) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]domain.PaymentEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT seq, transaction_id, event_type, status, provider, provider_event_id, metadata, created_at
		FROM payment_events
		WHERE transaction_id = $1
		ORDER BY seq ASC`,
		transactionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		var ev domain.PaymentEvent
		var metadata []byte
		if err := rows.Scan(&ev.Seq, &ev.TransactionID, &ev.EventType, &ev.Status, &ev.Provider, &ev.ProviderEventID, &metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordPlatformCommission inserts the payout-accounting record for a
// completed transaction. The unique transaction_id constraint keeps the
// record 1:1 even when completion is observed twice (immediate result plus a
// late webhook).
func (r *PostgresRepository) RecordPlatformCommission(ctx context.Context, commission *domain.PlatformCommission) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO platform_commissions (id, tenant_id, transaction_id, commission_amount, commission_rate, currency, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (transaction_id) DO NOTHING`,
		commission.ID, commission.TenantID, commission.TransactionID,
		commission.CommissionAmount, commission.CommissionRate, commission.Currency,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetCommissionSummary aggregates recorded commissions for a tenant.
func (r *PostgresRepository) GetCommissionSummary(ctx context.Context, tenantID uuid.UUID) (*domain.CommissionSummary, error) {
	summary := &domain.CommissionSummary{TenantID: tenantID}
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(commission_amount), 0), COUNT(*)
		FROM platform_commissions
		WHERE tenant_id = $1`,
		tenantID,
	).Scan(&summary.TotalCollected, &summary.TransactionCount)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ListCommissionEntries returns a tenant's commission records in a window,
// oldest first, for billing export.
func (r *PostgresRepository) ListCommissionEntries(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.PlatformCommission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, transaction_id, commission_amount, commission_rate, currency, recorded_at
		FROM platform_commissions
		WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at ASC`,
		tenantID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.PlatformCommission
	for rows.Next() {
		var entry domain.PlatformCommission
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.TransactionID, &entry.CommissionAmount, &entry.CommissionRate, &entry.Currency, &entry.RecordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const contractColumns = `
	id, tenant_id, customer_id, provider, provider_contract_id, contract_type,
	status, token_id, card_last4, card_brand, card_exp_month, card_exp_year,
	frequency_days, charge_amount, currency, max_amount, next_charge_date,
	created_at, updated_at`

func scanContract(row pgx.Row) (*domain.RecurringContract, error) {
	var c domain.RecurringContract
	err := row.Scan(
		&c.ID, &c.TenantID, &c.CustomerID, &c.Provider, &c.ProviderContractID,
		&c.ContractType, &c.Status, &c.TokenID, &c.CardLast4, &c.CardBrand,
		&c.CardExpMonth, &c.CardExpYear, &c.FrequencyDays, &c.ChargeAmount,
		&c.Currency, &c.MaxAmount, &c.NextChargeDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContract inserts a new recurring contract.
func (r *PostgresRepository) CreateContract(ctx context.Context, contract *domain.RecurringContract) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO recurring_contracts (
			id, tenant_id, customer_id, provider, provider_contract_id, contract_type,
			status, token_id, card_last4, card_brand, card_exp_month, card_exp_year,
			frequency_days, charge_amount, currency, max_amount, next_charge_date,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())`,
		contract.ID, contract.TenantID, contract.CustomerID, contract.Provider,
		contract.ProviderContractID, contract.ContractType, contract.Status,
		contract.TokenID, contract.CardLast4, contract.CardBrand,
		contract.CardExpMonth, contract.CardExpYear, contract.FrequencyDays,
		contract.ChargeAmount, contract.Currency, contract.MaxAmount, contract.NextChargeDate,
	)
	return err
}

// FindContractByID retrieves a contract scoped to a tenant.
func (r *PostgresRepository) FindContractByID(ctx context.Context, tenantID, contractID uuid.UUID) (*domain.RecurringContract, error) {
	c, err := scanContract(r.db.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM recurring_contracts WHERE tenant_id = $1 AND id = $2`,
		tenantID, contractID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrContractNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateContractStatus conditionally moves a contract to a new status. The
// from list restricts which current states the move is legal from; zero rows
// affected with the contract present means it was already in (or past) the
// target state.
func (r *PostgresRepository) UpdateContractStatus(ctx context.Context, tenantID, contractID uuid.UUID, from []domain.ContractStatus, to domain.ContractStatus) (bool, error) {
	fromStates := make([]string, 0, len(from))
	for _, s := range from {
		fromStates = append(fromStates, string(s))
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_contracts
		SET status = $1, updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3 AND status = ANY($4)`,
		to, tenantID, contractID, fromStates,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Distinguish "no such contract" from an idempotent no-op.
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM recurring_contracts WHERE tenant_id = $1 AND id = $2)`,
		tenantID, contractID,
	).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrContractNotFound
	}
	return false, nil
}

// AdvanceNextChargeDate moves a scheduled contract's next due date forward.
func (r *PostgresRepository) AdvanceNextChargeDate(ctx context.Context, contractID uuid.UUID, next time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_contracts
		SET next_charge_date = $1, updated_at = NOW()
		WHERE id = $2`,
		next, contractID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrContractNotFound
	}
	return nil
}

// FindDueScheduledContracts returns active scheduled contracts whose
// next_charge_date has arrived, oldest due first.
func (r *PostgresRepository) FindDueScheduledContracts(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+contractColumns+`
		FROM recurring_contracts
		WHERE contract_type = $1 AND status = $2 AND next_charge_date IS NOT NULL AND next_charge_date <= $3
		ORDER BY next_charge_date ASC
		LIMIT $4`,
		domain.ContractTypeScheduled, domain.ContractStatusActive, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContracts(rows)
}

// FindContractsWithExpiredCards returns non-terminal contracts whose stored
// instrument expiry has passed.
func (r *PostgresRepository) FindContractsWithExpiredCards(ctx context.Context, now time.Time, limit int) ([]domain.RecurringContract, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+contractColumns+`
		FROM recurring_contracts
		WHERE status IN ($1, $2)
		  AND card_exp_year > 0
		  AND make_date(card_exp_year, card_exp_month, 1) + INTERVAL '1 month' <= $3
		ORDER BY card_exp_year ASC, card_exp_month ASC
		LIMIT $4`,
		domain.ContractStatusActive, domain.ContractStatusPaused, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectContracts(rows)
}

func collectContracts(rows pgx.Rows) ([]domain.RecurringContract, error) {
	var contracts []domain.RecurringContract
	for rows.Next() {
		var c domain.RecurringContract
		err := rows.Scan(
			&c.ID, &c.TenantID, &c.CustomerID, &c.Provider, &c.ProviderContractID,
			&c.ContractType, &c.Status, &c.TokenID, &c.CardLast4, &c.CardBrand,
			&c.CardExpMonth, &c.CardExpYear, &c.FrequencyDays, &c.ChargeAmount,
			&c.Currency, &c.MaxAmount, &c.NextChargeDate, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
