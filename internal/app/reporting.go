package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vendora/payments-service/internal/domain"
)

// GetCommissionSummary aggregates commission collected for a tenant over the
// append-only platform_commissions records.
func (s *Service) GetCommissionSummary(ctx context.Context, tenantID uuid.UUID) (*domain.CommissionSummary, error) {
	return s.repo.GetCommissionSummary(ctx, tenantID)
}

// GetCommissionRate returns the tenant's currently configured rate. Reporting
// only; transactions always use the rate snapshotted at their creation.
func (s *Service) GetCommissionRate(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	cfg, err := s.repo.GetTenantPaymentConfig(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return cfg.CommissionRate, nil
}

// ListCommissionEntries returns the individual commission records for a
// tenant inside [from, to), newest first.
func (s *Service) ListCommissionEntries(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.PlatformCommission, error) {
	if !to.After(from) {
		return nil, domain.NewValidationError("range", "to must be after from")
	}
	return s.repo.ListCommissionEntries(ctx, tenantID, from, to)
}
