/**
 * @description
 * Scheduled job implementations: charging due contracts and expiring
 * contracts whose stored card has lapsed.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

const defaultJobBatchSize = 200

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	contracts *ContractManager
	logger    *slog.Logger
	batchSize int
}

// NewJobs creates a new Jobs runner.
func NewJobs(contracts *ContractManager, logger *slog.Logger, batchSize int) *Jobs {
	if batchSize <= 0 {
		batchSize = defaultJobBatchSize
	}
	return &Jobs{
		contracts: contracts,
		logger:    logger,
		batchSize: batchSize,
	}
}

// ChargeDueContracts charges scheduled contracts whose next_charge_date has
// arrived.
func (j *Jobs) ChargeDueContracts() {
	j.logger.Info("starting due contract charge job")
	ctx := context.Background()

	charged, failed, err := j.contracts.ChargeDueContracts(ctx, time.Now().UTC(), j.batchSize)
	if err != nil {
		j.logger.Error("due contract charge job failed", "error", err)
		return
	}

	j.logger.Info("due contract charge job finished", "charged", charged, "failed", failed)
}

// ExpireStaleCardContracts marks contracts whose stored instrument expiry has
// passed so they stop being charged.
func (j *Jobs) ExpireStaleCardContracts() {
	j.logger.Info("starting stale card expiry job")
	ctx := context.Background()

	expired, err := j.contracts.ExpireContractsWithStaleCards(ctx, time.Now().UTC(), j.batchSize)
	if err != nil {
		j.logger.Error("stale card expiry job failed", "error", err)
		return
	}

	if expired == 0 {
		j.logger.Info("no contracts with expired cards to process")
		return
	}
	j.logger.Info("stale card expiry job finished", "expired", expired)
}
