/**
 * @description
 * Domain models for recurring charge contracts: a stored authorization/token
 * permitting future charges without the customer re-entering payment details.
 *
 * @notes
 * - Only a masked reference to the vaulted instrument is kept (token id, last
 *   four, brand, expiry). Raw card data never enters this service.
 * - Contracts are never hard-deleted; cancelled and expired rows are retained
 *   for audit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContractType distinguishes who decides the charge cadence.
type ContractType string

const (
	// ContractTypeScheduled means the platform decides cadence via
	// frequency_days / next_charge_date.
	ContractTypeScheduled ContractType = "scheduled"
	// ContractTypeUnscheduled means the merchant initiates charges on demand
	// (pay-as-you-go), bounded by max_amount when set.
	ContractTypeUnscheduled ContractType = "unscheduled"
)

// ContractStatus is the lifecycle state of a RecurringContract.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusPaused    ContractStatus = "paused"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusExpired   ContractStatus = "expired"
)

// Terminal reports whether the contract can never charge again.
func (s ContractStatus) Terminal() bool {
	return s == ContractStatusCancelled || s == ContractStatusExpired
}

// RecurringContract is a saved permission to charge a customer again.
type RecurringContract struct {
	ID                 uuid.UUID      `json:"id"`
	TenantID           uuid.UUID      `json:"tenant_id"`
	CustomerID         uuid.UUID      `json:"customer_id"`
	Provider           Provider       `json:"provider"`
	ProviderContractID string         `json:"provider_contract_id"`
	ContractType       ContractType   `json:"contract_type"`
	Status             ContractStatus `json:"status"`

	// Masked instrument reference only.
	TokenID      string `json:"token_id"`
	CardLast4    string `json:"card_last4"`
	CardBrand    string `json:"card_brand"`
	CardExpMonth int    `json:"card_exp_month"`
	CardExpYear  int    `json:"card_exp_year"`

	// Schedule fields; meaningful only for scheduled contracts. ChargeAmount
	// is what each scheduled cycle charges.
	FrequencyDays  int        `json:"frequency_days,omitempty"`
	ChargeAmount   int64      `json:"charge_amount,omitempty"` // minor units
	Currency       string     `json:"currency,omitempty"`
	MaxAmount      *int64     `json:"max_amount,omitempty"` // minor units
	NextChargeDate *time.Time `json:"next_charge_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CardExpired reports whether the stored instrument's expiry has passed as of
// now. The expiry is valid through the last day of its month.
func (c *RecurringContract) CardExpired(now time.Time) bool {
	if c.CardExpYear == 0 || c.CardExpMonth == 0 {
		return false
	}
	endOfMonth := time.Date(c.CardExpYear, time.Month(c.CardExpMonth), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, 1, 0)
	return !now.Before(endOfMonth)
}

// ContractParams is the input to contract establishment. The token comes from
// the successful initial authorization that vaulted the instrument.
type ContractParams struct {
	CustomerID         uuid.UUID    `json:"customer_id"`
	Provider           Provider     `json:"provider"`
	ProviderContractID string       `json:"provider_contract_id"`
	ContractType       ContractType `json:"contract_type"`
	TokenID            string       `json:"token_id"`
	CardLast4          string       `json:"card_last4"`
	CardBrand          string       `json:"card_brand"`
	CardExpMonth       int          `json:"card_exp_month"`
	CardExpYear        int          `json:"card_exp_year"`
	FrequencyDays      int          `json:"frequency_days,omitempty"`
	ChargeAmount       int64        `json:"charge_amount,omitempty"`
	Currency           string       `json:"currency,omitempty"`
	MaxAmount          *int64       `json:"max_amount,omitempty"`
	FirstChargeDate    *time.Time   `json:"first_charge_date,omitempty"`
}

// RecurringChargeParams is the input to a charge against an existing contract.
type RecurringChargeParams struct {
	GrossAmount int64      `json:"gross_amount"` // minor units
	Currency    string     `json:"currency"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	Description string     `json:"description"`
}

// ContractResult is returned after contract establishment.
type ContractResult struct {
	Contract *RecurringContract `json:"contract"`
}
