/**
 * @description
 * Pure commission math. Computes the gross/commission/net breakdown for a
 * charge from an amount and a snapshotted rate. No I/O and no mutable global
 * state, so the same function serves live charge computation and historical
 * report recomputation.
 *
 * @notes
 * - Amounts are int64 minor units. Rounding the minor-unit product half away
 *   from zero is equivalent to rounding the major-unit value to two decimal
 *   places, and net = gross - commission keeps gross == commission + net
 *   exact.
 */

package commission

import "math"

// Breakdown is the result of splitting a gross amount at a commission rate.
type Breakdown struct {
	GrossAmount      int64   `json:"gross_amount"`
	CommissionRate   float64 `json:"commission_rate"`
	CommissionAmount int64   `json:"commission_amount"`
	NetAmount        int64   `json:"net_amount"`
	Currency         string  `json:"currency"`
}

// Calculate splits gross (minor units) at rate. Callers validate inputs
// (gross >= 0, rate in [0,1]) before this runs; Calculate itself has no error
// conditions.
func Calculate(gross int64, rate float64, currency string) Breakdown {
	commission := int64(math.Round(float64(gross) * rate))
	return Breakdown{
		GrossAmount:      gross,
		CommissionRate:   rate,
		CommissionAmount: commission,
		NetAmount:        gross - commission,
		Currency:         currency,
	}
}
