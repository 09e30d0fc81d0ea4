package domain

import (
	"testing"
	"time"
)

func TestCardExpired(t *testing.T) {
	contract := &RecurringContract{CardExpMonth: 6, CardExpYear: 2026}

	// Valid through the last instant of the expiry month.
	if contract.CardExpired(time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)) {
		t.Fatal("expected card valid through end of expiry month")
	}
	if !contract.CardExpired(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected card expired after expiry month")
	}

	// Missing expiry data never expires.
	blank := &RecurringContract{}
	if blank.CardExpired(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected missing expiry to never expire")
	}
}
