package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusPending, StatusAuthorized, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusVoided, true},
		{StatusAuthorized, StatusCompleted, true},
		{StatusAuthorized, StatusFailed, true},
		{StatusAuthorized, StatusVoided, true},
		{StatusCompleted, StatusRefunded, true},

		{StatusCompleted, StatusAuthorized, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusVoided, false},
		{StatusFailed, StatusCompleted, false},
		{StatusFailed, StatusPending, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusVoided, StatusCompleted, false},
		{StatusAuthorized, StatusPending, false},
		{StatusPending, StatusPending, false},
		{StatusPending, StatusRefunded, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []TransactionStatus{StatusCompleted, StatusFailed, StatusRefunded, StatusVoided}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []TransactionStatus{StatusPending, StatusAuthorized} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
