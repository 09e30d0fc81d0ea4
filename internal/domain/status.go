package domain

// TransactionStatus is the lifecycle state of a PaymentTransaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusAuthorized TransactionStatus = "authorized"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusRefunded   TransactionStatus = "refunded"
	StatusVoided     TransactionStatus = "voided"
)

// Terminal reports whether no further money-affecting transition is permitted
// from s. Events may still append to a terminal transaction (e.g. a late
// provider notification).
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusVoided:
		return true
	}
	return false
}

// legalTransitions is the canonical state machine:
//
//	pending -> authorized -> completed
//	pending|authorized -> failed
//	completed -> refunded
//	pending|authorized -> voided
var legalTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusAuthorized, StatusCompleted, StatusFailed, StatusVoided},
	StatusAuthorized: {StatusCompleted, StatusFailed, StatusVoided},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition reports whether moving from -> to is a legal edge. A
// transition to the current state is never legal; callers treat replays as
// duplicates before consulting the machine.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
