package enums

import "slices"

// LedgerEntryStatus is the internal payment status taxonomy shared by ledger entries and mapped gateway events.
type LedgerEntryStatus string

const (
	LedgerStatusPending    LedgerEntryStatus = "pending"
	LedgerStatusProcessing LedgerEntryStatus = "processing"
	LedgerStatusCompleted  LedgerEntryStatus = "completed"
	LedgerStatusFailed     LedgerEntryStatus = "failed"
	LedgerStatusCancelled  LedgerEntryStatus = "cancelled"
	LedgerStatusExpired    LedgerEntryStatus = "expired"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerStatusPending,
	LedgerStatusProcessing,
	LedgerStatusCompleted,
	LedgerStatusFailed,
	LedgerStatusCancelled,
	LedgerStatusExpired,
}

func (l LedgerEntryStatus) String() string { return string(l) }

func (l LedgerEntryStatus) IsValid() bool {
	return slices.Contains(validLedgerEntryStatuses, l)
}

func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	return parse("ledger entry status", validLedgerEntryStatuses, value)
}

// Rank orders statuses so transitions only move forward. Failed, cancelled and expired share a
// rank: an entry closed as failed can still be completed by a late payment, but not re-opened.
func (l LedgerEntryStatus) Rank() int {
	switch l {
	case LedgerStatusPending:
		return 0
	case LedgerStatusProcessing:
		return 1
	case LedgerStatusFailed, LedgerStatusCancelled, LedgerStatusExpired:
		return 2
	case LedgerStatusCompleted:
		return 3
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from l to next is a forward move.
func (l LedgerEntryStatus) CanTransitionTo(next LedgerEntryStatus) bool {
	if !next.IsValid() {
		return false
	}
	return next.Rank() > l.Rank()
}
