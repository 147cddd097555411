package enums

import "slices"

// LedgerEntryKind classifies a monetary movement.
type LedgerEntryKind string

const (
	LedgerKindDeposit            LedgerEntryKind = "deposit"
	LedgerKindPurchase           LedgerEntryKind = "purchase"
	LedgerKindRefund             LedgerEntryKind = "refund"
	LedgerKindReferralCommission LedgerEntryKind = "referral_commission"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerKindDeposit,
	LedgerKindPurchase,
	LedgerKindRefund,
	LedgerKindReferralCommission,
}

func (l LedgerEntryKind) String() string { return string(l) }

func (l LedgerEntryKind) IsValid() bool {
	return slices.Contains(validLedgerEntryKinds, l)
}

func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	return parse("ledger entry kind", validLedgerEntryKinds, value)
}

// Direction returns +1 for kinds that credit the balance on completion and -1 for debits.
func (l LedgerEntryKind) Direction() int {
	switch l {
	case LedgerKindPurchase:
		return -1
	case LedgerKindDeposit, LedgerKindRefund, LedgerKindReferralCommission:
		return 1
	default:
		return 0
	}
}
