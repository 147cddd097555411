package enums

import (
	"slices"
	"strings"
)

// GatewayPaymentStatus is the payment provider's status vocabulary as reported in callbacks and polls.
type GatewayPaymentStatus string

const (
	GatewayStatusWaiting       GatewayPaymentStatus = "waiting"
	GatewayStatusConfirming    GatewayPaymentStatus = "confirming"
	GatewayStatusConfirmed     GatewayPaymentStatus = "confirmed"
	GatewayStatusSending       GatewayPaymentStatus = "sending"
	GatewayStatusPartiallyPaid GatewayPaymentStatus = "partially_paid"
	GatewayStatusFinished      GatewayPaymentStatus = "finished"
	GatewayStatusCompleted     GatewayPaymentStatus = "completed"
	GatewayStatusFailed        GatewayPaymentStatus = "failed"
	GatewayStatusRefunded      GatewayPaymentStatus = "refunded"
	GatewayStatusExpired       GatewayPaymentStatus = "expired"
)

var validGatewayPaymentStatuses = []GatewayPaymentStatus{
	GatewayStatusWaiting,
	GatewayStatusConfirming,
	GatewayStatusConfirmed,
	GatewayStatusSending,
	GatewayStatusPartiallyPaid,
	GatewayStatusFinished,
	GatewayStatusCompleted,
	GatewayStatusFailed,
	GatewayStatusRefunded,
	GatewayStatusExpired,
}

func (g GatewayPaymentStatus) String() string { return string(g) }

func (g GatewayPaymentStatus) IsValid() bool {
	return slices.Contains(validGatewayPaymentStatuses, g)
}

func ParseGatewayPaymentStatus(value string) (GatewayPaymentStatus, error) {
	return parse("gateway payment status", validGatewayPaymentStatuses, value)
}

// Mapped translates a provider status into the internal taxonomy. Unknown values map to
// pending so that ambiguous input never credits a balance.
func (g GatewayPaymentStatus) Mapped() LedgerEntryStatus {
	switch g {
	case GatewayStatusWaiting:
		return LedgerStatusPending
	case GatewayStatusConfirming, GatewayStatusSending, GatewayStatusPartiallyPaid:
		return LedgerStatusProcessing
	case GatewayStatusConfirmed, GatewayStatusFinished, GatewayStatusCompleted:
		return LedgerStatusCompleted
	case GatewayStatusFailed:
		return LedgerStatusFailed
	case GatewayStatusRefunded:
		return LedgerStatusCancelled
	case GatewayStatusExpired:
		return LedgerStatusExpired
	default:
		return LedgerStatusPending
	}
}

// MapGatewayStatus normalizes raw provider input before mapping it.
func MapGatewayStatus(raw string) LedgerEntryStatus {
	return GatewayPaymentStatus(strings.ToLower(strings.TrimSpace(raw))).Mapped()
}
