package nowpayments

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// FlexibleID accepts ids the provider sends either as JSON numbers or strings.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// String implements fmt.Stringer.
func (f FlexibleID) String() string {
	return string(f)
}

// PaymentStatus is the payment document returned by status polls and delivered in IPN callbacks.
type PaymentStatus struct {
	PaymentID       FlexibleID       `json:"payment_id"`
	InvoiceID       FlexibleID       `json:"invoice_id"`
	OrderID         string           `json:"order_id"`
	Status          string           `json:"payment_status"`
	PriceAmount     *decimal.Decimal `json:"price_amount"`
	PriceCurrency   string           `json:"price_currency"`
	PayAmount       *decimal.Decimal `json:"pay_amount"`
	ActuallyPaid    *decimal.Decimal `json:"actually_paid"`
	PayCurrency     string           `json:"pay_currency"`
	OutcomeAmount   *decimal.Decimal `json:"outcome_amount"`
	OutcomeCurrency string           `json:"outcome_currency"`
}

// ParsePaymentStatus decodes a callback body.
func ParsePaymentStatus(raw []byte) (*PaymentStatus, error) {
	var status PaymentStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Mapped translates the provider status into the internal taxonomy.
func (p PaymentStatus) Mapped() enums.LedgerEntryStatus {
	return enums.MapGatewayStatus(p.Status)
}

// ExternalIDs lists the provider identifiers that may match a stored gateway transaction id,
// most specific first.
func (p PaymentStatus) ExternalIDs() []string {
	ids := make([]string, 0, 2)
	for _, id := range []FlexibleID{p.PaymentID, p.InvoiceID} {
		if id != "" {
			ids = append(ids, id.String())
		}
	}
	return ids
}

// ReportedAmount is the amount the provider claims was priced, in the invoice's fiat currency.
func (p PaymentStatus) ReportedAmount() (decimal.Decimal, bool) {
	if p.PriceAmount == nil {
		return decimal.Zero, false
	}
	return *p.PriceAmount, true
}

// PaidAmount is what the payer sent in the pay currency, falling back to the quoted amount.
func (p PaymentStatus) PaidAmount() *decimal.Decimal {
	if p.ActuallyPaid != nil && p.ActuallyPaid.IsPositive() {
		return p.ActuallyPaid
	}
	return p.PayAmount
}
