package enums

import "slices"

// PaymentMethod records how an order is settled.
type PaymentMethod string

const (
	PaymentMethodBalance PaymentMethod = "balance"
	PaymentMethodCrypto  PaymentMethod = "crypto"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodBalance,
	PaymentMethodCrypto,
}

func (p PaymentMethod) String() string { return string(p) }

func (p PaymentMethod) IsValid() bool {
	return slices.Contains(validPaymentMethods, p)
}

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse("payment method", validPaymentMethods, value)
}
