package enums

import "slices"

// Currency represents the fiat denominations products are priced in.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

var validCurrencies = []Currency{
	CurrencyUSD,
	CurrencyEUR,
	CurrencyGBP,
}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool {
	return slices.Contains(validCurrencies, c)
}

func ParseCurrency(value string) (Currency, error) {
	return parse("currency", validCurrencies, value)
}
