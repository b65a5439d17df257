package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places carried by every amount.
const MoneyPlaces = 2

// RoundMoney rounds d half away from zero to cents. Amounts are never
// negative so this is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MaxUnitPrice is the highest unit price a line item may carry.
var MaxUnitPrice = decimal.NewFromInt(100_000)
