package model

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatEUR renders a decimal amount as a EUR display string with two
// fraction digits, e.g. "€9,600.00". Display only; arithmetic stays in
// decimal.
func FormatEUR(amount decimal.Decimal) string {
	cents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return money.New(cents, money.EUR).Display()
}
