// Package costbasis implements the average-cost-basis arithmetic for the
// portfolio ledger.
//
// The engine uses a single blended average cost per symbol, with no tax
// lots and no FIFO/LIFO. A buy blends the new shares into the running
// average; a partial sell removes cost at the pre-sell per-unit rate,
// which leaves the remaining average cost unchanged.
//
// All monetary values use shopspring/decimal, never float64.
// Functions here are pure and stateless; callers own validation of
// quantities against live positions.
package costbasis

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrZeroQuantity is returned when a per-unit cost is requested for a
// zero-quantity holding. This is a caller-contract violation (the trade
// executor guarantees sells never exceed held quantity), not a
// user-recoverable condition.
var ErrZeroQuantity = errors.New("costbasis: per-unit cost undefined for zero quantity")

var hundred = decimal.NewFromInt(100)

// NextAvgCostOnBuy returns the blended average cost after buying addQty
// shares at addPrice on top of curQty shares held at curAvgCost. With no
// existing shares the result is simply addPrice. Never fails.
func NextAvgCostOnBuy(curQty, curAvgCost, addQty, addPrice decimal.Decimal) decimal.Decimal {
	if curQty.IsZero() {
		return addPrice
	}
	totalCost := curQty.Mul(curAvgCost).Add(addQty.Mul(addPrice))
	return totalCost.Div(curQty.Add(addQty))
}

// RemainingCostAfterSell returns the total cost basis left after selling
// sellQty shares out of curQty held at an aggregate cost of curTotalCost.
// Cost is removed at the pre-sell per-unit rate, so the remaining average
// cost is unchanged by the sell.
//
// The caller must guarantee sellQty <= curQty; curQty == 0 returns
// ErrZeroQuantity.
func RemainingCostAfterSell(curQty, curTotalCost, sellQty decimal.Decimal) (decimal.Decimal, error) {
	if curQty.IsZero() {
		return decimal.Zero, ErrZeroQuantity
	}
	perUnit := curTotalCost.Div(curQty)
	return curTotalCost.Sub(perUnit.Mul(sellQty)), nil
}

// SharesFromAmount returns how many shares a cash amount buys at the given
// per-share price. Fractional shares are allowed.
func SharesFromAmount(amount, pricePerShare decimal.Decimal) decimal.Decimal {
	return amount.Div(pricePerShare)
}

// TotalCost returns quantity × pricePerShare.
func TotalCost(quantity, pricePerShare decimal.Decimal) decimal.Decimal {
	return quantity.Mul(pricePerShare)
}

// MarketValue returns the mark-to-market value of a holding.
func MarketValue(quantity, currentPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(currentPrice)
}

// UnrealizedPL returns (currentPrice - avgCostBasis) × quantity.
func UnrealizedPL(quantity, avgCostBasis, currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Sub(avgCostBasis).Mul(quantity)
}

// UnrealizedPLPercent returns the unrealized gain as a percentage of the
// average cost basis. Zero cost basis yields zero rather than dividing.
func UnrealizedPLPercent(avgCostBasis, currentPrice decimal.Decimal) decimal.Decimal {
	if avgCostBasis.IsZero() {
		return decimal.Zero
	}
	return currentPrice.Sub(avgCostBasis).Div(avgCostBasis).Mul(hundred)
}
