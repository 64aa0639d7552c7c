// Package moneymath is the single helper through which all cost-basis and
// P&L arithmetic flows (spec Design Note: "manual money arithmetic in
// floating point → all cost-basis and P&L operations go through a single
// helper that documents its rounding"). It is grounded on
// github.com/shopspring/decimal, the arbitrary-precision decimal library
// used pack-wide for money math (web3guy0-polybot/risk-gate.go uses
// decimal.Decimal throughout its RiskGate for the same reason: float64
// arithmetic silently drifts across thousands of ticks).
//
// Quantities round half-even to 1e-9; USD values round half-even to 1e-6.
package moneymath

import "github.com/shopspring/decimal"

const (
	qtyScale = 9
	usdScale = 6
)

// Qty rounds a token quantity half-even to 1e-9.
func Qty(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(qtyScale)
}

// USD rounds a dollar value half-even to 1e-6.
func USD(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(usdScale)
}

// QtyFromFloat converts a float64 quantity into a rounded Decimal.
func QtyFromFloat(f float64) decimal.Decimal {
	return Qty(decimal.NewFromFloat(f))
}

// USDFromFloat converts a float64 dollar amount into a rounded Decimal.
func USDFromFloat(f float64) decimal.Decimal {
	return USD(decimal.NewFromFloat(f))
}

// AvgCost computes the volume-weighted mean unit cost over a set of
// (quantity, unitCost) pairs, as used when upserting PositionTracking on a
// subsequent buy (spec §4.B record_buy).
func AvgCost(pairs [][2]decimal.Decimal) decimal.Decimal {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, p := range pairs {
		qty, unitCost := p[0], p[1]
		totalQty = totalQty.Add(qty)
		totalCost = totalCost.Add(qty.Mul(unitCost))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return USD(totalCost.Div(totalQty))
}

// Clamp truncates v to the inclusive range [min, max].
func Clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
