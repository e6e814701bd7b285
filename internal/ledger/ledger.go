// Package ledger holds the pure costing and planning math of the stock
// ledger. Nothing here performs I/O; both store implementations and the
// service layer call into these functions so the formulas exist exactly once.
package ledger

import (
	"github.com/shopspring/decimal"
)

// AnomalyFactor is the threshold multiplier for price-anomaly detection: a
// purchase is flagged when its unit cost exceeds the prior average by more
// than 30%.
var AnomalyFactor = decimal.RequireFromString("1.30")

// UnitCost returns totalCost/qty at money precision. qty must be positive;
// callers validate before computing.
func UnitCost(totalCost, qty decimal.Decimal) decimal.Decimal {
	if qty.Sign() <= 0 {
		return decimal.Zero
	}
	return totalCost.DivRound(qty, 2)
}

// NextAverageCost folds one purchase into the running weighted average:
//
//	newAvg = (priorStock*priorAvg + totalCost) / (priorStock + qty)
//
// When the resulting total quantity is not positive the prior average is
// returned unchanged.
func NextAverageCost(priorStock, priorAvg, qty, totalCost decimal.Decimal) decimal.Decimal {
	newTotalQty := priorStock.Add(qty)
	if newTotalQty.Sign() <= 0 {
		return priorAvg
	}
	totalValue := priorStock.Mul(priorAvg).Add(totalCost)
	return totalValue.DivRound(newTotalQty, 2)
}

// IsAnomalous reports whether unitCost exceeds avgCost by more than the
// anomaly factor. Only evaluated against a positive prior average; the first
// purchase of an item can never be anomalous.
func IsAnomalous(unitCost, avgCost decimal.Decimal) bool {
	if avgCost.Sign() <= 0 {
		return false
	}
	return unitCost.GreaterThan(avgCost.Mul(AnomalyFactor))
}

// IsLowStock reports whether current stock has reached the reorder point.
func IsLowStock(current, reorderPoint decimal.Decimal) bool {
	return current.LessThanOrEqual(reorderPoint)
}

// Wastage is the difference between what a chef actually consumed and what
// the recipe predicts. Negative wastage means less than theoretical was used.
func Wastage(actual, theoretical decimal.Decimal) decimal.Decimal {
	return actual.Sub(theoretical)
}
