// Package fees computes the trading and borrow fees of a position change and
// the crank fee of deferred execution.
package fees

import (
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
)

// hoursPerYear converts an annualized borrow rate to an hourly one.
var hoursPerYear = num.FromInt(365 * 24)

// Rates are the per-market fee rates.
type Rates struct {
	TradingFeeNotionalRate       num.Value `json:"trading_fee_notional_size"`
	CounterSideCollateralFeeRate num.Value `json:"trading_fee_counter_collateral"`
	// BorrowFee is annualized.
	BorrowFee num.Value `json:"borrow_fee"`
}

// Change is a position moving from its old to its new notional and
// counter-collateral. Zero-valued old fields describe an opening.
type Change struct {
	OldNotional             num.Value
	NewNotional             num.Value
	OldCounterCollateral    num.Value
	NewCounterCollateral    num.Value
	NewMinCounterCollateral num.Value
}

// Result holds both fees in USD.
type Result struct {
	TradingFee num.Value `json:"trading_fee"`
	// BorrowFee is charged hourly on the locked counter-collateral.
	BorrowFee num.Value `json:"borrow_fee"`
}

// Compute charges the trading fee on growth of notional and of
// counter-collateral, and the hourly borrow fee on the larger of
// counter-collateral and its floor.
func Compute(mt marketprice.MarketType, r Rates, c Change, priceBase, priceUsd num.Value) Result {
	oldColl := marketprice.NotionalToCollateral(mt, c.OldNotional.Abs(), priceBase)
	newColl := marketprice.NotionalToCollateral(mt, c.NewNotional.Abs(), priceBase)

	trading := num.Zero
	if newColl.GreaterThan(oldColl) {
		trading = newColl.Sub(oldColl).Mul(r.TradingFeeNotionalRate)
	}
	if c.NewCounterCollateral.GreaterThan(c.OldCounterCollateral) {
		trading = trading.Add(c.NewCounterCollateral.Sub(c.OldCounterCollateral).Mul(r.CounterSideCollateralFeeRate))
	}

	borrow := num.Max(c.NewCounterCollateral, c.NewMinCounterCollateral).
		Mul(r.BorrowFee).
		Div(hoursPerYear)

	return Result{
		TradingFee: marketprice.CollateralToUsd(trading, priceUsd),
		BorrowFee:  marketprice.CollateralToUsd(borrow, priceUsd),
	}
}

var ten = num.FromInt(10)

// DeferredExecutionCrankFee is the crank fee for a queue of items: one
// surcharge per ten items, rounded half up, on top of the fee already charged.
func DeferredExecutionCrankFee(items int64, surcharge, charged num.Value) num.Value {
	batches := num.FromInt(items + 5).Div(ten).Floor()
	return batches.Mul(surcharge).Add(charged)
}
