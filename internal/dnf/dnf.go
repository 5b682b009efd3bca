// Package dnf implements the delta-neutrality fee: a fee (or rebate) charged
// on every change of a market's net notional, proportional to how far the
// change pushes the market away from zero net exposure.
//
// The marginal rate at net notional n is
//
//	rate(n) = clamp(n / sensitivity, −cap, +cap)
//
// and the fee for moving from n to n+Δ is the integral of rate over that
// interval. Rebates are paid out of the delta-neutrality fee fund and are
// throttled when the fund cannot cover a full rebalance.
//
// The engine holds no state: callers pass the current State and persist the
// returned one.
package dnf

import (
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
)

// FundEpsilon is the fee-to-balance magnitude below which the fund is
// considered fully able to pay.
var FundEpsilon = num.New(1, -6)

// Config holds the per-market fee constants.
type Config struct {
	Cap         num.Value `json:"delta_neutrality_fee_cap"`
	Sensitivity num.Value `json:"delta_neutrality_fee_sensitivity"`
	Tax         num.Value `json:"delta_neutrality_fee_tax"`
}

// NotionalCaps returns the net notional band [−cap·sensitivity, +cap·sensitivity]
// outside of which the marginal rate is pinned at the cap.
func (c Config) NotionalCaps() (low, high num.Value) {
	high = c.Cap.Mul(c.Sensitivity)
	return high.Neg(), high
}

// State is the market exposure ledger owned by the caller.
type State struct {
	NetNotional num.Value `json:"net_notional"`
	Fund        num.Value `json:"delta_neutrality_fee_fund"`
}

// Market is the pricing context of a fee computation. PriceUsd is the USD
// price of one unit of collateral.
type Market struct {
	Type      marketprice.MarketType
	PriceBase num.Value
	PriceUsd  num.Value
}

// Details is the result of a fee computation. Amount is in USD; positive
// amounts are charged to the trader, negative amounts are rebates paid from
// the fund.
type Details struct {
	Amount         num.Value `json:"amount"`
	NewFund        num.Value `json:"new_dnf_fund"`
	NewNetNotional num.Value `json:"new_net_notional"`
}

// FeeInNotional integrates the capped marginal rate over
// [netNotional, netNotional+delta].
func (c Config) FeeInNotional(netNotional, delta num.Value) num.Value {
	low, high := c.NotionalCaps()
	after := netNotional.Add(delta)

	atLow := num.Min(after, low).Sub(num.Min(netNotional, low))
	atHigh := num.Max(after, high).Sub(num.Max(netNotional, high))
	uncapped := delta.Sub(atLow).Sub(atHigh)

	feeLow := atLow.Mul(c.Cap.Neg())
	feeHigh := atHigh.Mul(c.Cap)
	feeUncapped := uncapped.Mul(uncapped).
		Add(num.Two.Mul(uncapped).Mul(num.Clamp(netNotional, low, high))).
		Div(c.Sensitivity.Mul(num.Two))

	return feeLow.Add(feeHigh).Add(feeUncapped)
}

// accumulator threads net notional and collected fees through the
// sequential steps of one computation.
type accumulator struct {
	netNotional num.Value
	fees        num.Value // collateral, positive = charged
}

// step applies one notional delta. fund is the fund balance before the
// computation started; fees collected by earlier steps are added to it.
func (c Config) step(m Market, fund num.Value, acc accumulator, delta num.Value) accumulator {
	g := m.Type.Geometry()
	fee := g.NotionalToCollateral(c.FeeInNotional(acc.netNotional, delta), m.PriceBase)

	if fee.IsNegative() {
		available := fund.Add(acc.fees)
		toBalance := g.NotionalToCollateral(
			c.FeeInNotional(acc.netNotional, acc.netNotional.Neg()).Abs(),
			m.PriceBase,
		)

		ratio := num.One
		if toBalance.Abs().GreaterThanOrEqual(FundEpsilon) {
			ratio = available.Div(toBalance)
		}
		fee = fee.Mul(num.Clamp(ratio, num.Zero, num.One))
	}

	return accumulator{
		netNotional: acc.netNotional.Add(delta),
		fees:        acc.fees.Add(fee),
	}
}

// Compute charges the delta-neutrality fee for a position whose notional
// changes from oldNotional to newNotional.
//
// When the change flips the sign of net notional it is applied in two steps,
// first to zero and then past it, so the rebate throttle is evaluated against
// the correct side of the market.
func (c Config) Compute(m Market, s State, oldNotional, newNotional num.Value) Details {
	delta := newNotional.Sub(oldNotional)
	acc := accumulator{netNotional: s.NetNotional}

	if s.NetNotional.Mul(s.NetNotional.Add(delta)).IsNegative() {
		acc = c.step(m, s.Fund, acc, s.NetNotional.Neg())
		acc = c.step(m, s.Fund, acc, delta.Add(s.NetNotional))
	} else {
		acc = c.step(m, s.Fund, acc, delta)
	}

	fund := s.Fund
	if acc.fees.IsPositive() {
		fund = fund.Add(acc.fees.Mul(num.One.Sub(c.Tax)))
	} else {
		fund = fund.Add(acc.fees)
	}

	return Details{
		Amount:         marketprice.CollateralToUsd(acc.fees, m.PriceUsd),
		NewFund:        fund,
		NewNetNotional: acc.netNotional,
	}
}

// Fee returns only the USD amount of Compute.
func (c Config) Fee(m Market, s State, oldNotional, newNotional num.Value) num.Value {
	return c.Compute(m, s, oldNotional, newNotional).Amount
}

// TaxResult is the fee paid on opening and the round-trip total.
type TaxResult struct {
	DnfOnOpen num.Value `json:"dnf_on_open"`
	Tax       num.Value `json:"tax"`
}

// RoundTripTax is the fee for opening a position plus the fee for immediately closing
// it against the state the opening left behind.
func (c Config) RoundTripTax(m Market, s State, oldNotional, newNotional num.Value) TaxResult {
	open := c.Compute(m, s, oldNotional, newNotional)
	closed := c.Compute(m, State{NetNotional: open.NewNetNotional, Fund: open.NewFund}, newNotional, oldNotional)
	return TaxResult{
		DnfOnOpen: open.Amount,
		Tax:       open.Amount.Add(closed.Amount),
	}
}

// PriceBaseImpacted is the base price after shifting the notional price by
// the effective fee rate of dnfUsd over the notional change.
func PriceBaseImpacted(m Market, dnfUsd, oldNotional, newNotional num.Value) num.Value {
	g := m.Type.Geometry()
	price := g.NotionalToCollateral(num.One, m.PriceBase)
	rate := marketprice.UsdToCollateral(dnfUsd, m.PriceUsd).Div(newNotional.Sub(oldNotional))
	return g.NotionalPriceToBase(price.Mul(num.One.Add(rate)))
}

// PriceBaseImpactedFromDeps computes the fee and then the impacted price.
func (c Config) PriceBaseImpactedFromDeps(m Market, s State, oldNotional, newNotional num.Value) num.Value {
	fee := c.Fee(m, s, oldNotional, newNotional)
	return PriceBaseImpacted(m, fee, oldNotional, newNotional)
}
