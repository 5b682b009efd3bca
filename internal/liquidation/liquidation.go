// Package liquidation solves for the price at which a position's collateral
// is consumed by losses, fees already paid, and worst-case margins for fees
// that may accrue before the position is next rebalanced.
//
// The solve is closed form: every margin is an upper bound computed at the
// worst-case price, so no iteration is needed.
package liquidation

import (
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/position"
)

var secondsPerYear = num.FromInt(365 * 24 * 60 * 60)

// Config holds the market constants that bound accruing fees.
type Config struct {
	LiquifundingDelaySeconds num.Value `json:"liquifunding_delay_seconds"`
	BorrowFeeRateCap         num.Value `json:"borrow_fee_rate_cap"`
	FundingFeeRateCap        num.Value `json:"funding_fee_rate_cap"`
	DeltaNeutralityFeeCap    num.Value `json:"delta_neutrality_fee_cap"`
	ExposureMarginRatio      num.Value `json:"exposure_margin_ratio"`
	// CrankFee is in USD.
	CrankFee num.Value `json:"crank_fee"`
}

// Input is the position and the fees its opening charged, in USD.
type Input struct {
	Type       marketprice.MarketType
	Position   position.Params
	PriceBase  num.Value
	PriceUsd   num.Value
	TradingFee num.Value
	DnfFee     num.Value
}

// Margins is the per-component breakdown, in collateral.
type Margins struct {
	Borrow   num.Value `json:"borrow"`
	Funding  num.Value `json:"funding"`
	DnfCap   num.Value `json:"delta_neutrality_fee_cap"`
	Crank    num.Value `json:"crank"`
	Exposure num.Value `json:"exposure"`
}

// Total sums all components.
func (m Margins) Total() num.Value {
	return m.Borrow.Add(m.Funding).Add(m.DnfCap).Add(m.Crank).Add(m.Exposure)
}

// Result is the liquidation price in base-price terms and the margins that
// produced it.
type Result struct {
	Price   num.Value `json:"liquidation_price"`
	Margins Margins   `json:"margins"`
}

// Price computes the liquidation price of in.Position.
//
// The worst-case notional price is the current price plus collateral per
// unit of notional, for both directions. It bounds the funding and DNF
// margins from above whichever side the position is on.
//
// It fails with position.ErrInfiniteMaxGains when the take-profit price is
// infinite in a quote-collateral market.
func (c Config) Price(in Input) (Result, error) {
	mt := in.Type
	p := in.Position
	g := mt.Geometry()

	notional := position.NotionalSize(mt, p.Direction, p.Collateral, p.Leverage, in.PriceBase)
	counter, minCounter, err := position.CounterCollateral(mt, p, in.PriceBase, false)
	if err != nil {
		return Result{}, err
	}

	delayYears := c.LiquifundingDelaySeconds.Div(secondsPerYear)
	price := g.NotionalToCollateral(num.One, in.PriceBase)
	size := notional.Abs()
	worstCase := price.Add(p.Collateral.Div(size))

	m := Margins{
		Borrow: p.Collateral.Add(num.Max(counter, minCounter)).
			Mul(c.BorrowFeeRateCap).
			Mul(delayYears),
		Funding:  size.Mul(worstCase).Mul(c.FundingFeeRateCap).Mul(delayYears),
		DnfCap:   size.Mul(worstCase).Mul(c.DeltaNeutralityFeeCap),
		Crank:    marketprice.UsdToCollateral(c.CrankFee, in.PriceUsd),
		Exposure: g.NotionalToCollateral(size.Mul(c.ExposureMarginRatio), in.PriceBase),
	}

	fees := marketprice.UsdToCollateral(in.TradingFee.Add(in.DnfFee), in.PriceUsd)
	remaining := p.Collateral.Sub(fees).Sub(m.Total())
	liq := price.Sub(remaining.Div(notional))

	if mt == marketprice.CollateralIsBase {
		liq = num.One.Div(liq)
	}
	return Result{Price: liq, Margins: m}, nil
}
