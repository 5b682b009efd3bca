// Package capacity bounds how large a position may grow before it breaches
// the delta-neutrality fee cap or the pool's unlocked liquidity.
//
// Each solver computes the ratio between the requested change and the
// largest permissible change, then divides the requested collateral and
// leverage by that ratio to find the boundary position.
package capacity

import (
	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/position"
)

// Request is the position a trader wants to hold. OldNotional is the
// notional it replaces, zero when opening.
type Request struct {
	Type        marketprice.MarketType
	Direction   position.Direction
	Collateral  num.Value
	Leverage    num.Value
	PriceBase   num.Value
	OldNotional num.Value
}

func (r Request) notional() num.Value {
	return position.NotionalSize(r.Type, r.Direction, r.Collateral, r.Leverage, r.PriceBase)
}

func (r Request) delta() num.Value {
	return r.notional().Sub(r.OldNotional)
}

// maxLeverage scales the leverage of r by 1/ratio.
func (r Request) maxLeverage(ratio num.Value) num.Value {
	g := r.Type.Geometry()
	toNotional := g.NotionalToCollateral(r.notional(), r.PriceBase).Div(r.Collateral)
	return g.LeverageFromNotional(r.Direction.Sign(), toNotional.Div(ratio)).Abs()
}

// Bound is the largest collateral, and the leverage, a position may use.
// Unconstrained fields are +Inf.
type Bound struct {
	Collateral num.Value `json:"collateral"`
	Leverage   num.Value `json:"leverage"`
}

// DnfCapOutOfBalance returns zero collateral when net notional already sits
// beyond the cap band and the request pushes further out, +Inf otherwise.
func DnfCapOutOfBalance(c dnf.Config, netNotional num.Value, r Request) Bound {
	low, high := c.NotionalCaps()
	delta := r.delta()

	if netNotional.LessThan(low) && delta.IsNegative() {
		return Bound{Collateral: num.Zero, Leverage: num.Zero}
	}
	if netNotional.GreaterThan(high) && delta.IsPositive() {
		return Bound{Collateral: num.Zero, Leverage: num.Zero}
	}
	return Bound{Collateral: num.Inf, Leverage: num.Inf}
}

// DnfCapWithinBalance scales the request to the position that brings net
// notional exactly to the cap on the side the request moves toward.
func DnfCapWithinBalance(c dnf.Config, netNotional num.Value, r Request) Bound {
	low, high := c.NotionalCaps()
	delta := r.delta()

	limit := high
	if delta.IsNegative() {
		limit = low
	}
	maxDelta := limit.Sub(netNotional)
	if maxDelta.IsZero() {
		return Bound{Collateral: num.Zero, Leverage: num.Zero}
	}

	ratio := delta.Div(maxDelta)
	return Bound{
		Collateral: r.Collateral.Div(ratio),
		Leverage:   r.maxLeverage(ratio),
	}
}

// Pool is the liquidity state of the pool backing a market.
type Pool struct {
	// CarryLeverage converts net notional to the liquidity that must stay
	// locked to cover it.
	CarryLeverage     num.Value
	NetNotional       num.Value
	UnlockedLiquidity num.Value
}

// minUnlocked is the liquidity that must remain unlocked to carry net.
func (p Pool) minUnlocked(mt marketprice.MarketType, net, priceBase num.Value) num.Value {
	return marketprice.NotionalToCollateral(mt, net.Abs(), priceBase).Div(p.CarryLeverage)
}

// available is the unlocked liquidity above the carry minimum, never negative.
func (p Pool) available(minUnlocked num.Value) num.Value {
	return num.Max(p.UnlockedLiquidity.Sub(minUnlocked), num.Zero)
}

// NoLiquidityInDirection reports whether the pool has nothing left to lock
// at its current net notional.
func NoLiquidityInDirection(mt marketprice.MarketType, p Pool, priceBase num.Value) bool {
	return !p.available(p.minUnlocked(mt, p.NetNotional, priceBase)).IsPositive()
}

// LiquidityRequest extends Request with what unlocked-liquidity sizing needs.
type LiquidityRequest struct {
	Request
	TakeProfitPrice      num.Value
	MaxLeverage          num.Value
	OldCounterCollateral num.Value
}

// LiquidityBound is the result of UnlockedLiquidity. Unconstrained fields
// are +Inf.
type LiquidityBound struct {
	NewCounterCollateral             num.Value `json:"new_counter_collateral"`
	MinUnlockedLiquidity             num.Value `json:"min_unlocked_liquidity"`
	Collateral                       num.Value `json:"collateral"`
	CollateralAtMinCounterCollateral num.Value `json:"collateral_at_min_counter_collateral"`
	Leverage                         num.Value `json:"leverage"`
	MaxGains                         num.Value `json:"max_gains"`
}

// UnlockedLiquidity sizes the request against the liquidity the pool can
// still lock after reserving what carries its post-trade net notional.
//
// A take-profit below the smallest allowed max gains is raised to it before
// the counter-collateral is computed. An infinite take-profit price in a
// quote-collateral market fails with position.ErrInfiniteMaxGains.
func UnlockedLiquidity(p Pool, r LiquidityRequest) (LiquidityBound, error) {
	mt := r.Type
	notional := r.notional()
	net := p.NetNotional.Add(notional.Sub(r.OldNotional))

	minUnlocked := p.minUnlocked(mt, net, r.PriceBase)
	available := p.available(minUnlocked)

	params := position.Params{
		Direction:       r.Direction,
		Collateral:      r.Collateral,
		Leverage:        r.Leverage,
		MaxLeverage:     r.MaxLeverage,
		TakeProfitPrice: r.TakeProfitPrice,
	}
	gains, err := position.MaxGainsFromDeps(mt, params, r.PriceBase, false)
	if err != nil {
		return LiquidityBound{}, err
	}
	minGains := position.MaxGainsRange(mt, r.Direction, r.MaxLeverage, r.Leverage).Min
	if !gains.GreaterThan(minGains) {
		params.TakeProfitPrice = position.TakeProfitPrice(mt, r.Direction, minGains, r.Leverage, r.PriceBase).Price
	}
	counter, _, err := position.CounterCollateral(mt, params, r.PriceBase, false)
	if err != nil {
		return LiquidityBound{}, err
	}

	minCounter := marketprice.NotionalToCollateral(mt, notional.Abs(), r.PriceBase).Div(r.MaxLeverage)
	counterDelta := counter.Sub(r.OldCounterCollateral)

	if !counterDelta.IsPositive() {
		return LiquidityBound{
			NewCounterCollateral:             counter,
			MinUnlockedLiquidity:             minUnlocked,
			Collateral:                       num.Inf,
			CollateralAtMinCounterCollateral: num.Inf,
			Leverage:                         num.Inf,
			MaxGains:                         num.Inf,
		}, nil
	}

	minCounterDelta := minCounter.Sub(r.OldCounterCollateral)
	ratio := counterDelta.Div(available)

	atMin := num.Inf
	if minCounterDelta.IsPositive() {
		atMin = r.Collateral.Div(minCounterDelta.Div(available))
	}

	return LiquidityBound{
		NewCounterCollateral:             counter,
		MinUnlockedLiquidity:             minUnlocked,
		Collateral:                       r.Collateral.Div(ratio),
		CollateralAtMinCounterCollateral: atMin,
		Leverage:                         r.maxLeverage(ratio),
		MaxGains:                         position.MaxGains(mt, notional, r.Collateral, available.Add(r.OldCounterCollateral), r.PriceBase),
	}, nil
}
