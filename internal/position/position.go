// Package position sizes leveraged positions: notional and base size,
// counter-collateral (locked profit) and its floor, take-profit prices and
// max-gains percentages, and leverage changes.
//
// Every function is pure; market-type differences go through
// marketprice.Geometry.
package position

import (
	"errors"
	"fmt"

	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
)

// ErrInfiniteMaxGains is returned when a quote-collateral market would need
// an infinite take-profit price. Only base-collateral markets can express it.
var ErrInfiniteMaxGains = errors.New("position: infinite max gains not supported in this market type")

// ErrInvalidDirection is returned when parsing anything but long or short.
var ErrInvalidDirection = errors.New("position: direction must be long or short")

// Direction of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection validates s.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Long, Short:
		return Direction(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() num.Value {
	if d == Short {
		return num.FromInt(-1)
	}
	return num.One
}

// Params describes one position. Leverage ≤ MaxLeverage is the caller's
// responsibility.
type Params struct {
	Direction       Direction
	Collateral      num.Value
	Leverage        num.Value
	MaxLeverage     num.Value
	TakeProfitPrice num.Value
}

// minCounterCollateralUnbounded stands in for +∞ when negative
// counter-collateral is allowed; it must stay comparable with finite amounts.
var minCounterCollateralUnbounded = num.New(1, 15)

// NotionalSize is the signed notional of a position.
func NotionalSize(mt marketprice.MarketType, dir Direction, collateral, leverage, priceBase num.Value) num.Value {
	g := mt.Geometry()
	return g.CollateralToNotional(collateral.Mul(g.LeverageToNotional(dir.Sign(), leverage)), priceBase)
}

// PositionSize is the absolute exposure in base units.
func PositionSize(mt marketprice.MarketType, collateral, leverage, priceBase num.Value) num.Value {
	return marketprice.CollateralToBase(mt, collateral.Mul(leverage).Abs(), priceBase)
}

// MinCounterCollateral is the floor used for borrow-fee accrual when the
// actual counter-collateral is smaller.
func MinCounterCollateral(mt marketprice.MarketType, p Params, priceBase num.Value, allowNegative bool) num.Value {
	if allowNegative {
		return minCounterCollateralUnbounded
	}
	notional := NotionalSize(mt, p.Direction, p.Collateral, p.Leverage, priceBase)
	return marketprice.NotionalToCollateral(mt, notional.Abs(), priceBase).Div(p.MaxLeverage)
}

// CounterCollateral is the collateral the counterparty locks to pay out at
// the take-profit price, together with its floor. An infinite take-profit
// price fails with ErrInfiniteMaxGains unless the market is
// base-collateral.
func CounterCollateral(mt marketprice.MarketType, p Params, priceBase num.Value, allowNegative bool) (counter, minCounter num.Value, err error) {
	if p.TakeProfitPrice.IsPosInf() && mt != marketprice.CollateralIsBase {
		return num.Zero, num.Zero, ErrInfiniteMaxGains
	}
	g := mt.Geometry()
	notional := NotionalSize(mt, p.Direction, p.Collateral, p.Leverage, priceBase)
	minCounter = MinCounterCollateral(mt, p, priceBase, allowNegative)

	takeProfit := g.BasePriceToNotional(p.TakeProfitPrice)
	counter = takeProfit.Sub(g.NotionalToCollateral(num.One, priceBase)).Mul(notional)
	return counter, minCounter, nil
}

// TakeProfit is a take-profit price and the relative price change it implies.
type TakeProfit struct {
	Price  num.Value `json:"take_profit_price"`
	Change num.Value `json:"take_profit_price_change"`
}

// TakeProfitPrice derives the take-profit price for a max-gains percentage.
func TakeProfitPrice(mt marketprice.MarketType, dir Direction, maxGainsPercentage, leverage, priceBase num.Value) TakeProfit {
	change := dir.Sign().Mul(maxGainsPercentage.Div(hundred)).Div(leverage)
	price := marketprice.PriceNotionalInCollateral(mt, priceBase)

	var tp num.Value
	if mt == marketprice.CollateralIsBase {
		tp = change.Add(num.One).Div(price)
	} else {
		tp = change.Add(num.One).Mul(price)
	}
	return TakeProfit{Price: tp, Change: change}
}

// PriceRange is a [Min, Max] pair of prices.
type PriceRange struct {
	Min num.Value `json:"min"`
	Max num.Value `json:"max"`
}

var (
	longPadding  = num.MustParse("1.001")
	shortPadding = num.MustParse("0.999")
)

// TakeProfitPriceRange bounds the take-profit price between the current price
// (optionally padded away from it) and the price at the largest max gains.
func TakeProfitPriceRange(mt marketprice.MarketType, dir Direction, maxLeverage, leverage, priceBase num.Value, addPadding bool) PriceRange {
	gains := MaxGainsRange(mt, dir, maxLeverage, leverage)
	hi := TakeProfitPrice(mt, dir, gains.Max, leverage, priceBase).Price

	lo := priceBase
	if addPadding {
		pad := longPadding
		if dir == Short {
			pad = shortPadding
		}
		lo = priceBase.Mul(pad)
	}
	return PriceRange{Min: lo, Max: hi}
}

// TakeProfitFromCounterCollateral inverts CounterCollateral: the take-profit
// price at which counterCollateral is exactly paid out.
func TakeProfitFromCounterCollateral(mt marketprice.MarketType, dir Direction, collateral, leverage, counterCollateral, priceBase num.Value) (num.Value, error) {
	g := mt.Geometry()
	notional := NotionalSize(mt, dir, collateral, leverage, priceBase)
	tp := g.NotionalToCollateral(num.One, priceBase).Add(counterCollateral.Div(notional))

	if tp.LessThan(marketprice.PriceEpsilon) {
		if mt == marketprice.CollateralIsBase {
			return num.Inf, nil
		}
		return num.Zero, ErrInfiniteMaxGains
	}
	return g.NotionalPriceToBase(tp), nil
}

// Resized is the notional and counter-collateral after a change.
type Resized struct {
	CounterCollateral num.Value `json:"counter_collateral"`
	NotionalSize      num.Value `json:"notional_size"`
}

// UpdateLeverage rescales notional and counter-collateral for a new leverage
// at unchanged collateral.
func UpdateLeverage(mt marketprice.MarketType, dir Direction, counterCollateral, leverage, newLeverage, notionalSize num.Value) Resized {
	g := mt.Geometry()
	s := dir.Sign()
	newNotional := notionalSize.
		Mul(g.LeverageToNotional(s, newLeverage)).
		Div(g.LeverageToNotional(s, leverage))

	return Resized{
		CounterCollateral: counterCollateral.Mul(newNotional).Div(notionalSize),
		NotionalSize:      newNotional,
	}
}

// Leverage is an absolute leverage and its signed form.
type Leverage struct {
	Leverage       num.Value `json:"leverage"`
	LeverageSigned num.Value `json:"leverage_signed"`
}

// CollateralImpactLeverage is the leverage of an unchanged notional after
// the collateral becomes newCollateral.
func CollateralImpactLeverage(mt marketprice.MarketType, dir Direction, newCollateral, notionalSize, priceBase num.Value) Leverage {
	g := mt.Geometry()
	ratio := g.NotionalToCollateral(notionalSize, priceBase).Div(newCollateral)
	signed := g.LeverageFromNotional(dir.Sign(), ratio)
	return Leverage{Leverage: signed.Abs(), LeverageSigned: signed}
}
