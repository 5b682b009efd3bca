package position

import (
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
)

var (
	hundred = num.FromInt(100)

	// counterSideRatio caps the counter-side leverage a max-gains slider may reach.
	counterSideRatio = num.MustParse("0.9")
	// gainsBuffer keeps small price moves from producing a too-low
	// counter-collateral leverage.
	gainsBuffer = num.MustParse("0.99")
	// shortTakeProfitChangeMax is the largest relative price drop a short in a
	// base-collateral market can target.
	shortTakeProfitChangeMax = num.MustParse("-0.5")
)

// MaxGains returns the max gains, in percent, of a position whose
// counter-collateral is counterCollateral.
func MaxGains(mt marketprice.MarketType, notionalSize, activeCollateral, counterCollateral, priceBase num.Value) num.Value {
	if mt != marketprice.CollateralIsBase {
		return counterCollateral.Div(activeCollateral).Mul(hundred)
	}

	takeProfitCollateral := activeCollateral.Add(counterCollateral)
	takeProfitPrice := marketprice.PriceNotionalInCollateral(mt, priceBase).
		Add(counterCollateral.Div(notionalSize))
	if takeProfitPrice.LessThan(marketprice.PriceEpsilon) {
		return num.Inf
	}

	takeProfitInNotional := takeProfitCollateral.Div(takeProfitPrice)
	activeInNotional := marketprice.CollateralToNotional(mt, activeCollateral, priceBase)
	return takeProfitInNotional.Sub(activeInNotional).Div(activeInNotional).Mul(hundred)
}

// MaxGainsFromDeps derives notional and counter-collateral from p before
// calling MaxGains.
func MaxGainsFromDeps(mt marketprice.MarketType, p Params, priceBase num.Value, allowNegative bool) (num.Value, error) {
	notional := NotionalSize(mt, p.Direction, p.Collateral, p.Leverage, priceBase)
	counter, _, err := CounterCollateral(mt, p, priceBase, allowNegative)
	if err != nil {
		return num.Zero, err
	}
	return MaxGains(mt, notional, p.Collateral, counter, priceBase), nil
}

// GainsRange is the allowed max-gains percentage range. End is set when the
// slider may additionally jump to an unbounded value.
type GainsRange struct {
	Min num.Value  `json:"min"`
	Max num.Value  `json:"max"`
	End *num.Value `json:"end,omitempty"`
}

// MaxGainsRange returns the allowed max-gains percentages for a leverage.
func MaxGainsRange(mt marketprice.MarketType, dir Direction, maxLeverage, leverage num.Value) GainsRange {
	s := dir.Sign()

	if mt != marketprice.CollateralIsBase {
		whole := leverage.Mul(hundred).Floor()
		hi := whole.Mul(gainsBuffer)
		if dir == Short {
			hi = whole.Mul(counterSideRatio)
		}
		return GainsRange{
			Min: leverage.Div(maxLeverage).Mul(hundred).Ceil(),
			Max: hi,
		}
	}

	lo := sliderBound(s, s.Mul(maxLeverage), leverage).Ceil()
	if dir == Long {
		end := num.Inf
		return GainsRange{
			Min: lo,
			Max: sliderBound(s, s.Div(counterSideRatio), leverage).Floor(),
			End: &end,
		}
	}
	return GainsRange{
		Min: lo,
		Max: shortTakeProfitChangeMax.Mul(leverage).Mul(s).Mul(hundred).Floor(),
	}
}

// sliderBound is −1/(1 − x) · leverage · direction · 100.
func sliderBound(direction, x, leverage num.Value) num.Value {
	return num.One.Neg().Div(num.One.Sub(x)).Mul(leverage).Mul(direction).Mul(hundred)
}
