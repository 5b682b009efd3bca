// Package marketprice converts amounts between the collateral, notional,
// base, quote and USD denominations of a market.
//
// A market either posts collateral in its quote asset (notional is then the
// base asset) or in its base asset (notional is then the quote asset). The
// difference is captured once by the Geometry interface so formulas elsewhere
// never branch on the market type themselves.
package marketprice

import (
	"errors"
	"fmt"

	"github.com/atmx/perp-engine/internal/num"
)

// MarketType identifies which asset a market uses as collateral.
type MarketType string

const (
	CollateralIsQuote MarketType = "collateral_is_quote"
	CollateralIsBase  MarketType = "collateral_is_base"
)

// ErrUnknownMarketType is returned for anything other than the two market types.
var ErrUnknownMarketType = errors.New("marketprice: unknown market type")

// PriceEpsilon is the threshold below which a price is treated as zero.
var PriceEpsilon = num.New(1, -7)

// ParseMarketType validates s.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(s) {
	case CollateralIsQuote, CollateralIsBase:
		return MarketType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMarketType, s)
}

// Geometry returns the conversion rules for the market type. Unknown types
// fall back to quote collateral; validate with ParseMarketType at the edge.
func (t MarketType) Geometry() Geometry {
	if t == CollateralIsBase {
		return BaseCollateral{}
	}
	return QuoteCollateral{}
}

// Geometry is the market-type specific half of every conversion.
type Geometry interface {
	Type() MarketType

	NotionalToCollateral(notional, priceBase num.Value) num.Value
	CollateralToNotional(collateral, priceBase num.Value) num.Value
	CollateralToBase(collateral, priceBase num.Value) num.Value
	BaseToCollateral(base, priceBase num.Value) num.Value
	CollateralToQuote(collateral, priceBase num.Value) num.Value

	// NotionalPriceToBase maps a price of notional in collateral back to a
	// base price.
	NotionalPriceToBase(price num.Value) num.Value
	// BasePriceToNotional maps a base price (e.g. a take-profit price) to a
	// price of notional in collateral.
	BasePriceToNotional(price num.Value) num.Value

	// LeverageToNotional is the factor applied to collateral to obtain the
	// notional size in collateral terms.
	LeverageToNotional(direction, leverage num.Value) num.Value
	// LeverageFromNotional inverts LeverageToNotional, keeping the sign.
	LeverageFromNotional(direction, ratio num.Value) num.Value
}

// QuoteCollateral is a market whose collateral is the quote asset.
type QuoteCollateral struct{}

func (QuoteCollateral) Type() MarketType { return CollateralIsQuote }

func (QuoteCollateral) NotionalToCollateral(notional, priceBase num.Value) num.Value {
	return notional.Mul(priceBase)
}

func (QuoteCollateral) CollateralToNotional(collateral, priceBase num.Value) num.Value {
	return divOrSelf(collateral, priceBase)
}

func (QuoteCollateral) CollateralToBase(collateral, priceBase num.Value) num.Value {
	return QuoteToBase(collateral, priceBase)
}

func (QuoteCollateral) BaseToCollateral(base, priceBase num.Value) num.Value {
	return BaseToQuote(base, priceBase)
}

func (QuoteCollateral) CollateralToQuote(collateral, _ num.Value) num.Value {
	return collateral
}

func (QuoteCollateral) NotionalPriceToBase(price num.Value) num.Value { return price }

func (QuoteCollateral) BasePriceToNotional(price num.Value) num.Value { return price }

func (QuoteCollateral) LeverageToNotional(direction, leverage num.Value) num.Value {
	return direction.Mul(leverage)
}

func (QuoteCollateral) LeverageFromNotional(direction, ratio num.Value) num.Value {
	return direction.Mul(ratio)
}

// BaseCollateral is a market whose collateral is the base asset. Notional is
// the quote asset, so a long is short notional and leverage acts on a
// (1 − direction·leverage) factor.
type BaseCollateral struct{}

func (BaseCollateral) Type() MarketType { return CollateralIsBase }

func (BaseCollateral) NotionalToCollateral(notional, priceBase num.Value) num.Value {
	return divOrSelf(notional, priceBase)
}

func (BaseCollateral) CollateralToNotional(collateral, priceBase num.Value) num.Value {
	return collateral.Mul(priceBase)
}

func (BaseCollateral) CollateralToBase(collateral, _ num.Value) num.Value {
	return collateral
}

func (BaseCollateral) BaseToCollateral(base, _ num.Value) num.Value {
	return base
}

func (BaseCollateral) CollateralToQuote(collateral, priceBase num.Value) num.Value {
	return BaseToQuote(collateral, priceBase)
}

func (BaseCollateral) NotionalPriceToBase(price num.Value) num.Value {
	return num.One.Div(price)
}

func (BaseCollateral) BasePriceToNotional(price num.Value) num.Value {
	switch {
	case price.LessThan(PriceEpsilon):
		return num.Inf
	case price.IsPosInf():
		return num.Zero
	}
	return num.One.Div(price)
}

func (BaseCollateral) LeverageToNotional(direction, leverage num.Value) num.Value {
	return num.One.Sub(direction.Mul(leverage))
}

func (BaseCollateral) LeverageFromNotional(direction, ratio num.Value) num.Value {
	return direction.Sub(direction.Mul(ratio))
}

// divOrSelf divides, returning the numerator unchanged when the quotient
// would diverge (a zero price).
func divOrSelf(x, price num.Value) num.Value {
	if price.IsZero() {
		return x
	}
	return x.Div(price)
}

// NotionalToCollateral converts a notional amount to collateral.
func NotionalToCollateral(t MarketType, notional, priceBase num.Value) num.Value {
	return t.Geometry().NotionalToCollateral(notional, priceBase)
}

// CollateralToNotional converts a collateral amount to notional.
func CollateralToNotional(t MarketType, collateral, priceBase num.Value) num.Value {
	return t.Geometry().CollateralToNotional(collateral, priceBase)
}

// PriceNotionalInCollateral is the price of one unit of notional in collateral.
func PriceNotionalInCollateral(t MarketType, priceBase num.Value) num.Value {
	return NotionalToCollateral(t, num.One, priceBase)
}

// PriceCollateralInNotional is the price of one unit of collateral in notional.
func PriceCollateralInNotional(t MarketType, priceBase num.Value) num.Value {
	return CollateralToNotional(t, num.One, priceBase)
}

// CollateralToUsd converts collateral to USD at priceUsd (USD per collateral).
func CollateralToUsd(collateral, priceUsd num.Value) num.Value {
	return collateral.Mul(priceUsd)
}

// UsdToCollateral converts USD to collateral. A zero price returns usd unchanged.
func UsdToCollateral(usd, priceUsd num.Value) num.Value {
	return divOrSelf(usd, priceUsd)
}

// BaseToQuote converts a base amount to quote.
func BaseToQuote(base, priceBase num.Value) num.Value {
	return base.Mul(priceBase)
}

// QuoteToBase converts a quote amount to base. A zero price returns quote unchanged.
func QuoteToBase(quote, priceBase num.Value) num.Value {
	return divOrSelf(quote, priceBase)
}

// CollateralToBase converts collateral to base units.
func CollateralToBase(t MarketType, collateral, priceBase num.Value) num.Value {
	return t.Geometry().CollateralToBase(collateral, priceBase)
}

// BaseToCollateral converts base units to collateral.
func BaseToCollateral(t MarketType, base, priceBase num.Value) num.Value {
	return t.Geometry().BaseToCollateral(base, priceBase)
}

// CollateralToQuote converts collateral to quote units.
func CollateralToQuote(t MarketType, collateral, priceBase num.Value) num.Value {
	return t.Geometry().CollateralToQuote(collateral, priceBase)
}

// UsdToNotional converts USD to notional. In a USD-quoted base-collateral
// market notional already is USD.
func UsdToNotional(t MarketType, usd, priceBase num.Value, quoteAsset string, priceUsd num.Value) num.Value {
	if quoteAsset == "USD" && t == CollateralIsBase {
		return usd
	}
	return CollateralToNotional(t, UsdToCollateral(usd, priceUsd), priceBase)
}

// UsdToBase converts USD to base units.
func UsdToBase(t MarketType, usd, priceUsd num.Value, quoteAsset string, priceBase num.Value) num.Value {
	if t == CollateralIsBase {
		return UsdToCollateral(usd, priceUsd)
	}
	return UsdToNotional(t, usd, priceBase, quoteAsset, priceUsd)
}

// BaseToUsd converts base units to USD.
func BaseToUsd(t MarketType, base, priceBase, priceUsd num.Value) num.Value {
	return CollateralToUsd(BaseToCollateral(t, base, priceBase), priceUsd)
}

// PriceUsdInNotional is the notional amount one USD buys.
func PriceUsdInNotional(t MarketType, priceBase num.Value, quoteAsset string, priceUsd num.Value) num.Value {
	return UsdToNotional(t, num.One, priceBase, quoteAsset, priceUsd)
}

// PriceNotionalInUsd is the USD price of one unit of notional.
func PriceNotionalInUsd(t MarketType, priceBase num.Value, quoteAsset string, priceUsd num.Value) num.Value {
	return num.One.Div(PriceUsdInNotional(t, priceBase, quoteAsset, priceUsd))
}
