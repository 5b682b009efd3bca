// Package stats chains position sizing, fees, the delta-neutrality fee and
// the liquidation solver into the summary shown before a position is opened.
package stats

import (
	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/fees"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/position"
)

// Input is an opening position and the market it opens in.
type Input struct {
	Type        marketprice.MarketType
	Position    position.Params
	PriceBase   num.Value
	PriceUsd    num.Value
	Exposure    dnf.State
	Dnf         dnf.Config
	Rates       fees.Rates
	Liquidation liquidation.Config
}

// Stats summarizes a position. Fees are in USD.
type Stats struct {
	Collateral         num.Value           `json:"collateral"`
	PositionSize       num.Value           `json:"position_size"`
	NotionalSize       num.Value           `json:"notional_size"`
	TakeProfitPrice    num.Value           `json:"take_profit_price"`
	LockedProfit       num.Value           `json:"locked_profit"`
	Liquidation        num.Value           `json:"liquidation"`
	Margins            liquidation.Margins `json:"liquidation_margins"`
	TradingFee         num.Value           `json:"trading_fee"`
	BorrowFee          num.Value           `json:"borrow_fee"`
	DeltaNeutralityFee num.Value           `json:"delta_neutrality_fee"`
	DeltaNeutralityTax num.Value           `json:"delta_neutrality_tax"`
}

// Compute opens in.Position against the exposure state and returns its stats.
// An infinite take-profit price in a quote-collateral market fails with
// position.ErrInfiniteMaxGains.
func Compute(in Input) (Stats, error) {
	mt := in.Type
	p := in.Position

	size := position.PositionSize(mt, p.Collateral, p.Leverage, in.PriceBase)
	notional := position.NotionalSize(mt, p.Direction, p.Collateral, p.Leverage, in.PriceBase)
	counter, minCounter, err := position.CounterCollateral(mt, p, in.PriceBase, false)
	if err != nil {
		return Stats{}, err
	}

	f := fees.Compute(mt, in.Rates, fees.Change{
		OldNotional:             num.Zero,
		NewNotional:             notional,
		OldCounterCollateral:    num.Zero,
		NewCounterCollateral:    counter,
		NewMinCounterCollateral: minCounter,
	}, in.PriceBase, in.PriceUsd)

	market := dnf.Market{Type: mt, PriceBase: in.PriceBase, PriceUsd: in.PriceUsd}
	dnfFee := in.Dnf.Fee(market, in.Exposure, num.Zero, notional)

	liq, err := in.Liquidation.Price(liquidation.Input{
		Type:       mt,
		Position:   p,
		PriceBase:  in.PriceBase,
		PriceUsd:   in.PriceUsd,
		TradingFee: f.TradingFee,
		DnfFee:     dnfFee,
	})
	if err != nil {
		return Stats{}, err
	}

	tax := in.Dnf.RoundTripTax(market, in.Exposure, num.Zero, notional)

	return Stats{
		Collateral:         p.Collateral,
		PositionSize:       size,
		NotionalSize:       notional,
		TakeProfitPrice:    p.TakeProfitPrice,
		LockedProfit:       counter,
		Liquidation:        liq.Price,
		Margins:            liq.Margins,
		TradingFee:         f.TradingFee,
		BorrowFee:          f.BorrowFee,
		DeltaNeutralityFee: dnfFee,
		DeltaNeutralityTax: tax.Tax,
	}, nil
}
