// Package model defines the persisted domain records of the perp engine.
// All monetary values use num.Value (exact decimals with explicit ±Inf),
// never float64.
package model

import (
	"time"

	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/fees"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/num"
)

// Market is the configuration of one perpetual market together with its
// current exposure state. The exposure state changes only through trades.
type Market struct {
	ID              string                 `json:"id" db:"id"`
	Symbol          string                 `json:"symbol" db:"symbol"` // BASE_QUOTE
	Base            string                 `json:"base" db:"base"`
	Quote           string                 `json:"quote" db:"quote"`
	CollateralAsset string                 `json:"collateral_asset" db:"collateral_asset"`
	Type            marketprice.MarketType `json:"market_type" db:"market_type"`

	PriceBase num.Value `json:"price_base" db:"price_base"`
	PriceUsd  num.Value `json:"price_usd" db:"price_usd"` // USD per unit of collateral

	MaxLeverage       num.Value `json:"max_leverage" db:"max_leverage"`
	CarryLeverage     num.Value `json:"carry_leverage" db:"carry_leverage"`
	UnlockedLiquidity num.Value `json:"unlocked_liquidity" db:"unlocked_liquidity"`

	Dnf         dnf.Config         `json:"dnf"`
	Fees        fees.Rates         `json:"fees"`
	Liquidation liquidation.Config `json:"liquidation"`

	Exposure  dnf.State `json:"exposure"`
	Status    string    `json:"status" db:"status"` // "open", "halted"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DnfMarket is the pricing context of the delta-neutrality fee.
func (m *Market) DnfMarket() dnf.Market {
	return dnf.Market{Type: m.Type, PriceBase: m.PriceBase, PriceUsd: m.PriceUsd}
}

// LedgerEntry is an immutable record of one applied notional change and the
// exposure state it produced. Replaying a market's entries in order yields
// its current exposure.
type LedgerEntry struct {
	ID          string    `json:"id" db:"id"`
	MarketID    string    `json:"market_id" db:"market_id"`
	TraderID    string    `json:"trader_id" db:"trader_id"`
	OldNotional num.Value `json:"old_notional" db:"old_notional"`
	NewNotional num.Value `json:"new_notional" db:"new_notional"`
	PriceBase   num.Value `json:"price_base" db:"price_base"`
	DnfAmount   num.Value `json:"dnf_amount" db:"dnf_amount"` // USD, positive = charged
	NetNotional num.Value `json:"net_notional" db:"net_notional"`
	DnfFund     num.Value `json:"dnf_fund" db:"dnf_fund"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}
