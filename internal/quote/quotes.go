package quote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/perp-engine/internal/capacity"
	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/fees"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/position"
	"github.com/atmx/perp-engine/internal/stats"
)

// Quotes never change market state; they read the stored prices and
// exposure and run the engine packages against them.

// PositionRequest describes a position in a market. TakeProfitPrice is in
// base-price terms and required; "Infinity" is accepted only by
// base-collateral markets.
type PositionRequest struct {
	Direction       string    `json:"direction"` // "long" or "short"
	Collateral      num.Value `json:"collateral"`
	Leverage        num.Value `json:"leverage"`
	TakeProfitPrice num.Value `json:"take_profit_price"`
}

// params validates req against the market's leverage limit.
func (req PositionRequest) params(m *model.Market) (position.Params, error) {
	dir, err := position.ParseDirection(req.Direction)
	if err != nil {
		return position.Params{}, err
	}
	if !positiveFinite(req.Collateral) {
		return position.Params{}, errors.New("collateral must be positive")
	}
	if !positiveFinite(req.Leverage) {
		return position.Params{}, errors.New("leverage must be positive")
	}
	if req.Leverage.GreaterThan(m.MaxLeverage) {
		return position.Params{}, fmt.Errorf("leverage exceeds market maximum %s", m.MaxLeverage)
	}
	if !req.TakeProfitPrice.IsPositive() {
		return position.Params{}, errors.New("take_profit_price must be positive")
	}
	return position.Params{
		Direction:       dir,
		Collateral:      req.Collateral,
		Leverage:        req.Leverage,
		MaxLeverage:     m.MaxLeverage,
		TakeProfitPrice: req.TakeProfitPrice,
	}, nil
}

// LiquidationRequest adds the opening fees, in USD, to a position.
type LiquidationRequest struct {
	PositionRequest
	TradingFee num.Value `json:"trading_fee"`
	DnfFee     num.Value `json:"dnf_fee"`
}

// DnfRequest is a notional change to price without applying it.
type DnfRequest struct {
	OldNotional num.Value `json:"old_notional"`
	NewNotional num.Value `json:"new_notional"`
}

// DnfResponse is the fee, the round-trip tax and the impacted price of a
// notional change.
type DnfResponse struct {
	dnf.Details
	Tax               dnf.TaxResult `json:"tax"`
	PriceBaseImpacted num.Value     `json:"price_base_impacted"`
}

// CapacityRequest adds the state a position replaces. Both fields are zero
// when opening.
type CapacityRequest struct {
	PositionRequest
	OldNotional          num.Value `json:"old_notional"`
	OldCounterCollateral num.Value `json:"old_counter_collateral"`
}

// CapacityResponse holds every bound on the requested position.
type CapacityResponse struct {
	DnfCapOutOfBalance     capacity.Bound          `json:"dnf_cap_out_of_balance"`
	DnfCapWithinBalance    capacity.Bound          `json:"dnf_cap_within_balance"`
	UnlockedLiquidity      capacity.LiquidityBound `json:"unlocked_liquidity"`
	NoLiquidityInDirection bool                    `json:"no_liquidity_in_direction"`
}

// RangesRequest is the direction and leverage the slider ranges depend on.
type RangesRequest struct {
	Direction string    `json:"direction"`
	Leverage  num.Value `json:"leverage"`
}

// RangesResponse is the allowed take-profit price and max gains ranges.
type RangesResponse struct {
	TakeProfitPrice position.PriceRange `json:"take_profit_price"`
	MaxGains        position.GainsRange `json:"max_gains"`
}

// CrankFeeRequest is the JSON body for POST /api/v1/crank-fee.
type CrankFeeRequest struct {
	Items     int64     `json:"items"`
	Surcharge num.Value `json:"surcharge"`
	Charged   num.Value `json:"charged"`
}

// Stats handles POST /api/v1/markets/{marketID}/stats
func (s *Service) Stats(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p, err := req.params(m)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	st, err := stats.Compute(stats.Input{
		Type:        m.Type,
		Position:    p,
		PriceBase:   m.PriceBase,
		PriceUsd:    m.PriceUsd,
		Exposure:    m.Exposure,
		Dnf:         m.Dnf,
		Rates:       m.Fees,
		Liquidation: m.Liquidation,
	})
	if err != nil {
		writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Liquidation handles POST /api/v1/markets/{marketID}/liquidation
func (s *Service) Liquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p, err := req.params(m)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := m.Liquidation.Price(liquidation.Input{
		Type:       m.Type,
		Position:   p,
		PriceBase:  m.PriceBase,
		PriceUsd:   m.PriceUsd,
		TradingFee: req.TradingFee,
		DnfFee:     req.DnfFee,
	})
	if err != nil {
		writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Dnf handles POST /api/v1/markets/{marketID}/dnf
func (s *Service) Dnf(w http.ResponseWriter, r *http.Request) {
	var req DnfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OldNotional.IsInf() || req.NewNotional.IsInf() {
		writeError(w, "notional must be finite", http.StatusBadRequest)
		return
	}
	m, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	dm := m.DnfMarket()
	details := m.Dnf.Compute(dm, m.Exposure, req.OldNotional, req.NewNotional)
	writeJSON(w, http.StatusOK, DnfResponse{
		Details:           details,
		Tax:               m.Dnf.RoundTripTax(dm, m.Exposure, req.OldNotional, req.NewNotional),
		PriceBaseImpacted: dnf.PriceBaseImpacted(dm, details.Amount, req.OldNotional, req.NewNotional),
	})
}

// Capacity handles POST /api/v1/markets/{marketID}/capacity
func (s *Service) Capacity(w http.ResponseWriter, r *http.Request) {
	var req CapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p, err := req.params(m)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	cr := capacity.Request{
		Type:        m.Type,
		Direction:   p.Direction,
		Collateral:  p.Collateral,
		Leverage:    p.Leverage,
		PriceBase:   m.PriceBase,
		OldNotional: req.OldNotional,
	}
	pool := capacity.Pool{
		CarryLeverage:     m.CarryLeverage,
		NetNotional:       m.Exposure.NetNotional,
		UnlockedLiquidity: m.UnlockedLiquidity,
	}
	net := m.Exposure.NetNotional

	unlocked, err := capacity.UnlockedLiquidity(pool, capacity.LiquidityRequest{
		Request:              cr,
		TakeProfitPrice:      p.TakeProfitPrice,
		MaxLeverage:          p.MaxLeverage,
		OldCounterCollateral: req.OldCounterCollateral,
	})
	if err != nil {
		writeQuoteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CapacityResponse{
		DnfCapOutOfBalance:     capacity.DnfCapOutOfBalance(m.Dnf, net, cr),
		DnfCapWithinBalance:    capacity.DnfCapWithinBalance(m.Dnf, net, cr),
		UnlockedLiquidity:      unlocked,
		NoLiquidityInDirection: capacity.NoLiquidityInDirection(m.Type, pool, m.PriceBase),
	})
}

// Ranges handles POST /api/v1/markets/{marketID}/ranges
func (s *Service) Ranges(w http.ResponseWriter, r *http.Request) {
	var req RangesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	dir, err := position.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !positiveFinite(req.Leverage) || req.Leverage.GreaterThan(m.MaxLeverage) {
		writeError(w, "leverage must be positive and within the market maximum", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, RangesResponse{
		TakeProfitPrice: position.TakeProfitPriceRange(m.Type, dir, m.MaxLeverage, req.Leverage, m.PriceBase, true),
		MaxGains:        position.MaxGainsRange(m.Type, dir, m.MaxLeverage, req.Leverage),
	})
}

// CrankFee handles POST /api/v1/crank-fee
func (s *Service) CrankFee(w http.ResponseWriter, r *http.Request) {
	var req CrankFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Items < 0 {
		writeError(w, "items must not be negative", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]num.Value{
		"crank_fee": fees.DeferredExecutionCrankFee(req.Items, req.Surcharge, req.Charged),
	})
}

// writeQuoteError maps engine errors to HTTP status codes.
func writeQuoteError(w http.ResponseWriter, err error) {
	if errors.Is(err, position.ErrInfiniteMaxGains) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Error("quote failed", "err", err)
	writeError(w, "internal error", http.StatusInternalServerError)
}
