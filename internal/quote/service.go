// Package quote provides the HTTP handlers for managing perpetual markets,
// quoting position economics against a market's stored state, and applying
// notional changes to its exposure.
//
// All monetary values use num.Value (shopspring/decimal underneath), never
// float64 for money.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/events"
	"github.com/atmx/perp-engine/internal/fees"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/marketid"
	"github.com/atmx/perp-engine/internal/metrics"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/store"
)

const (
	StatusOpen   = "open"
	StatusHalted = "halted"
)

var (
	defaultMaxLeverage   = num.FromInt(30)
	defaultCarryLeverage = num.One
)

// Service handles market operations. Uses a mutex for serialized trade
// execution (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store store.Store
	pub   events.Publisher // optional
	mu    sync.Mutex
}

// NewService creates a new quote service.
// Pass nil for pub if exposure updates need not be published.
func NewService(st store.Store, pub events.Publisher) *Service {
	return &Service{store: st, pub: pub}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	MarketID          string             `json:"market_id"` // BASE_QUOTE
	CollateralAsset   string             `json:"collateral_asset"`
	PriceBase         num.Value          `json:"price_base"`
	PriceUsd          num.Value          `json:"price_usd"`
	MaxLeverage       num.Value          `json:"max_leverage"`   // 0 → default 30
	CarryLeverage     num.Value          `json:"carry_leverage"` // 0 → default 1
	UnlockedLiquidity num.Value          `json:"unlocked_liquidity"`
	Dnf               dnf.Config         `json:"dnf"`
	Fees              fees.Rates         `json:"fees"`
	Liquidation       liquidation.Config `json:"liquidation"`
}

// PricesRequest is the JSON body for PUT /markets/{marketID}/price.
type PricesRequest struct {
	PriceBase num.Value `json:"price_base"`
	PriceUsd  num.Value `json:"price_usd"`
}

// TradeRequest is the JSON body for POST /markets/{marketID}/trade.
type TradeRequest struct {
	TraderID    string    `json:"trader_id"`
	OldNotional num.Value `json:"old_notional"` // 0 when opening
	NewNotional num.Value `json:"new_notional"` // 0 when closing
}

// TradeResponse is the JSON body returned from POST /markets/{marketID}/trade.
type TradeResponse struct {
	TradeID           string      `json:"trade_id"`
	MarketID          string      `json:"market_id"`
	TraderID          string      `json:"trader_id"`
	Dnf               dnf.Details `json:"dnf"`
	PriceBaseImpacted num.Value   `json:"price_base_impacted"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := marketid.Parse(req.MarketID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	mt, err := id.MarketType(req.CollateralAsset)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.MaxLeverage.IsZero() {
		req.MaxLeverage = defaultMaxLeverage
	}
	if req.CarryLeverage.IsZero() {
		req.CarryLeverage = defaultCarryLeverage
	}
	if err := validateMarket(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The liquidation margin reserves the DNF cap of the market itself.
	req.Liquidation.DeltaNeutralityFeeCap = req.Dnf.Cap

	now := time.Now().UTC()
	market := &model.Market{
		ID:                uuid.New().String(),
		Symbol:            id.String(),
		Base:              id.Base,
		Quote:             id.Quote,
		CollateralAsset:   strings.ToUpper(req.CollateralAsset),
		Type:              mt,
		PriceBase:         req.PriceBase,
		PriceUsd:          req.PriceUsd,
		MaxLeverage:       req.MaxLeverage,
		CarryLeverage:     req.CarryLeverage,
		UnlockedLiquidity: req.UnlockedLiquidity,
		Dnf:               req.Dnf,
		Fees:              req.Fees,
		Liquidation:       req.Liquidation,
		Status:            StatusOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeStoreError(w, err)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"symbol", market.Symbol,
		"market_type", string(mt),
		"price_base", market.PriceBase.String(),
	)

	writeJSON(w, http.StatusCreated, market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
// The path parameter may be the market's UUID or its BASE_QUOTE symbol.
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?status=open|halted.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	filtered := []model.Market{}
	status := r.URL.Query().Get("status")
	for _, m := range markets {
		if status == "" || m.Status == status {
			filtered = append(filtered, m)
		}
	}

	writeJSON(w, http.StatusOK, filtered)
}

// UpdatePrices handles PUT /api/v1/markets/{marketID}/price
func (s *Service) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !positiveFinite(req.PriceBase) || !positiveFinite(req.PriceUsd) {
		writeError(w, "price_base and price_usd must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Prices and exposure are read together by trades.
	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.market(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.UpdatePrices(ctx, market.ID, req.PriceBase, req.PriceUsd); err != nil {
		writeStoreError(w, err)
		return
	}
	market.PriceBase = req.PriceBase
	market.PriceUsd = req.PriceUsd

	slog.Info("prices updated",
		"market", market.Symbol,
		"price_base", req.PriceBase.String(),
		"price_usd", req.PriceUsd.String(),
	)

	s.publish(events.Update{
		Type:        events.TypePricesUpdated,
		MarketID:    market.ID,
		Symbol:      market.Symbol,
		NetNotional: market.Exposure.NetNotional,
		DnfFund:     market.Exposure.Fund,
		PriceBase:   market.PriceBase,
		Timestamp:   time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, market)
}

// ExecuteTrade handles POST /api/v1/markets/{marketID}/trade
// Charges the delta-neutrality fee for the notional change and stores the
// exposure state it leaves behind.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if req.TraderID == "" {
		writeError(w, "trader_id is required", http.StatusBadRequest)
		return
	}
	if req.OldNotional.IsInf() || req.NewNotional.IsInf() {
		writeError(w, "notional must be finite", http.StatusBadRequest)
		return
	}
	if req.OldNotional.Equal(req.NewNotional) {
		writeError(w, "notional change must be non-zero", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()

	// Serialize trade execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	market, err := s.market(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if market.Status != StatusOpen {
		writeError(w, "market is not open for trading", http.StatusConflict)
		return
	}

	m := market.DnfMarket()
	details := market.Dnf.Compute(m, market.Exposure, req.OldNotional, req.NewNotional)
	state := dnf.State{NetNotional: details.NewNetNotional, Fund: details.NewFund}

	// The exposure update and its immutable ledger entry commit together.
	entry := &model.LedgerEntry{
		ID:          uuid.New().String(),
		MarketID:    market.ID,
		TraderID:    req.TraderID,
		OldNotional: req.OldNotional,
		NewNotional: req.NewNotional,
		PriceBase:   market.PriceBase,
		DnfAmount:   details.Amount,
		NetNotional: state.NetNotional,
		DnfFund:     state.Fund,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.store.ApplyTrade(ctx, entry); err != nil {
		slog.Error("apply trade failed", "market", market.Symbol, "err", err)
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	feeLabel := "charged"
	if details.Amount.IsNegative() {
		feeLabel = "rebated"
	}
	metrics.TradesTotal.WithLabelValues(market.Symbol, feeLabel).Inc()
	metrics.DnfAmountUsd.WithLabelValues(market.Symbol, feeLabel).Add(details.Amount.Abs().InexactFloat64())
	metrics.NetNotional.WithLabelValues(market.Symbol).Set(state.NetNotional.InexactFloat64())
	metrics.DnfFund.WithLabelValues(market.Symbol).Set(state.Fund.InexactFloat64())
	metrics.TradeLatency.WithLabelValues(market.Symbol).Observe(time.Since(start).Seconds())

	slog.Info("trade applied",
		"trade_id", entry.ID,
		"trader", req.TraderID,
		"market", market.Symbol,
		"old_notional", req.OldNotional.String(),
		"new_notional", req.NewNotional.String(),
		"dnf_usd", details.Amount.String(),
		"net_notional", state.NetNotional.String(),
		"dnf_fund", state.Fund.String(),
	)

	s.publish(events.Update{
		Type:        events.TypeExposureUpdated,
		MarketID:    market.ID,
		Symbol:      market.Symbol,
		TraderID:    req.TraderID,
		NetNotional: state.NetNotional,
		DnfFund:     state.Fund,
		DnfAmount:   details.Amount,
		PriceBase:   market.PriceBase,
		Timestamp:   entry.Timestamp,
	})

	writeJSON(w, http.StatusOK, TradeResponse{
		TradeID:           entry.ID,
		MarketID:          market.ID,
		TraderID:          req.TraderID,
		Dnf:               details,
		PriceBaseImpacted: dnf.PriceBaseImpacted(m, details.Amount, req.OldNotional, req.NewNotional),
	})
}

// GetLedger handles GET /api/v1/markets/{marketID}/ledger
// Returns ledger entries to reconstruct exposure history.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	market, err := s.market(ctx, chi.URLParam(r, "marketID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	entries, err := s.store.GetLedgerEntriesByMarket(ctx, market.ID)
	if err != nil {
		writeError(w, "failed to get ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// GetTraderLedger handles GET /api/v1/traders/{traderID}/ledger
func (s *Service) GetTraderLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetLedgerEntriesByTrader(r.Context(), chi.URLParam(r, "traderID"))
	if err != nil {
		writeError(w, "failed to get ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}

// market resolves key as a market ID first, then as a symbol.
func (s *Service) market(ctx context.Context, key string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, key)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return m, err
	}
	id, perr := marketid.Parse(key)
	if perr != nil {
		return nil, err
	}
	return s.store.GetMarketBySymbol(ctx, id.String())
}

func (s *Service) publish(u events.Update) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(u); err != nil {
		slog.Warn("publish update failed", "type", u.Type, "market", u.Symbol, "err", err)
	}
}

func validateMarket(req *CreateMarketRequest) error {
	switch {
	case !positiveFinite(req.PriceBase) || !positiveFinite(req.PriceUsd):
		return errors.New("price_base and price_usd must be positive")
	case !positiveFinite(req.MaxLeverage) || !positiveFinite(req.CarryLeverage):
		return errors.New("max_leverage and carry_leverage must be positive")
	case req.UnlockedLiquidity.IsNegative() || req.UnlockedLiquidity.IsInf():
		return errors.New("unlocked_liquidity must be non-negative")
	case req.Dnf.Cap.IsNegative() || req.Dnf.Cap.IsInf():
		return errors.New("dnf.delta_neutrality_fee_cap must be non-negative")
	case !positiveFinite(req.Dnf.Sensitivity):
		return errors.New("dnf.delta_neutrality_fee_sensitivity must be positive")
	case req.Dnf.Tax.IsNegative() || req.Dnf.Tax.GreaterThanOrEqual(num.One):
		return errors.New("dnf.delta_neutrality_fee_tax must be in [0, 1)")
	}
	return nil
}

func positiveFinite(v num.Value) bool {
	return v.IsPositive() && !v.IsInf()
}

// writeStoreError maps store errors to HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "market not found", http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("store error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
