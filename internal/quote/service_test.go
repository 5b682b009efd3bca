package quote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/perp-engine/internal/dnf"
	"github.com/atmx/perp-engine/internal/events"
	"github.com/atmx/perp-engine/internal/fees"
	"github.com/atmx/perp-engine/internal/liquidation"
	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/num"
	"github.com/atmx/perp-engine/internal/position"
	"github.com/atmx/perp-engine/internal/quote"
	"github.com/atmx/perp-engine/internal/store"
)

func d(s string) num.Value {
	return num.MustParse(s)
}

func approx(t *testing.T, name string, got, want num.Value) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(d("0.000000001")) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

// recorder is a Publisher that keeps every update.
type recorder struct {
	mu      sync.Mutex
	updates []events.Update
}

func (r *recorder) Publish(u events.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *recorder, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	rec := &recorder{}
	svc := quote.NewService(ms, rec)

	r := chi.NewRouter()
	r.Post("/api/v1/markets", svc.CreateMarket)
	r.Get("/api/v1/markets", svc.ListMarkets)
	r.Get("/api/v1/markets/{marketID}", svc.GetMarket)
	r.Put("/api/v1/markets/{marketID}/price", svc.UpdatePrices)
	r.Post("/api/v1/markets/{marketID}/stats", svc.Stats)
	r.Post("/api/v1/markets/{marketID}/liquidation", svc.Liquidation)
	r.Post("/api/v1/markets/{marketID}/dnf", svc.Dnf)
	r.Post("/api/v1/markets/{marketID}/capacity", svc.Capacity)
	r.Post("/api/v1/markets/{marketID}/ranges", svc.Ranges)
	r.Post("/api/v1/markets/{marketID}/trade", svc.ExecuteTrade)
	r.Get("/api/v1/markets/{marketID}/ledger", svc.GetLedger)
	r.Get("/api/v1/traders/{traderID}/ledger", svc.GetTraderLedger)
	r.Post("/api/v1/crank-fee", svc.CrankFee)

	return ms, rec, r
}

// seedMarket creates an ETH_USD market collateralized in USD at price 100.
func seedMarket(t *testing.T, ms *store.MemoryStore, opts ...func(*model.Market)) *model.Market {
	t.Helper()
	dnfCfg := dnf.Config{Cap: d("0.01"), Sensitivity: d("10000000"), Tax: d("0.1")}
	market := &model.Market{
		ID:                "test-market-eth",
		Symbol:            "ETH_USD",
		Base:              "ETH",
		Quote:             "USD",
		CollateralAsset:   "USD",
		Type:              marketprice.CollateralIsQuote,
		PriceBase:         d("100"),
		PriceUsd:          num.One,
		MaxLeverage:       d("30"),
		CarryLeverage:     num.One,
		UnlockedLiquidity: d("1000000"),
		Dnf:               dnfCfg,
		Fees: fees.Rates{
			TradingFeeNotionalRate:       d("0.001"),
			CounterSideCollateralFeeRate: d("0.001"),
			BorrowFee:                    d("0.1"),
		},
		Liquidation: liquidation.Config{
			LiquifundingDelaySeconds: d("86400"),
			BorrowFeeRateCap:         d("0.2"),
			FundingFeeRateCap:        d("0.9"),
			DeltaNeutralityFeeCap:    dnfCfg.Cap,
			ExposureMarginRatio:      d("0.005"),
			CrankFee:                 d("0.1"),
		},
		Status:    quote.StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(market)
	}
	if err := ms.CreateMarket(context.Background(), market); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return market
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func doTrade(t *testing.T, router chi.Router, market string, req quote.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, router, "POST", "/api/v1/markets/"+market+"/trade", req)
}

// --- Trade execution tests ---

func TestExecuteTrade_OpenChargesFee(t *testing.T) {
	ms, rec, router := newTestEnv(t)
	m := seedMarket(t, ms)

	w := doTrade(t, router, m.ID, quote.TradeRequest{TraderID: "trader1", NewNotional: d("50")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp quote.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.TradeID == "" {
		t.Error("expected non-empty trade_id")
	}
	approx(t, "dnf amount", resp.Dnf.Amount, d("0.0125"))
	approx(t, "new fund", resp.Dnf.NewFund, d("0.01125"))
	approx(t, "new net notional", resp.Dnf.NewNetNotional, d("50"))
	if !resp.PriceBaseImpacted.GreaterThan(d("100")) {
		t.Errorf("charged fee should push impacted price above 100, got %s", resp.PriceBaseImpacted)
	}

	stored, _ := ms.GetMarket(context.Background(), m.ID)
	approx(t, "stored net notional", stored.Exposure.NetNotional, d("50"))
	approx(t, "stored fund", stored.Exposure.Fund, d("0.01125"))

	if len(rec.updates) != 1 || rec.updates[0].Type != events.TypeExposureUpdated {
		t.Fatalf("expected one exposure update, got %+v", rec.updates)
	}
	if rec.updates[0].Symbol != "ETH_USD" || rec.updates[0].TraderID != "trader1" {
		t.Errorf("unexpected update %+v", rec.updates[0])
	}
}

func TestExecuteTrade_CloseRebateDrainsFundOnly(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)

	doTrade(t, router, m.ID, quote.TradeRequest{TraderID: "trader1", NewNotional: d("50")})
	w := doTrade(t, router, m.ID, quote.TradeRequest{TraderID: "trader1", OldNotional: d("50")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp quote.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	// The fund holds 0.01125 of the 0.0125 needed to pay the full rebate.
	approx(t, "rebate", resp.Dnf.Amount, d("-0.01125"))
	approx(t, "fund", resp.Dnf.NewFund, num.Zero)
	approx(t, "net notional", resp.Dnf.NewNetNotional, num.Zero)
}

func TestExecuteTrade_BySymbol(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedMarket(t, ms)

	w := doTrade(t, router, "eth_usd", quote.TradeRequest{TraderID: "trader1", NewNotional: d("-50")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteTrade_Validation(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)

	tests := []struct {
		name   string
		market string
		req    quote.TradeRequest
		want   int
	}{
		{"missing trader", m.ID, quote.TradeRequest{NewNotional: d("10")}, http.StatusBadRequest},
		{"no change", m.ID, quote.TradeRequest{TraderID: "t", OldNotional: d("10"), NewNotional: d("10")}, http.StatusBadRequest},
		{"infinite notional", m.ID, quote.TradeRequest{TraderID: "t", NewNotional: num.Inf}, http.StatusBadRequest},
		{"unknown market", "BTC_USD", quote.TradeRequest{TraderID: "t", NewNotional: d("10")}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doTrade(t, router, tt.market, tt.req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestExecuteTrade_HaltedMarket(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := quote.NewService(ms, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/markets/{marketID}/trade", svc.ExecuteTrade)

	m := &model.Market{ID: "halted", Symbol: "SOL_USD", Type: marketprice.CollateralIsQuote, Status: quote.StatusHalted}
	ms.CreateMarket(context.Background(), m)

	w := doTrade(t, r, "halted", quote.TradeRequest{TraderID: "t", NewNotional: d("1")})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

// failingStore rejects every trade.
type failingStore struct {
	*store.MemoryStore
}

func (failingStore) ApplyTrade(context.Context, *model.LedgerEntry) error {
	return errors.New("connection reset")
}

func TestExecuteTrade_StoreFailureLeavesStateUntouched(t *testing.T) {
	ms := store.NewMemoryStore()
	rec := &recorder{}
	svc := quote.NewService(failingStore{ms}, rec)
	r := chi.NewRouter()
	r.Post("/api/v1/markets/{marketID}/trade", svc.ExecuteTrade)
	m := seedMarket(t, ms)

	w := doTrade(t, r, m.ID, quote.TradeRequest{TraderID: "trader1", NewNotional: d("50")})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}

	stored, _ := ms.GetMarket(context.Background(), m.ID)
	if !stored.Exposure.NetNotional.IsZero() || !stored.Exposure.Fund.IsZero() {
		t.Errorf("failed trade changed exposure: %+v", stored.Exposure)
	}
	entries, _ := ms.GetLedgerEntriesByMarket(context.Background(), m.ID)
	if len(entries) != 0 {
		t.Errorf("failed trade was recorded: %v", entries)
	}
	if len(rec.updates) != 0 {
		t.Errorf("failed trade published %d updates", len(rec.updates))
	}
}

func TestExecuteTrade_LedgerReplaysExposure(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)

	steps := []quote.TradeRequest{
		{TraderID: "trader1", NewNotional: d("50")},
		{TraderID: "trader2", NewNotional: d("-120")},
		{TraderID: "trader1", OldNotional: d("50"), NewNotional: d("10")},
	}
	for i, req := range steps {
		if w := doTrade(t, router, m.ID, req); w.Code != http.StatusOK {
			t.Fatalf("trade %d failed: %d %s", i, w.Code, w.Body.String())
		}
	}

	w := do(t, router, "GET", "/api/v1/markets/"+m.ID+"/ledger", nil)
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != len(steps) {
		t.Fatalf("expected %d ledger entries, got %d", len(steps), len(entries))
	}

	// Replaying the entries against a fresh state reproduces the stored one.
	state := dnf.State{}
	for _, e := range entries {
		got := m.Dnf.Compute(m.DnfMarket(), state, e.OldNotional, e.NewNotional)
		approx(t, "amount", got.Amount, e.DnfAmount)
		state = dnf.State{NetNotional: got.NewNetNotional, Fund: got.NewFund}
	}
	stored, _ := ms.GetMarket(context.Background(), m.ID)
	approx(t, "net notional", stored.Exposure.NetNotional, state.NetNotional)
	approx(t, "fund", stored.Exposure.Fund, state.Fund)
	approx(t, "final net notional", state.NetNotional, d("-110"))

	w = do(t, router, "GET", "/api/v1/traders/trader1/ledger", nil)
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Errorf("expected 2 entries for trader1, got %d", len(entries))
	}
}

// --- Quotes ---

func TestDnf_DoesNotChangeState(t *testing.T) {
	ms, rec, router := newTestEnv(t)
	m := seedMarket(t, ms)

	w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/dnf", quote.DnfRequest{NewNotional: d("50")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp quote.DnfResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	approx(t, "amount", resp.Amount, d("0.0125"))
	approx(t, "dnf on open", resp.Tax.DnfOnOpen, d("0.0125"))
	if resp.Tax.Tax.IsNegative() {
		t.Errorf("round trip tax should not be negative, got %s", resp.Tax.Tax)
	}

	stored, _ := ms.GetMarket(context.Background(), m.ID)
	if !stored.Exposure.NetNotional.IsZero() || !stored.Exposure.Fund.IsZero() {
		t.Errorf("quote changed exposure: %+v", stored.Exposure)
	}
	if len(rec.updates) != 0 {
		t.Errorf("quote published %d updates", len(rec.updates))
	}
}

func TestStats_OpeningLong(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)

	w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/stats", quote.PositionRequest{
		Direction:       "long",
		Collateral:      d("1000"),
		Leverage:        d("5"),
		TakeProfitPrice: d("110"),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		PositionSize       num.Value `json:"position_size"`
		LockedProfit       num.Value `json:"locked_profit"`
		Liquidation        num.Value `json:"liquidation"`
		DeltaNeutralityFee num.Value `json:"delta_neutrality_fee"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	approx(t, "position size", resp.PositionSize, d("50"))
	approx(t, "locked profit", resp.LockedProfit, d("500"))
	approx(t, "dnf", resp.DeltaNeutralityFee, d("0.0125"))
	if !resp.Liquidation.GreaterThan(d("80")) || !resp.Liquidation.LessThan(d("100")) {
		t.Errorf("liquidation %s should be in (80, 100)", resp.Liquidation)
	}
}

func TestStats_Validation(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)

	tests := []struct {
		name string
		req  quote.PositionRequest
	}{
		{"bad direction", quote.PositionRequest{Direction: "up", Collateral: d("1"), Leverage: d("1")}},
		{"zero collateral", quote.PositionRequest{Direction: "long", Leverage: d("1")}},
		{"leverage above max", quote.PositionRequest{Direction: "long", Collateral: d("1"), Leverage: d("31")}},
		{"missing take profit", quote.PositionRequest{Direction: "long", Collateral: d("1000"), Leverage: d("5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/stats", tt.req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestQuotes_InfiniteTakeProfit(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)
	pos := quote.PositionRequest{Direction: "long", Collateral: d("1000"), Leverage: d("5"), TakeProfitPrice: num.Inf}

	tests := []struct {
		endpoint string
		body     any
	}{
		{"stats", pos},
		{"liquidation", quote.LiquidationRequest{PositionRequest: pos}},
		{"capacity", quote.CapacityRequest{PositionRequest: pos}},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/"+tt.endpoint, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var resp map[string]string
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp["error"] != position.ErrInfiniteMaxGains.Error() {
				t.Errorf("error = %q, want %q", resp["error"], position.ErrInfiniteMaxGains)
			}
		})
	}
}

func TestQuotes_InfiniteTakeProfitInBaseMarket(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms, func(m *model.Market) {
		m.CollateralAsset = "ETH"
		m.Type = marketprice.CollateralIsBase
		m.PriceUsd = d("100")
	})
	pos := quote.PositionRequest{Direction: "long", Collateral: d("10"), Leverage: d("5"), TakeProfitPrice: num.Inf}

	w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/stats", pos)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		LockedProfit num.Value `json:"locked_profit"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	// the whole -4000 USD notional is locked, 40 ETH at price 100
	approx(t, "locked profit", resp.LockedProfit, d("40"))
}

func TestLiquidation_FeesMovePriceCloser(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)
	path := "/api/v1/markets/" + m.ID + "/liquidation"
	pos := quote.PositionRequest{Direction: "long", Collateral: d("1000"), Leverage: d("5"), TakeProfitPrice: d("110")}

	var bare, charged liquidation.Result
	w := do(t, router, "POST", path, quote.LiquidationRequest{PositionRequest: pos})
	json.Unmarshal(w.Body.Bytes(), &bare)
	w = do(t, router, "POST", path, quote.LiquidationRequest{PositionRequest: pos, TradingFee: d("6"), DnfFee: d("1")})
	json.Unmarshal(w.Body.Bytes(), &charged)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !charged.Price.GreaterThan(bare.Price) {
		t.Errorf("fees should raise a long's liquidation price: bare %s charged %s", bare.Price, charged.Price)
	}
}

func TestCapacity_EmptyPool(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms, func(m *model.Market) { m.UnlockedLiquidity = num.Zero })

	w := do(t, router, "POST", "/api/v1/markets/"+m.ID+"/capacity", quote.CapacityRequest{
		PositionRequest: quote.PositionRequest{Direction: "long", Collateral: d("1000"), Leverage: d("5"), TakeProfitPrice: d("110")},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp quote.CapacityResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.NoLiquidityInDirection {
		t.Error("expected no liquidity in direction")
	}
	if !resp.UnlockedLiquidity.Collateral.IsZero() {
		t.Errorf("collateral bound = %s, want 0", resp.UnlockedLiquidity.Collateral)
	}
	// Balanced market: the out-of-balance cap does not bind.
	if !resp.DnfCapOutOfBalance.Collateral.IsPosInf() {
		t.Errorf("out-of-balance bound = %s, want Infinity", resp.DnfCapOutOfBalance.Collateral)
	}
}

func TestRanges(t *testing.T) {
	ms, _, router := newTestEnv(t)
	m := seedMarket(t, ms)
	path := "/api/v1/markets/" + m.ID + "/ranges"

	w := do(t, router, "POST", path, quote.RangesRequest{Direction: "long", Leverage: d("5")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp quote.RangesResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.MaxGains.Min.LessThan(resp.MaxGains.Max) {
		t.Errorf("max gains range inverted: %+v", resp.MaxGains)
	}
	if !resp.TakeProfitPrice.Min.LessThan(resp.TakeProfitPrice.Max) {
		t.Errorf("take-profit range inverted: %+v", resp.TakeProfitPrice)
	}

	w = do(t, router, "POST", path, quote.RangesRequest{Direction: "long", Leverage: d("50")})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 above max leverage, got %d", w.Code)
	}
}

func TestCrankFee(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/crank-fee", quote.CrankFeeRequest{Items: 15, Surcharge: d("0.5"), Charged: d("1")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]num.Value
	json.Unmarshal(w.Body.Bytes(), &resp)
	approx(t, "crank fee", resp["crank_fee"], d("2"))

	w = do(t, router, "POST", "/api/v1/crank-fee", quote.CrankFeeRequest{Items: -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative items, got %d", w.Code)
	}
}

// --- Market management via API ---

func TestCreateMarket_API(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := quote.CreateMarketRequest{
		MarketID:          "btc_usd",
		CollateralAsset:   "BTC",
		PriceBase:         d("60000"),
		PriceUsd:          d("60000"),
		UnlockedLiquidity: d("10"),
		Dnf:               dnf.Config{Cap: d("0.005"), Sensitivity: d("50000000"), Tax: d("0.05")},
	}
	w := do(t, router, "POST", "/api/v1/markets", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var market model.Market
	json.Unmarshal(w.Body.Bytes(), &market)
	if market.ID == "" {
		t.Error("expected non-empty market ID")
	}
	if market.Symbol != "BTC_USD" {
		t.Errorf("symbol = %q, want BTC_USD", market.Symbol)
	}
	if market.Type != marketprice.CollateralIsBase {
		t.Errorf("market type = %q, want %q", market.Type, marketprice.CollateralIsBase)
	}
	approx(t, "default max leverage", market.MaxLeverage, d("30"))
	approx(t, "liquidation dnf cap", market.Liquidation.DeltaNeutralityFeeCap, d("0.005"))

	// Duplicate symbol.
	w = do(t, router, "POST", "/api/v1/markets", req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", w.Code)
	}

	// Lookup by symbol.
	w = do(t, router, "GET", "/api/v1/markets/BTC_USD", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 by symbol, got %d", w.Code)
	}
}

func TestCreateMarket_Invalid(t *testing.T) {
	_, _, router := newTestEnv(t)

	valid := func() quote.CreateMarketRequest {
		return quote.CreateMarketRequest{
			MarketID:        "ETH_USD",
			CollateralAsset: "USD",
			PriceBase:       d("100"),
			PriceUsd:        d("1"),
			Dnf:             dnf.Config{Cap: d("0.01"), Sensitivity: d("10000000"), Tax: d("0.1")},
		}
	}
	tests := []struct {
		name   string
		mutate func(*quote.CreateMarketRequest)
	}{
		{"bad id", func(r *quote.CreateMarketRequest) { r.MarketID = "ETHUSD" }},
		{"foreign collateral", func(r *quote.CreateMarketRequest) { r.CollateralAsset = "EUR" }},
		{"zero price", func(r *quote.CreateMarketRequest) { r.PriceBase = num.Zero }},
		{"zero sensitivity", func(r *quote.CreateMarketRequest) { r.Dnf.Sensitivity = num.Zero }},
		{"tax of one", func(r *quote.CreateMarketRequest) { r.Dnf.Tax = num.One }},
		{"negative liquidity", func(r *quote.CreateMarketRequest) { r.UnlockedLiquidity = d("-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			w := do(t, router, "POST", "/api/v1/markets", req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetMarket_NotFound(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/markets/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListMarkets_StatusFilter(t *testing.T) {
	ms, _, router := newTestEnv(t)
	seedMarket(t, ms)

	w := do(t, router, "GET", "/api/v1/markets?status=open", nil)
	var markets []model.Market
	json.Unmarshal(w.Body.Bytes(), &markets)
	if len(markets) != 1 {
		t.Errorf("expected 1 open market, got %d", len(markets))
	}

	w = do(t, router, "GET", "/api/v1/markets?status=halted", nil)
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("expected empty list, got %q", body)
	}
}

func TestUpdatePrices(t *testing.T) {
	ms, rec, router := newTestEnv(t)
	m := seedMarket(t, ms)
	path := "/api/v1/markets/" + m.ID + "/price"

	w := do(t, router, "PUT", path, quote.PricesRequest{PriceBase: d("200"), PriceUsd: num.One})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := ms.GetMarket(context.Background(), m.ID)
	approx(t, "price base", stored.PriceBase, d("200"))
	if len(rec.updates) != 1 || rec.updates[0].Type != events.TypePricesUpdated {
		t.Errorf("expected one prices update, got %+v", rec.updates)
	}

	w = do(t, router, "PUT", path, quote.PricesRequest{PriceBase: d("-1"), PriceUsd: num.One})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative price, got %d", w.Code)
	}
}
