package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/perp-engine/internal/marketprice"
	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/num"
)

// Schema creates the tables used by PostgresStore. NUMERIC holds exact
// decimals and, from PostgreSQL 14, the Infinity sentinels.
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id                               TEXT PRIMARY KEY,
	symbol                           TEXT NOT NULL UNIQUE,
	base                             TEXT NOT NULL,
	quote                            TEXT NOT NULL,
	collateral_asset                 TEXT NOT NULL,
	market_type                      TEXT NOT NULL,
	price_base                       NUMERIC NOT NULL,
	price_usd                        NUMERIC NOT NULL,
	max_leverage                     NUMERIC NOT NULL,
	carry_leverage                   NUMERIC NOT NULL,
	unlocked_liquidity               NUMERIC NOT NULL,
	dnf_cap                          NUMERIC NOT NULL,
	dnf_sensitivity                  NUMERIC NOT NULL,
	dnf_tax                          NUMERIC NOT NULL,
	trading_fee_notional_rate        NUMERIC NOT NULL,
	counter_side_collateral_fee_rate NUMERIC NOT NULL,
	borrow_fee                       NUMERIC NOT NULL,
	liquifunding_delay_seconds       NUMERIC NOT NULL,
	borrow_fee_rate_cap              NUMERIC NOT NULL,
	funding_fee_rate_cap             NUMERIC NOT NULL,
	exposure_margin_ratio            NUMERIC NOT NULL,
	crank_fee                        NUMERIC NOT NULL,
	net_notional                     NUMERIC NOT NULL DEFAULT 0,
	dnf_fund                         NUMERIC NOT NULL DEFAULT 0,
	status                           TEXT NOT NULL,
	created_at                       TIMESTAMPTZ NOT NULL,
	updated_at                       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL REFERENCES markets(id),
	trader_id    TEXT NOT NULL,
	old_notional NUMERIC NOT NULL,
	new_notional NUMERIC NOT NULL,
	price_base   NUMERIC NOT NULL,
	dnf_amount   NUMERIC NOT NULL,
	net_notional NUMERIC NOT NULL,
	dnf_fund     NUMERIC NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_entries_market_idx ON ledger_entries (market_id, timestamp);
CREATE INDEX IF NOT EXISTS ledger_entries_trader_idx ON ledger_entries (trader_id, timestamp);
`

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const marketColumns = `id, symbol, base, quote, collateral_asset, market_type,
	price_base::TEXT, price_usd::TEXT,
	max_leverage::TEXT, carry_leverage::TEXT, unlocked_liquidity::TEXT,
	dnf_cap::TEXT, dnf_sensitivity::TEXT, dnf_tax::TEXT,
	trading_fee_notional_rate::TEXT, counter_side_collateral_fee_rate::TEXT, borrow_fee::TEXT,
	liquifunding_delay_seconds::TEXT, borrow_fee_rate_cap::TEXT, funding_fee_rate_cap::TEXT,
	exposure_margin_ratio::TEXT, crank_fee::TEXT,
	net_notional::TEXT, dnf_fund::TEXT,
	status, created_at, updated_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, symbol, base, quote, collateral_asset, market_type,
		     price_base, price_usd, max_leverage, carry_leverage, unlocked_liquidity,
		     dnf_cap, dnf_sensitivity, dnf_tax,
		     trading_fee_notional_rate, counter_side_collateral_fee_rate, borrow_fee,
		     liquifunding_delay_seconds, borrow_fee_rate_cap, funding_fee_rate_cap,
		     exposure_margin_ratio, crank_fee, net_notional, dnf_fund,
		     status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6,
		     $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC,
		     $12::NUMERIC, $13::NUMERIC, $14::NUMERIC,
		     $15::NUMERIC, $16::NUMERIC, $17::NUMERIC,
		     $18::NUMERIC, $19::NUMERIC, $20::NUMERIC,
		     $21::NUMERIC, $22::NUMERIC, $23::NUMERIC, $24::NUMERIC,
		     $25, $26, $27)`,
		m.ID, m.Symbol, m.Base, m.Quote, m.CollateralAsset, string(m.Type),
		m.PriceBase.String(), m.PriceUsd.String(),
		m.MaxLeverage.String(), m.CarryLeverage.String(), m.UnlockedLiquidity.String(),
		m.Dnf.Cap.String(), m.Dnf.Sensitivity.String(), m.Dnf.Tax.String(),
		m.Fees.TradingFeeNotionalRate.String(), m.Fees.CounterSideCollateralFeeRate.String(), m.Fees.BorrowFee.String(),
		m.Liquidation.LiquifundingDelaySeconds.String(), m.Liquidation.BorrowFeeRateCap.String(), m.Liquidation.FundingFeeRateCap.String(),
		m.Liquidation.ExposureMarginRatio.String(), m.Liquidation.CrankFee.String(),
		m.Exposure.NetNotional.String(), m.Exposure.Fund.String(),
		m.Status, m.CreatedAt, m.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: market %s", ErrDuplicate, m.Symbol)
	}
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFound(err))
	}
	return m, nil
}

func (s *PostgresStore) GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE symbol = $1`, symbol))
	if err != nil {
		return nil, fmt.Errorf("get market by symbol %s: %w", symbol, notFound(err))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdatePrices(ctx context.Context, id string, priceBase, priceUsd num.Value) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET price_base = $2::NUMERIC, price_usd = $3::NUMERIC, updated_at = now()
		 WHERE id = $1`,
		id, priceBase.String(), priceUsd.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	return nil
}

// ApplyTrade updates the market exposure and appends the ledger entry in one
// transaction.
func (s *PostgresStore) ApplyTrade(ctx context.Context, e *model.LedgerEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET net_notional = $2::NUMERIC, dnf_fund = $3::NUMERIC, updated_at = now()
		 WHERE id = $1`,
		e.MarketID, e.NetNotional.String(), e.DnfFund.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s", ErrNotFound, e.MarketID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, market_id, trader_id, old_notional, new_notional,
		     price_base, dnf_amount, net_notional, dnf_fund, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		e.ID, e.MarketID, e.TraderID,
		e.OldNotional.String(), e.NewNotional.String(), e.PriceBase.String(),
		e.DnfAmount.String(), e.NetNotional.String(), e.DnfFund.String(),
		e.Timestamp,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const ledgerColumns = `id, market_id, trader_id,
	old_notional::TEXT, new_notional::TEXT, price_base::TEXT,
	dnf_amount::TEXT, net_notional::TEXT, dnf_fund::TEXT, timestamp`

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByTrader(ctx context.Context, traderID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE trader_id = $1 ORDER BY timestamp`, traderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// numColumn is a NUMERIC column scanned as text and its destination.
type numColumn struct {
	dst  *num.Value
	text string
}

func parseNums(cols []numColumn) error {
	for _, c := range cols {
		v, err := num.Parse(c.text)
		if err != nil {
			return err
		}
		*c.dst = v
	}
	return nil
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var marketType string
	var priceBase, priceUsd, maxLev, carryLev, unlocked string
	var dnfCap, dnfSens, dnfTax string
	var tradingRate, counterRate, borrowFee string
	var delay, borrowCap, fundingCap, exposureRatio, crankFee string
	var netNotional, fund string

	if err := row.Scan(&m.ID, &m.Symbol, &m.Base, &m.Quote, &m.CollateralAsset, &marketType,
		&priceBase, &priceUsd,
		&maxLev, &carryLev, &unlocked,
		&dnfCap, &dnfSens, &dnfTax,
		&tradingRate, &counterRate, &borrowFee,
		&delay, &borrowCap, &fundingCap,
		&exposureRatio, &crankFee,
		&netNotional, &fund,
		&m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}

	mt, err := marketprice.ParseMarketType(marketType)
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", m.ID, err)
	}
	m.Type = mt

	err = parseNums([]numColumn{
		{&m.PriceBase, priceBase}, {&m.PriceUsd, priceUsd},
		{&m.MaxLeverage, maxLev}, {&m.CarryLeverage, carryLev}, {&m.UnlockedLiquidity, unlocked},
		{&m.Dnf.Cap, dnfCap}, {&m.Dnf.Sensitivity, dnfSens}, {&m.Dnf.Tax, dnfTax},
		{&m.Fees.TradingFeeNotionalRate, tradingRate},
		{&m.Fees.CounterSideCollateralFeeRate, counterRate},
		{&m.Fees.BorrowFee, borrowFee},
		{&m.Liquidation.LiquifundingDelaySeconds, delay},
		{&m.Liquidation.BorrowFeeRateCap, borrowCap},
		{&m.Liquidation.FundingFeeRateCap, fundingCap},
		{&m.Liquidation.ExposureMarginRatio, exposureRatio},
		{&m.Liquidation.CrankFee, crankFee},
		{&m.Exposure.NetNotional, netNotional}, {&m.Exposure.Fund, fund},
	})
	if err != nil {
		return nil, fmt.Errorf("market %s: %w", m.ID, err)
	}
	m.Liquidation.DeltaNeutralityFeeCap = m.Dnf.Cap
	return &m, nil
}

func scanLedgerEntries(rows pgx.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var oldN, newN, price, amount, net, fund string

		if err := rows.Scan(&e.ID, &e.MarketID, &e.TraderID,
			&oldN, &newN, &price, &amount, &net, &fund, &e.Timestamp); err != nil {
			return nil, err
		}
		err := parseNums([]numColumn{
			{&e.OldNotional, oldN}, {&e.NewNotional, newN}, {&e.PriceBase, price},
			{&e.DnfAmount, amount}, {&e.NetNotional, net}, {&e.DnfFund, fund},
		})
		if err != nil {
			return nil, fmt.Errorf("ledger entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
