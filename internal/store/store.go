// Package store defines the persistence interface for the perp engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/perp-engine/internal/model"
	"github.com/atmx/perp-engine/internal/num"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketBySymbol retrieves a market by its BASE_QUOTE symbol.
	GetMarketBySymbol(ctx context.Context, symbol string) (*model.Market, error)

	// ListMarkets returns all markets.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdatePrices sets the oracle prices of a market.
	UpdatePrices(ctx context.Context, id string, priceBase, priceUsd num.Value) error

	// ApplyTrade stores the exposure state recorded in entry on its market
	// and appends entry to the ledger. Both writes happen or neither does.
	ApplyTrade(ctx context.Context, entry *model.LedgerEntry) error

	// --- Immutable ledger ---

	// GetLedgerEntriesByMarket returns all entries for a market, oldest first.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// GetLedgerEntriesByTrader returns all entries for a trader, oldest first.
	GetLedgerEntriesByTrader(ctx context.Context, traderID string) ([]model.LedgerEntry, error)
}
