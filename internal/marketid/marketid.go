// Package marketid parses market identifiers and derives the market type
// from the asset a market posts collateral in.
package marketid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/perp-engine/internal/marketprice"
)

// idRegex matches: {BASE}_{QUOTE}
// Example: ETH_USD
var idRegex = regexp.MustCompile(`^([A-Z0-9]{2,12})_([A-Z0-9]{2,12})$`)

var (
	ErrInvalidMarketID   = errors.New("marketid: invalid market id format")
	ErrInvalidCollateral = errors.New("marketid: collateral must be the base or quote asset")
)

// MarketID is a parsed market identifier.
type MarketID struct {
	ID    string `json:"id"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// Parse parses and validates a market id. Lowercase input is accepted and
// normalized.
func Parse(id string) (*MarketID, error) {
	normalized := strings.ToUpper(strings.TrimSpace(id))
	matches := idRegex.FindStringSubmatch(normalized)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected {BASE}_{QUOTE})", ErrInvalidMarketID, id)
	}
	if matches[1] == matches[2] {
		return nil, fmt.Errorf("%w: %q has the same base and quote", ErrInvalidMarketID, id)
	}
	return &MarketID{ID: normalized, Base: matches[1], Quote: matches[2]}, nil
}

// String returns the {BASE}_{QUOTE} form.
func (m MarketID) String() string { return m.ID }

// Display returns the BASE/QUOTE form.
func (m MarketID) Display() string { return m.Base + "/" + m.Quote }

// MarketType returns the market type for the given collateral asset.
func (m MarketID) MarketType(collateral string) (marketprice.MarketType, error) {
	switch strings.ToUpper(collateral) {
	case m.Quote:
		return marketprice.CollateralIsQuote, nil
	case m.Base:
		return marketprice.CollateralIsBase, nil
	}
	return "", fmt.Errorf("%w: %s in %s", ErrInvalidCollateral, collateral, m.Display())
}

// NotionalAsset is the asset notional is denominated in: the one that is not
// collateral.
func (m MarketID) NotionalAsset(mt marketprice.MarketType) string {
	if mt == marketprice.CollateralIsBase {
		return m.Quote
	}
	return m.Base
}
