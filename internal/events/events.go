// Package events fans exposure updates out to WebSocket clients and to a
// NATS subject after a trade changes a market's exposure state.
package events

import (
	"errors"
	"time"

	"github.com/atmx/perp-engine/internal/num"
)

// Update types.
const (
	TypeExposureUpdated = "exposure_updated"
	TypePricesUpdated   = "prices_updated"
)

// Update is the JSON message published for every state change of a market.
type Update struct {
	Type        string    `json:"type"`
	MarketID    string    `json:"market_id"`
	Symbol      string    `json:"symbol"`
	NetNotional num.Value `json:"net_notional"`
	DnfFund     num.Value `json:"dnf_fund"`
	PriceBase   num.Value `json:"price_base"`
	DnfAmount   num.Value `json:"dnf_amount"`
	TraderID    string    `json:"trader_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher delivers updates to one destination.
type Publisher interface {
	Publish(u Update) error
}

// Fanout publishes to every publisher, continuing past failures.
type Fanout []Publisher

// Publish returns the joined errors of all publishers.
func (f Fanout) Publish(u Update) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
