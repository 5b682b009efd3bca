package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atmx/perp-engine/internal/metrics"
)

// DefaultSubject is the subject prefix updates are published under. The
// market symbol is appended, e.g. perp.exposure.ETH_USD.
const DefaultSubject = "perp.exposure"

// NATSPublisher publishes updates to NATS.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url. Reconnects are retried indefinitely.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("perp-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Subject returns the subject an update for symbol is published on.
func (p *NATSPublisher) Subject(symbol string) string {
	return p.subject + "." + symbol
}

// Publish marshals u and publishes it on the market's subject.
func (p *NATSPublisher) Publish(u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(u.Symbol), data); err != nil {
		metrics.EventsDropped.WithLabelValues("nats").Inc()
		return fmt.Errorf("publish %s: %w", u.Type, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
