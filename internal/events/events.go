// Package events publishes domain events after each state transition:
// to Kafka for downstream consumers and to WebSocket clients for UIs.
// Delivery is at-least-once; consumers must be idempotent.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Event types, one per state transition kind.
const (
	TypeBidSubmitted      = "bid.submitted"
	TypeBidExecuted       = "bid.executed"
	TypeBidRejected       = "bid.rejected"
	TypeBidCancelled      = "bid.cancelled"
	TypeClearingCompleted = "market.clearing-completed"
	TypePositionOpened    = "position.opened"
	TypePositionRepriced  = "position.repriced"
	TypePortfolioUpdated  = "portfolio.updated"
	TypeRiskLimitBreached = "risk.limit-breached"
)

// Event is one domain event. Key is the entity ID the event is about and
// doubles as the Kafka partition key so per-entity ordering holds.
type Event struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	Owner   string    `json:"owner,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher delivers events to an external transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Fanout publishes to several transports. Individual failures are logged
// and do not stop delivery to the rest.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) error {
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			slog.Error("event publish failed", "type", e.Type, "key", e.Key, "err", err)
		}
	}
	return nil
}

// Nop discards all events. Used in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
