// Package publisher forwards canonical trades onto the bus, grounded on the
// Python source's base_ws.py redis_producer.publish call, adapted to NATS.
package publisher

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/feedgate/gateway/pkg/types"
)

// Bus is the subset of pkg/bus.Client this package depends on.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Publisher marshals a canonical trade and publishes it on topic.
type Publisher struct {
	bus Bus
}

// New constructs a Publisher over bus.
func New(bus Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish implements adapter.Publisher.
func (p *Publisher) Publish(ctx context.Context, topic string, trade *types.Trade) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("publisher: marshal trade for %s: %w", topic, err)
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publisher: publish %s: %w", topic, err)
	}
	return nil
}
