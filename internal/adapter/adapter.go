// Package adapter implements the venue-specific translation layer (C2):
// building subscribe/unsubscribe frames in each venue's wire format and
// mapping each venue's trade payloads into the canonical schema. Base
// carries everything that is identical across venues (connection wiring,
// reference counting, resubscribe-on-reconnect); each venue supplies a
// Protocol that knows only its own URLs, frames, and payload shapes.
package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/feedgate/gateway/internal/connection"
	"github.com/feedgate/gateway/internal/ledger"
	"github.com/feedgate/gateway/pkg/topic"
	"github.com/feedgate/gateway/pkg/types"
)

// Protocol is what a venue must supply. Base drives everything else.
type Protocol interface {
	// Venue returns the exchange name used in canonical topics, e.g. "binance".
	Venue() string

	// BaseURL returns the upstream WebSocket URL for marketType (e.g. "spot", "perp").
	BaseURL(marketType string) (string, error)

	// BuildFrame encodes a subscribe/unsubscribe request for streamKeys.
	BuildFrame(action, marketType string, streamKeys []string) ([]byte, error)

	// Parse maps a raw upstream frame into a canonical trade. ok is false for
	// frames that carry no trade (heartbeats, acks, snapshots, status updates).
	Parse(marketType string, raw []byte) (trade *types.Trade, symbol string, streamType string, ok bool)

	// Heartbeat inspects a raw frame for a venue-specific application-level
	// ping that requires an immediate reply frame. ok is false for anything
	// that isn't one of these pings; venues with no such protocol (Kraken)
	// always return false.
	Heartbeat(raw []byte) (reply []byte, ok bool)
}

// StreamKey builds the reference-counting key for one symbol's subscription
// to one stream type. Shared across venues: the ledger only needs a stable,
// unique key per (symbol, streamType) pair.
func StreamKey(symbol, streamType string) string {
	return symbol + "@" + streamType
}

// Publisher forwards a canonical trade to the bus on topic.
type Publisher func(ctx context.Context, topic string, trade *types.Trade) error

// Base wires a Protocol to a connection manager, a subscription ledger, and
// a publisher. One Base exists per enabled venue.
type Base struct {
	proto       Protocol
	conn        *connection.Manager
	ledger      *ledger.Ledger
	publish     Publisher
	logger      *zap.Logger
	marketTypes []string
}

// NewBase constructs a Base and the connection.Manager it drives. connCfg is
// filled in except for OnMessage/OnReconnect, which Base supplies itself.
func NewBase(proto Protocol, connCfg connection.Config, publish Publisher, logger *zap.Logger, marketTypes []string) *Base {
	b := &Base{
		proto:       proto,
		ledger:      ledger.New(),
		publish:     publish,
		logger:      logger,
		marketTypes: marketTypes,
	}
	connCfg.Venue = proto.Venue()
	connCfg.OnMessage = b.onMessage
	connCfg.OnReconnect = b.onReconnect
	b.conn = connection.New(connCfg)
	return b
}

// Venue returns the exchange name this Base drives.
func (b *Base) Venue() string {
	return b.proto.Venue()
}

// Ledger exposes the subscription reference-counting table for read-only
// introspection (e.g. the HTTP subscriptions endpoint).
func (b *Base) Ledger() *ledger.Ledger {
	return b.ledger
}

func connectionID(marketType string) string {
	return marketType + ":main"
}

func marketOf(connectionID string) string {
	if i := strings.IndexByte(connectionID, ':'); i >= 0 {
		return connectionID[:i]
	}
	return connectionID
}

// Start launches the connection manager and dials one connection per
// configured market type.
func (b *Base) Start(ctx context.Context) error {
	b.conn.Start()
	for _, mt := range b.marketTypes {
		if err := b.ensureConnection(ctx, connectionID(mt), mt); err != nil {
			return err
		}
	}
	return nil
}

// ensureConnection asks C1 to add a connection for marketType if one isn't
// already established. Add is idempotent, so this is cheap to call on every
// subscribe: it lazily dials a market that wasn't pre-connected at Start
// (e.g. one without a default market-type entry) the first time a command
// references it.
func (b *Base) ensureConnection(ctx context.Context, connID, marketType string) error {
	url, err := b.proto.BaseURL(marketType)
	if err != nil {
		return fmt.Errorf("adapter %s: base url for %s: %w", b.proto.Venue(), marketType, err)
	}
	if err := b.conn.Add(ctx, connID, url); err != nil {
		return fmt.Errorf("adapter %s: connect %s: %w", b.proto.Venue(), marketType, err)
	}
	return nil
}

// Close tears down every connection this Base owns.
func (b *Base) Close() error {
	return b.conn.Close()
}

// Dispatch applies a subscribe/unsubscribe command from the control plane.
func (b *Base) Dispatch(ctx context.Context, cmd types.Command) error {
	if cmd.MarketType == "" {
		return fmt.Errorf("adapter %s: command missing marketType", b.proto.Venue())
	}
	if cmd.StreamType == "" {
		return fmt.Errorf("adapter %s: command missing streamType", b.proto.Venue())
	}
	if len(cmd.Symbols) == 0 {
		return fmt.Errorf("adapter %s: command has no symbols", b.proto.Venue())
	}

	keys := make([]string, len(cmd.Symbols))
	for i, s := range cmd.Symbols {
		keys[i] = StreamKey(s, cmd.StreamType)
	}

	switch cmd.Action {
	case types.ActionSubscribe:
		// Only keys with no live demand need an upstream SUBSCRIBE; keys
		// already at a count of 1 or more are only bumped in the ledger.
		toAdd := make([]string, 0, len(keys))
		for _, k := range keys {
			if b.ledger.Count(cmd.MarketType, k) == 0 {
				toAdd = append(toAdd, k)
			}
		}
		if len(toAdd) == 0 {
			b.ledger.Add(cmd.MarketType, keys)
			return nil
		}
		frame, err := b.proto.BuildFrame(types.ActionSubscribe, cmd.MarketType, toAdd)
		if err != nil {
			return fmt.Errorf("adapter %s: build subscribe frame: %w", b.proto.Venue(), err)
		}
		connID := connectionID(cmd.MarketType)
		if err := b.ensureConnection(ctx, connID, cmd.MarketType); err != nil {
			return err
		}
		if err := b.conn.Send(ctx, connID, frame); err != nil {
			return err
		}
		b.ledger.Add(cmd.MarketType, keys)
		return nil

	case types.ActionUnsubscribe:
		b.ledger.Remove(cmd.MarketType, keys)
		zero := b.ledger.ZeroKeys(cmd.MarketType)
		toRemove := intersect(keys, zero)
		if len(toRemove) == 0 {
			return nil
		}
		frame, err := b.proto.BuildFrame(types.ActionUnsubscribe, cmd.MarketType, toRemove)
		if err != nil {
			return fmt.Errorf("adapter %s: build unsubscribe frame: %w", b.proto.Venue(), err)
		}
		err = b.conn.Send(ctx, connectionID(cmd.MarketType), frame)
		b.ledger.Prune(cmd.MarketType, toRemove)
		return err

	default:
		return fmt.Errorf("adapter %s: unknown action %q", b.proto.Venue(), cmd.Action)
	}
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, k := range a {
		if _, ok := set[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (b *Base) onMessage(connID string, raw []byte) {
	if reply, ok := b.proto.Heartbeat(raw); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.conn.Send(ctx, connID, reply); err != nil {
			b.logger.Warn("heartbeat reply failed",
				zap.String("venue", b.proto.Venue()), zap.String("connection_id", connID), zap.Error(err))
		}
		return
	}

	marketType := marketOf(connID)

	trade, symbol, streamType, ok := b.proto.Parse(marketType, raw)
	if !ok {
		return
	}

	trade.LocalTimestamp = time.Now().UnixMilli()
	trade.Topic = topic.Format(b.proto.Venue(), marketType, symbol, streamType)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.publish(ctx, trade.Topic, trade); err != nil {
		b.logger.Error("publish failed", zap.String("topic", trade.Topic), zap.Error(err))
	}
}

func (b *Base) onReconnect(connID string) {
	marketType := marketOf(connID)
	keys := b.ledger.ActiveKeys(marketType)
	if len(keys) == 0 {
		return
	}

	frame, err := b.proto.BuildFrame(types.ActionSubscribe, marketType, keys)
	if err != nil {
		b.logger.Error("rebuild subscribe frame after reconnect failed",
			zap.String("venue", b.proto.Venue()), zap.String("market", marketType), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.conn.Send(ctx, connID, frame); err != nil {
		b.logger.Error("resubscribe after reconnect failed",
			zap.String("venue", b.proto.Venue()), zap.String("market", marketType), zap.Error(err))
	}
}
