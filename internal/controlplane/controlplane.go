// Package controlplane subscribes each venue's control channel on the bus
// and dispatches subscribe/unsubscribe commands into that venue's adapter,
// grounded on the Python source's base_ws.py start_redis_listener /
// _on_redis_message, adapted from Redis pub/sub to NATS subscriptions.
package controlplane

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedgate/gateway/pkg/topic"
	"github.com/feedgate/gateway/pkg/types"
)

// Dispatcher is satisfied by adapter.Base: apply a parsed command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd types.Command) error
}

// Bus is the subset of pkg/bus.Client this package depends on.
type Bus interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error)
}

// Listener bridges one venue's control channel to its adapter.
type Listener struct {
	venue      string
	bus        Bus
	dispatcher Dispatcher
	logger     *zap.Logger

	unsubscribe func()
}

// New constructs a Listener for venue.
func New(venue string, bus Bus, dispatcher Dispatcher, logger *zap.Logger) *Listener {
	return &Listener{venue: venue, bus: bus, dispatcher: dispatcher, logger: logger}
}

// Start subscribes to the venue's control channel. Each message is handled
// independently: a malformed command is logged and skipped rather than
// taking down the subscription.
func (l *Listener) Start() error {
	channel := topic.Control(l.venue)
	unsub, err := l.bus.Subscribe(channel, l.handle)
	if err != nil {
		return err
	}
	l.unsubscribe = unsub
	return nil
}

// Stop cancels the subscription. Safe to call even if Start was never
// called or already stopped.
func (l *Listener) Stop() {
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
}

func (l *Listener) handle(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("control command handler panicked", zap.String("venue", l.venue), zap.Any("recover", r))
		}
	}()

	var cmd types.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		l.logger.Warn("malformed control command, skipping",
			zap.String("venue", l.venue), zap.ByteString("payload", payload), zap.Error(err))
		return
	}

	if cmd.RequestID == "" {
		cmd.RequestID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.dispatcher.Dispatch(ctx, cmd); err != nil {
		l.logger.Error("control command dispatch failed",
			zap.String("venue", l.venue), zap.String("requestId", cmd.RequestID), zap.Error(err))
	}
}
