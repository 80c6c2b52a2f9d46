// Package bus wraps the NATS client used to publish canonical trades and to
// carry control-plane subscribe/unsubscribe commands, grounded on the
// adred-codev-ws_poc go-server's pkg/nats/client.go, substituting NATS for
// the Python source's Redis pub/sub.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config tunes the underlying NATS connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ConnectTimeout  time.Duration
}

// Client is a thin wrapper over a *nats.Conn: publish raw bytes on a topic,
// subscribe a handler to a topic, and report connection health.
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials the NATS server described by cfg.
func Connect(cfg Config, logger *zap.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			if err != nil {
				logger.Warn("bus disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("bus reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			logger.Error("bus async error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", cfg.URL, err)
	}

	return &Client{conn: conn, logger: logger}, nil
}

// Publish sends payload on topic.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.conn.Publish(topic, payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler to run on every message received on topic.
// The returned unsubscribe function stops delivery; it never returns an error
// for an already-closed connection so callers can call it unconditionally
// during shutdown.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) (unsubscribe func(), err error) {
	sub, err := c.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("bus unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}, nil
}

// IsConnected reports whether the underlying connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Close drains and closes the underlying connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("bus drain failed", zap.Error(err))
	}
	c.conn.Close()
}
