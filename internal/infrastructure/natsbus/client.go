package natsbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/relay-core/internal/infrastructure/config"
)

// MessageHandler has the same shape as mqtt.MessageHandler so both clients
// satisfy one bus interface.
type MessageHandler = func(topic string, payload []byte) error

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// Client is a NATS connection with topic-style Publish/Subscribe.
type Client struct {
	nc *nats.Conn

	mu     sync.Mutex
	subs   map[string]*nats.Subscription
	logger Logger
}

// Connect dials the server named in cfg.URL with reconnect settings from config.yaml.
func Connect(cfg config.NATSConfig) (*Client, error) {
	c := &Client{subs: make(map[string]*nats.Subscription)}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if l := c.getLogger(); l != nil && err != nil {
				l.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if l := c.getLogger(); l != nil {
				l.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.nc = nc
	return c, nil
}

// SetLogger sets a logger for handler errors and connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Publish sends payload on the subject derived from topic.
// qos and retained have no NATS equivalent and are ignored.
func (c *Client) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.nc.Publish(ToSubject(topic), payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. Handlers receive the topic form of
// the concrete subject. Subscribing twice to the same topic replaces the
// earlier subscription.
func (c *Client) Subscribe(topic string, _ byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub, err := c.nc.Subscribe(ToSubject(topic), c.wrapHandler(handler))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.mu.Lock()
	old := c.subs[topic]
	c.subs[topic] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe() //nolint:errcheck // replaced subscription
	}
	return nil
}

// Unsubscribe drops the subscription for topic, if any.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	sub := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// HealthCheck reports ErrNotConnected when the server link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nats health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("NATS handler panic recovered", "subject", msg.Subject, "panic", r)
				}
			}
		}()

		if err := handler(FromSubject(msg.Subject), msg.Data); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("NATS handler returned error", "subject", msg.Subject, "error", err)
			}
		}
	}
}
