package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/klaviyo-relay/internal/config"
	"github.com/telhawk-systems/klaviyo-relay/internal/logging"
)

// NATSConfig holds NATS client configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration
}

// NATSConfigFrom maps the loaded settings onto a client config.
func NATSConfigFrom(c config.NATSConfig) NATSConfig {
	return NATSConfig{
		URL:           c.URL,
		Name:          "klaviyo-relay",
		MaxReconnects: c.MaxReconnects,
		ReconnectWait: c.ReconnectWait,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher implements Publisher on a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the server named by cfg.
func NewNATSPublisher(cfg NATSConfig, logger *logging.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.Default()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends data to subject, with headers when any were given.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := applyOptions(opts)
	msg := &nats.Msg{Subject: subject, Data: data}
	if len(o.headers) > 0 {
		msg.Header = make(nats.Header)
		for k, v := range o.headers {
			msg.Header.Set(k, v)
		}
	}
	return p.conn.PublishMsg(msg)
}

// Close drains the connection so buffered notifications are flushed.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// IsConnected returns true if connected to NATS.
func (p *NATSPublisher) IsConnected() bool {
	return p.conn.IsConnected()
}
