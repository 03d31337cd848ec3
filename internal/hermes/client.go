package hermes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config describes the event bus connection.
type Config struct {
	URL        string
	Token      string
	// QueueGroup spreads sync requests across service instances. Outcome
	// subscribers leave it empty so every listener sees every outcome.
	QueueGroup string
}

// Client publishes sync outcomes and receives sync requests over NATS.
type Client struct {
	conn   *nats.Conn
	queue  string
	subs   []*nats.Subscription
	logger *slog.Logger
}

// identified payloads carry a stable id that is sent as the Nats-Msg-Id header,
// letting JetStream streams drop redelivered outcomes.
type identified interface {
	MsgID() string
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("chatsync"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, queue: cfg.QueueGroup, logger: logger}, nil
}

// Publish sends data as JSON on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	if id, ok := data.(identified); ok && id.MsgID() != "" {
		msg.Header.Set(nats.MsgIdHdr, id.MsgID())
	}
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject. Request subjects join the configured
// queue group; wildcard subjects always get a plain subscription.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	cb := func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if c.queue != "" && subject == SubjectSyncRequested {
		sub, err = c.conn.QueueSubscribe(subject, c.queue, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", sub.Queue)
	return nil
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Flush waits for pending publishes to reach the server.
func (c *Client) Flush() error {
	return c.conn.FlushTimeout(2 * time.Second)
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
