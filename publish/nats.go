package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/use-agent/powerwatch/models"
	"go.opentelemetry.io/otel"
)

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATS publishes snapshot events to a subject.
type NATS struct {
	conn    MsgPublisher
	subject string
	close   func()
}

var _ Publisher = (*NATS)(nil)

// NewNATS publishes on an existing connection.
func NewNATS(conn MsgPublisher, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

// DialNATS connects to url and publishes on subject. The connection
// reconnects indefinitely; Close drains it.
func DialNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("powerwatch"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: connect nats: %w", err)
	}
	n := NewNATS(nc, subject)
	n.close = func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
	return n, nil
}

func (n *NATS) Name() string { return "nats:" + n.subject }

// Publish sends the snapshot event. Trace context from ctx travels in the
// message headers.
func (n *NATS) Publish(ctx context.Context, snap *models.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: n.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Powerwatch-Event", EventSnapshot)
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish: nats %s: %w", n.subject, err)
	}
	return nil
}

// Close drains the connection opened by DialNATS.
func (n *NATS) Close() {
	if n.close != nil {
		n.close()
	}
}

// headerCarrier adapts nats.Msg headers to a propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
