// Package broker drives the reconnect-with-backoff loop around a SWIM
// message-broker session. The broker client library itself — the TLS
// SMF session, its delivery callback, and its per-message ack — is an
// external collaborator and is not implemented here; Session is its
// interface boundary. Consumer owns only retry policy, raw-message
// construction, and ack/nack bookkeeping, the same separation the
// teacher draws between xpconnect's dial loop and the websocket library
// it dials.
package broker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/config"
	"github.com/benwashere/swimfeed/internal/errs"
	"github.com/benwashere/swimfeed/internal/events"
)

// Delivery is one payload handed to a Handler by a Session, along with
// the ack/nack the Handler must eventually call exactly once.
type Delivery struct {
	Topic   string
	Payload []byte

	// Ack acknowledges receipt so the broker will not redeliver.
	Ack func()
	// Nack leaves the message unacknowledged so the broker redelivers
	// it, used when emission onto the bus fails.
	Nack func()
}

// Session is the external-collaborator boundary for a single broker
// connection: connect, receive deliveries through a callback, ack them,
// and disconnect. A production binding wraps a real SMF client library;
// tests and local runs can substitute a fake.
type Session interface {
	// Connect establishes the TLS session and binds the consumer flow
	// to cfg.Queue with client-acknowledge mode. It must not return
	// until the session is ready to deliver, or an error prevents that.
	Connect(ctx context.Context, cfg config.BrokerConfig) error

	// Receive blocks delivering payloads to handle until ctx ends or an
	// unrecoverable session error occurs, in which case it returns that
	// error so the caller can reconnect.
	Receive(ctx context.Context, handle func(Delivery)) error

	// Close releases the session's resources. Safe to call after a
	// failed or successful Connect.
	Close() error
}

// Consumer maintains a Session for one named feed (e.g. "sfdps",
// "stdds"), publishing each delivered payload as a Raw Message and
// reconnecting with backoff on session failure.
type Consumer struct {
	Name    string
	Cfg     config.BrokerConfig
	Session Session
	Service events.ServiceType // forced service type, or "" to classify by topic
	Publish func(events.RawMessage)
	Log     *logrus.Entry
}

// Run blocks until ctx is cancelled or the reconnect budget is
// exhausted, in which case it returns a BrokerFatal error so the caller
// can exit with the broker-failure exit code.
func (c *Consumer) Run(ctx context.Context) error {
	delay := c.Cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		attempts++
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			// Receive returned cleanly without ctx ending: the session
			// ended on its own, treat it as transient and reconnect.
			err = errs.BrokerTransient(c.Name, nil)
		}

		c.Log.WithError(err).WithField("attempt", attempts).Warn("broker: session ended, reconnecting")

		if c.Cfg.MaxAttempts > 0 && attempts >= c.Cfg.MaxAttempts {
			return errs.BrokerFatal(c.Name, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) error {
	if err := c.Session.Connect(ctx, c.Cfg); err != nil {
		return errs.BrokerTransient(c.Name, err)
	}
	defer c.Session.Close()

	return c.Session.Receive(ctx, func(d Delivery) {
		svc := c.Service
		if svc == "" {
			svc = events.ClassifyTopic(d.Topic)
		}
		raw := events.RawMessage{
			ReceivedAt: time.Now().UTC(),
			Topic:      d.Topic,
			Service:    svc,
			Payload:    d.Payload,
		}

		defer func() {
			if r := recover(); r != nil {
				c.Log.WithField("topic", d.Topic).Errorf("broker: panic emitting raw message, nacking: %v", r)
				if d.Nack != nil {
					d.Nack()
				}
			}
		}()

		c.Publish(raw)
		if d.Ack != nil {
			d.Ack()
		}
	})
}
