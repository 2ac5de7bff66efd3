package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c natsClient) QueueSubscribe(subject, queue string) (Subscription, error) {
	sub, err := c.nc.QueueSubscribeSync(subject, queue)
	if err != nil {
		return nil, err
	}

	// interest must reach the server before the caller starts publishing
	if err := c.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}

	return natsSubscription{sub: sub}, nil
}

type natsSubscription struct{ sub *nats.Subscription }

func (s natsSubscription) Next(ctx context.Context) (Msg, error) {
	m, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return Msg{}, fmt.Errorf("%w: %w", ErrStreamClosed, err)
		}

		return Msg{}, err
	}

	var headers map[string]string
	if len(m.Header) > 0 {
		headers = make(map[string]string, len(m.Header))
		for k := range m.Header {
			headers[k] = m.Header.Get(k)
		}
	}

	return Msg{Subject: m.Subject, Data: m.Data, Headers: headers}, nil
}

func (s natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return ErrStreamClosed
	}

	return err
}

// NewWithNATS creates a real NATS connection and returns a Bus and a cleanup.
// The cleanup closes the bus before the connection.
func NewWithNATS(cfg Config, group string, opts ...Option) (*Bus, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrInvalidConfig)
	}

	nopts := []nats.Option{}
	if cfg.Name != "" {
		nopts = append(nopts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		nopts = append(nopts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		nopts = append(nopts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	if cfg.ReconnectWait > 0 {
		nopts = append(nopts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	nc, err := nats.Connect(cfg.URL, nopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrUnavailable, err)
	}

	b := New(natsClient{nc: nc}, group, opts...)
	cleanup := func() {
		_ = b.Close()

		if !nc.IsClosed() {
			_ = nc.Flush() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return b, cleanup, nil
}
