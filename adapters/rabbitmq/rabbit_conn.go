package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/next-trace/scg-event-bus/adapters/transport"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Concrete AMQP connection-backed client with auto-reconnect.

const (
	DefaultExchange    = "events"
	exchangeKind       = "topic"
	defaultPrefetch    = 32
	defaultConnTimeout = 10 * time.Second
)

var errConnectionLost = errors.New("rabbitmq connection lost")

type Config struct {
	URL string
	// ConnTimeout bounds one dial attempt. Defaults to 10s.
	ConnTimeout time.Duration
	// Exchange defaults to DefaultExchange.
	Exchange string
	// Prefetch bounds unacked deliveries per consumer. Defaults to 32.
	Prefetch int
}

type reconnectingClient struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	// lastErr is the last dial failure or connection loss, nil while connected
	// and before the first attempt.
	lastErr error
	closed  chan struct{}
	changed chan struct{} // closed and replaced on every state change
}

func newReconnectingClient(cfg Config, logger *slog.Logger) (*reconnectingClient, func()) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}

	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}

	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	rc := &reconnectingClient{
		cfg:     cfg,
		logger:  logger,
		closed:  make(chan struct{}),
		changed: make(chan struct{}),
	}
	go rc.run()
	cleanup := func() { rc.close() }
	return rc, cleanup
}

// connection returns the live connection. It waits for the first dial attempt
// only; while the broker is unreachable it fails with the last dial error.
func (rc *reconnectingClient) connection(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	for {
		rc.mu.RLock()
		conn, ch, lastErr, changed := rc.conn, rc.ch, rc.lastErr, rc.changed
		rc.mu.RUnlock()

		if conn != nil && ch != nil {
			return conn, ch, nil
		}

		if lastErr != nil {
			return nil, nil, fmt.Errorf("rabbitmq not connected: %w", lastErr)
		}

		select {
		case <-changed:
		case <-rc.closed:
			return nil, nil, fmt.Errorf("%w: rabbitmq client closed", berr.ErrBusClosed)
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (rc *reconnectingClient) setState(conn *amqp.Connection, ch *amqp.Channel, err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.conn, rc.ch, rc.lastErr = conn, ch, err
	close(rc.changed)
	rc.changed = make(chan struct{})
}

func (rc *reconnectingClient) Publish(ctx context.Context, m PubMsg) error {
	_, ch, err := rc.connection(ctx)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(
		ctx,
		rc.cfg.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      toTable(m.Headers),
			ContentType:  "application/json",
			Body:         m.Body,
		},
	)
}

func (rc *reconnectingClient) Consume(ctx context.Context, queue, bindingKey string) (<-chan Delivery, error) {
	ch, msgs, err := rc.openConsumer(ctx, queue, bindingKey)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)

	go func() {
		defer close(out)

		for {
			lost := rc.pump(ctx, msgs, out)
			_ = ch.Close()

			if !lost {
				return
			}

			// the broker dropped us; consume again once reconnected
			for {
				ch, msgs, err = rc.openConsumer(ctx, queue, bindingKey)
				if err == nil {
					break
				}

				t := time.NewTimer(time.Second)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-rc.closed:
					t.Stop()
					return
				case <-t.C:
				}
			}
		}
	}()

	return out, nil
}

// pump forwards deliveries until msgs closes (true) or the consumer stops (false).
func (rc *reconnectingClient) pump(ctx context.Context, msgs <-chan amqp.Delivery, out chan<- Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-rc.closed:
			return false
		case m, ok := <-msgs:
			if !ok {
				return true
			}

			select {
			case out <- fromAMQP(m):
			case <-ctx.Done():
				_ = m.Nack(false, true)
				return false
			case <-rc.closed:
				return false
			}
		}
	}
}

// openConsumer uses a dedicated channel per consumer so that prefetch and
// channel errors stay local to one subscription.
func (rc *reconnectingClient) openConsumer(ctx context.Context, queue, bindingKey string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	conn, _, err := rc.connection(ctx)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	setup := func() (<-chan amqp.Delivery, error) {
		if err := ch.Qos(rc.cfg.Prefetch, 0, false); err != nil {
			return nil, err
		}

		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return nil, err
		}

		if err := ch.QueueBind(queue, bindingKey, rc.cfg.Exchange, false, nil); err != nil {
			return nil, err
		}

		return ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	}

	msgs, err := setup()
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	return ch, msgs, nil
}

func (rc *reconnectingClient) run() {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	// #nosec G404 -- non-crypto RNG is acceptable for backoff jitter
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // non-crypto RNG is acceptable for backoff jitter

	reconnect := func() (*amqp.Connection, *amqp.Channel, error) {
		conn, err := amqp.DialConfig(rc.cfg.URL, amqp.Config{
			Locale:     "en_US",
			Properties: amqp.Table{"product": "scg-event-bus"},
			Dial:       amqp.DefaultDial(rc.cfg.ConnTimeout),
		})
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if err := ch.ExchangeDeclare(
			rc.cfg.Exchange,
			exchangeKind,
			true,
			false,
			false,
			false,
			nil,
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
		return conn, ch, nil
	}

	for {
		select {
		case <-rc.closed:
			return
		default:
		}

		conn, ch, err := reconnect()
		if err != nil {
			// exponential backoff with jitter
			jitter := time.Duration(rng.Int63n(int64(backoff / 2)))
			sleep := backoff + jitter/2
			if sleep > maxBackoff {
				sleep = maxBackoff
			}
			rc.logger.Warn("rabbitmq connect failed", "error", err, "retry_in", sleep)
			rc.setState(nil, nil, err)

			t := time.NewTimer(sleep)
			select {
			case <-rc.closed:
				t.Stop()
				return
			case <-t.C:
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}

		backoff = time.Second

		// register before publishing the connection so no close is missed
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		rc.setState(conn, ch, nil)
		rc.logger.Debug("rabbitmq connected", "exchange", rc.cfg.Exchange)

		select {
		case <-rc.closed:
			_ = ch.Close()
			_ = conn.Close()
			return
		case amqpErr, ok := <-notify:
			var cause error = errConnectionLost
			if ok && amqpErr != nil {
				cause = fmt.Errorf("%w: %w", errConnectionLost, amqpErr)
			}

			rc.logger.Warn("rabbitmq connection lost", "error", cause)
			rc.setState(nil, nil, cause)

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rc *reconnectingClient) close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	select {
	case <-rc.closed:
		// already closed
		return
	default:
		close(rc.closed)
	}
	if rc.ch != nil {
		_ = rc.ch.Close()
		rc.ch = nil
	}
	if rc.conn != nil {
		_ = rc.conn.Close()
		rc.conn = nil
	}
}

func toTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}

	t := make(amqp.Table, len(headers))
	for k, v := range headers {
		t[k] = v
	}

	return t
}

func fromAMQP(m amqp.Delivery) Delivery {
	var headers map[string]string
	if len(m.Headers) > 0 {
		headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return Delivery{
		RoutingKey: m.RoutingKey,
		Body:       m.Body,
		Headers:    headers,
		Ack:        func() error { return m.Ack(false) },
		Reject:     func() error { return m.Nack(false, false) },
	}
}

// NewWithAMQPConn dials RabbitMQ with auto-reconnect, declares the events
// exchange, and returns a Bus and a cleanup that closes the bus first.
func NewWithAMQPConn(cfg Config, group string, opts ...Option) (*Bus, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrInvalidConfig)
	}

	client, closeClient := newReconnectingClient(cfg, transport.NewOptions(opts...).Logger)
	b := New(client, group, opts...)
	cleanup := func() {
		_ = b.Close()
		closeClient()
	}

	return b, cleanup, nil
}
