package main

import (
	"context"

	"github.com/next-trace/scg-event-bus/adapters/kafka"
	"github.com/next-trace/scg-event-bus/adapters/nats"
	"github.com/next-trace/scg-event-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-event-bus/adapters/tracing"
	"github.com/next-trace/scg-event-bus/adapters/transport"
	"github.com/next-trace/scg-event-bus/cache"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
)

// openBus connects to the configured backend.
func (a *app) openBus() (cbus.Bus, func(), error) {
	opts := []transport.Option{
		transport.WithLogger(a.logger),
		transport.WithPropagator(tracing.Global()),
	}

	cfg := a.cfg

	switch cfg.Backend {
	case "rabbitmq":
		return asBus(rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:         cfg.URL,
			ConnTimeout: min(cfg.RabbitMQ.ConnTimeout, cfg.Timeout),
			Exchange:    cfg.RabbitMQ.Exchange,
			Prefetch:    cfg.RabbitMQ.Prefetch,
		}, cfg.Group, opts...))
	case "kafka":
		return asBus(kafka.NewWithKgo(kafka.Config{
			Brokers:          cfg.brokers(),
			ClientID:         cfg.Kafka.ClientID,
			Acks:             cfg.Kafka.Acks,
			FromStart:        cfg.Kafka.FromStart,
			AutoCreateTopics: cfg.Kafka.AutoCreateTopics,
			DeliveryTimeout:  cfg.Timeout,
		}, cfg.Group, opts...))
	default:
		return asBus(nats.NewWithNATS(nats.Config{
			URL:           cfg.URL,
			Name:          cfg.NATS.Name,
			ConnTimeout:   min(cfg.NATS.ConnTimeout, cfg.Timeout),
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, cfg.Group, opts...))
	}
}

func asBus[B cbus.Bus](b B, cleanup func(), err error) (cbus.Bus, func(), error) {
	if err != nil {
		return nil, nil, err
	}

	return b, cleanup, nil
}

// dedup wraps h with delivery deduplication: Redis backed when configured so
// that every member of the group shares claims, in-process otherwise.
func (a *app) dedup(ctx context.Context, h cbus.Handler) (cbus.Handler, func(), error) {
	if a.cfg.Redis.Address == "" {
		claims := cache.NewInMemory[string, bool]()
		return cache.Dedup(claims, claims.Delete, h), func() {}, nil
	}

	claims, cleanup, err := cache.DialRedis[bool](ctx, cache.RedisConfig{
		Address:  a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		Prefix:   a.cfg.Redis.Prefix + a.cfg.Group + ":",
		TTL:      a.cfg.Redis.TTL,
	})
	if err != nil {
		return nil, nil, err
	}

	return cache.Dedup(claims, claims.Delete, h), cleanup, nil
}
