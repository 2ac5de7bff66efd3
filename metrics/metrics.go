// Package metrics instruments publishers and handlers with Prometheus
// counters and latency histograms.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

const namespace = "eventbus"

// Collectors holds the bus metrics registered on one registry.
type Collectors struct {
	published       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	publishLatency  *prometheus.HistogramVec
	handled         *prometheus.CounterVec
	handleLatency   *prometheus.HistogramVec
}

// NewCollectors registers the bus metrics on reg, or on the default registerer when reg is nil.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	f := promauto.With(reg)

	return &Collectors{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to a publisher successfully, by topic",
		}, []string{"bus", "topic"}),
		publishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Publish calls that returned an error, by error code",
		}, []string{"bus", "code"}),
		publishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent in a publish call",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"bus"}),
		handled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Events delivered to a handler, by topic and outcome",
		}, []string{"handler", "topic", "outcome"}),
		handleLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent in a handler",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"handler"}),
	}
}

// Publisher wraps p so that every call is counted under name.
func (c *Collectors) Publisher(name string, p cbus.Publisher) cbus.Publisher {
	return &publisher{name: name, next: p, c: c}
}

// Handler wraps h so that every delivery is counted under name.
func (c *Collectors) Handler(name string, h cbus.Handler) cbus.Handler {
	return cbus.HandlerFunc(func(ctx context.Context, e *event.Event) error {
		start := time.Now()
		err := h.Handle(ctx, e)

		c.handleLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}

		c.handled.WithLabelValues(name, e.Topic(), outcome).Inc()

		return err
	})
}

type publisher struct {
	name string
	next cbus.Publisher
	c    *Collectors
}

func (p *publisher) Publish(ctx context.Context, events ...*event.Event) error {
	start := time.Now()
	err := p.next.Publish(ctx, events...)

	p.c.publishLatency.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

	if err != nil {
		code := berr.CodeOf(err)
		if code == "" {
			code = "unknown"
		}

		p.c.publishFailures.WithLabelValues(p.name, code).Inc()

		return err
	}

	for _, e := range events {
		p.c.published.WithLabelValues(p.name, e.Topic()).Inc()
	}

	return nil
}
