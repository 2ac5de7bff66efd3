package event

import (
	"context"
	"sync"
)

// Publishable is implemented by domain payloads that can be turned into an Event.
// The value itself is serialized as the event payload.
type Publishable interface {
	EntityID() string
	Topic() string
}

type publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// Collector accumulates events recorded during a unit of work so they can be
// published once the work commits. It is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	events []*Event
}

// NewCollector returns a Collector seeded with events.
func NewCollector(events ...*Event) *Collector {
	return &Collector{events: append([]*Event(nil), events...)}
}

// Record builds an Event from p and appends it. Nothing is appended on error.
func (c *Collector) Record(p Publishable) error {
	e, err := Create(p.EntityID(), p.Topic(), p)
	if err != nil {
		return err
	}

	c.Add(e)

	return nil
}

// Add appends already built events.
func (c *Collector) Add(events ...*Event) {
	c.mu.Lock()
	c.events = append(c.events, events...)
	c.mu.Unlock()
}

// All returns a copy of the held events in recording order.
func (c *Collector) All() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*Event(nil), c.events...)
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

// Drain empties the collector and returns what it held, in recording order.
func (c *Collector) Drain() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.events
	c.events = nil

	if events == nil {
		return []*Event{}
	}

	return events
}

// Flush drains the collector and publishes the batch through p.
// The drained events are not restored if publishing fails.
func (c *Collector) Flush(ctx context.Context, p publisher) error {
	events := c.Drain()
	if len(events) == 0 {
		return nil
	}

	return p.Publish(ctx, events...)
}
