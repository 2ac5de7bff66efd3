package inmemory

import (
	"context"
	"sync"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
)

// Publisher is a thread-safe in-memory implementation of cbus.Publisher.
// It records published events for testing and examples. Set Err to make every
// Publish fail.
type Publisher struct {
	mu     sync.Mutex
	events []*event.Event

	Err error
}

var _ cbus.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(ctx context.Context, events ...*event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}

	p.events = append(p.events, events...)

	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]*event.Event(nil), p.events...)
}

// Topics returns the topics of published events in order.
func (p *Publisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Topic())
	}

	return out
}

// Reset forgets recorded events.
func (p *Publisher) Reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// Recorder is a thread-safe cbus.Handler that records deliveries and signals
// each one on a channel, which makes it convenient for asynchronous adapters.
type Recorder struct {
	mu     sync.Mutex
	events []*event.Event
	seen   chan *event.Event

	Err error
}

var _ cbus.Handler = (*Recorder)(nil)

// NewRecorder creates a Recorder whose Seen channel buffers up to size deliveries.
func NewRecorder(size int) *Recorder {
	return &Recorder{seen: make(chan *event.Event, size)}
}

func (r *Recorder) Handle(_ context.Context, e *event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	err := r.Err
	r.mu.Unlock()

	select {
	case r.seen <- e:
	default:
	}

	return err
}

// Seen delivers every handled event while the buffer has room.
func (r *Recorder) Seen() <-chan *event.Event { return r.seen }

// Events returns a copy of everything handled so far.
func (r *Recorder) Events() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*event.Event(nil), r.events...)
}
