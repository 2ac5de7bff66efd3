package kafka_test

import (
	"context"
	"errors"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-event-bus/adapters/kafka"
	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	berr "github.com/next-trace/scg-event-bus/contract/errors"
	"github.com/next-trace/scg-event-bus/event"
)

// Unified Kafka adapter tests (single file).

type fakeReader struct {
	group string
	regex string
	polls chan []kafka.Record
	errs  chan error
	once  sync.Once
	done  chan struct{}
}

func (r *fakeReader) Poll(ctx context.Context) ([]kafka.Record, error) {
	select {
	case recs := <-r.polls:
		return recs, nil
	case err := <-r.errs:
		return nil, err
	case <-r.done:
		return nil, kafka.ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeReader) Close() { r.once.Do(func() { close(r.done) }) }

type fakeClient struct {
	mu      sync.Mutex
	writes  []kafka.Record
	readers []*fakeReader
	err     error
	subErr  error
}

func (f *fakeClient) Write(_ context.Context, rec kafka.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.writes = append(f.writes, rec)

	for _, r := range f.readers {
		if regexp.MustCompile(r.regex).MatchString(rec.Topic) {
			r.polls <- []kafka.Record{rec}
		}
	}

	return nil
}

func (f *fakeClient) NewReader(group, topicRegex string) (kafka.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subErr != nil {
		return nil, f.subErr
	}

	r := &fakeReader{
		group: group,
		regex: topicRegex,
		polls: make(chan []kafka.Record, 8),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	f.readers = append(f.readers, r)

	return r, nil
}

func mustEvent(t *testing.T, entityID, topic string, payload any) *event.Event {
	t.Helper()

	e, err := event.Create(entityID, topic, payload)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	return e
}

func TestKafka_Publish_KeyedByEntity(t *testing.T) {
	fc := &fakeClient{}
	b := kafka.New(fc, "svc")

	if b.Group() != "svc" {
		t.Fatalf("group=%q", b.Group())
	}

	e := mustEvent(t, "acct-9", "account.opened", map[string]string{"owner": "ada"})
	if err := b.Publish(t.Context(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fc.writes) != 1 {
		t.Fatalf("want 1 write, got %d", len(fc.writes))
	}

	w := fc.writes[0]
	if w.Topic != "account.opened" || string(w.Key) != "acct-9" {
		t.Fatalf("topic=%s key=%s", w.Topic, w.Key)
	}

	if w.Headers["event-id"] != e.ID() {
		t.Fatalf("headers=%v", w.Headers)
	}

	got, err := event.Unmarshal(w.Value)
	if err != nil || got.ID() != e.ID() {
		t.Fatalf("value: %v %v", got, err)
	}
}

func TestKafka_Publish_Errors(t *testing.T) {
	fc := &fakeClient{err: errors.New("not leader")}

	if err := kafka.New(fc, "svc").Publish(t.Context(), mustEvent(t, "a", "x.y", 1)); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	fc = &fakeClient{err: context.Canceled}

	err := kafka.New(fc, "svc").Publish(t.Context(), mustEvent(t, "a", "x.y", 1))
	if !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}

	if err := kafka.New(nil, "svc").Publish(t.Context(), mustEvent(t, "a", "x.y", 1)); !errors.Is(err, berr.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable for nil client, got %v", err)
	}
}

func TestKafka_Subscribe_DeliversAndSkipsBadRecords(t *testing.T) {
	fc := &fakeClient{}

	var (
		mu       sync.Mutex
		failures []error
	)

	b := kafka.New(fc, "svc", kafka.WithErrorHandler(func(_ context.Context, _ string, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}))
	t.Cleanup(func() { _ = b.Close() })

	ch := make(chan *event.Event, 2)

	err := b.Subscribe(t.Context(), "account.*", cbus.HandlerFunc(func(_ context.Context, e *event.Event) error {
		ch <- e
		return nil
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	r := fc.readers[0]
	if r.group != "svc.account.*" || r.regex != `^account\.[^.]+$` {
		t.Fatalf("group=%s regex=%s", r.group, r.regex)
	}

	r.errs <- errors.New("fetch: broker unavailable")
	r.polls <- []kafka.Record{{Topic: "account.opened", Value: []byte("garbage")}}

	e := mustEvent(t, "acct-1", "account.opened", 1)
	if err := b.Publish(t.Context(), e, mustEvent(t, "x", "invoice.paid", 1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID() != e.ID() {
			t.Fatalf("got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}

	mu.Lock()
	n := len(failures)
	mu.Unlock()

	// fetch errors and undecodable records race on the same reader; both surface
	deadline := time.Now().Add(2 * time.Second)
	for n < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		n = len(failures)
		mu.Unlock()
	}

	if n != 2 {
		t.Fatalf("failures=%d, want 2", n)
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected delivery %s", extra)
	default:
	}
}

func TestKafka_Subscribe_Failures(t *testing.T) {
	noop := cbus.HandlerFunc(func(context.Context, *event.Event) error { return nil })

	if err := kafka.New(&fakeClient{}, "svc").Subscribe(t.Context(), "a..b", noop); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}

	fc := &fakeClient{subErr: errors.New("group authorization failed")}
	if err := kafka.New(fc, "svc").Subscribe(t.Context(), "a.b", noop); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}
}

func TestKafka_Close_ReleasesReaders(t *testing.T) {
	fc := &fakeClient{}
	b := kafka.New(fc, "svc")

	if err := b.Subscribe(t.Context(), "a.>", cbus.HandlerFunc(func(context.Context, *event.Event) error { return nil })); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-fc.readers[0].done:
	default:
		t.Fatalf("reader left open")
	}

	if err := b.Subscribe(t.Context(), "a.b", cbus.HandlerFunc(func(context.Context, *event.Event) error { return nil })); !errors.Is(err, berr.ErrBusClosed) {
		t.Fatalf("want ErrBusClosed, got %v", err)
	}
}

func TestTopicRegex(t *testing.T) {
	cases := []struct {
		pattern string
		match   []string
		miss    []string
	}{
		{"order.created", []string{"order.created"}, []string{"order.createdx", "order.created.v2", "orderXcreated"}},
		{"order.*", []string{"order.created", "order.paid"}, []string{"order", "order.line.added"}},
		{"order.>", []string{"order.created", "order.line.added"}, []string{"order", "invoice.paid"}},
		{"*.paid", []string{"invoice.paid"}, []string{"a.b.paid"}},
	}

	for _, tc := range cases {
		re := regexp.MustCompile(kafka.TopicRegex(tc.pattern))

		for _, topic := range tc.match {
			if !re.MatchString(topic) {
				t.Errorf("%s should match %s", tc.pattern, topic)
			}
		}

		for _, topic := range tc.miss {
			if re.MatchString(topic) {
				t.Errorf("%s should not match %s", tc.pattern, topic)
			}
		}
	}
}

func TestNewWithKgo_Validation(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}, "svc"); !errors.Is(err, berr.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}

	cfg := kafka.Config{
		Brokers: []string{"127.0.0.1:9092"},
		SASL:    &kafka.SASLConfig{Mechanism: "GSSAPI"},
	}

	_, _, err := kafka.NewWithKgo(cfg, "svc")
	if err == nil || !strings.Contains(err.Error(), "GSSAPI") {
		t.Fatalf("want unsupported mechanism error, got %v", err)
	}
}

func TestNewWithKgo_UnreachableClusterFailsPublish(t *testing.T) {
	b, cleanup, err := kafka.NewWithKgo(kafka.Config{
		Brokers:         []string{"127.0.0.1:1"},
		DeliveryTimeout: 500 * time.Millisecond,
	}, "svc")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(cleanup)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Second)
	defer cancel()

	err = b.Publish(ctx, mustEvent(t, "acct-1", "account.opened", 1))
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed before the context deadline, got %v", err)
	}
}

// Runs against a live cluster when KAFKA_BROKERS is set.
func TestKafka_LiveCluster_RoundTrip(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}

	b, cleanup, err := kafka.NewWithKgo(kafka.Config{
		Brokers:          strings.Split(brokers, ","),
		ClientID:         "scg-event-bus-test",
		AutoCreateTopics: true,
		FromStart:        true,
	}, "it-"+time.Now().Format("150405.000"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(cleanup)

	e := mustEvent(t, "acct-1", "it.account.opened", 1)
	if err := b.Publish(t.Context(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ch := make(chan *event.Event, 1)

	err = b.Subscribe(t.Context(), "it.account.*", cbus.HandlerFunc(func(_ context.Context, got *event.Event) error {
		if got.ID() == e.ID() {
			select {
			case ch <- got:
			default:
			}
		}

		return nil
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(30 * time.Second):
		t.Fatalf("timed out waiting for record")
	}
}
