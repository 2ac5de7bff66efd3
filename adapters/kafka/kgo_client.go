package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	berr "github.com/next-trace/scg-event-bus/contract/errors"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Concrete franz-go based constructor, writer and group reader.

type SASLConfig struct {
	Mechanism string // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	Username  string
	Password  string
}

type Config struct {
	Brokers  []string
	TLS      *tls.Config
	SASL     *SASLConfig
	ClientID string
	// Acks is "all" (default), "leader" or "none".
	Acks string
	// FromStart makes new consumer groups read topics from the beginning
	// instead of only new records.
	FromStart bool
	// AutoCreateTopics lets the producer create missing topics.
	AutoCreateTopics bool
	// MetadataMaxAge bounds how long a regex reader takes to see new topics.
	MetadataMaxAge time.Duration
	// DeliveryTimeout bounds how long a publish waits for the cluster before it
	// fails. Defaults to 10s.
	DeliveryTimeout time.Duration
}

const defaultDeliveryTimeout = 10 * time.Second

func (cfg Config) baseOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if cfg.MetadataMaxAge > 0 {
		opts = append(opts, kgo.MetadataMaxAge(cfg.MetadataMaxAge))
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mech, err := cfg.SASL.mechanism()
		if err != nil {
			return nil, err
		}

		opts = append(opts, kgo.SASL(mech))
	}

	return opts, nil
}

func (s SASLConfig) mechanism() (sasl.Mechanism, error) {
	switch strings.ToUpper(s.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: s.Username, Pass: s.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: s.Username, Pass: s.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: s.Username, Pass: s.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", s.Mechanism)
	}
}

func (cfg Config) producerOpts() []kgo.Opt {
	var opts []kgo.Opt

	switch strings.ToLower(cfg.Acks) {
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	if cfg.AutoCreateTopics {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}

	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	opts = append(opts, kgo.RecordDeliveryTimeout(timeout))

	return opts
}

type kgoClient struct {
	cfg  Config
	base []kgo.Opt
	cl   *kgo.Client
}

func (c *kgoClient) Write(ctx context.Context, rec Record) error {
	r := &kgo.Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
	if len(rec.Headers) > 0 {
		r.Headers = make([]kgo.RecordHeader, 0, len(rec.Headers))
		for k, v := range rec.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return c.cl.ProduceSync(ctx, r).FirstErr()
}

func (c *kgoClient) NewReader(group, topicRegex string) (Reader, error) {
	reset := kgo.NewOffset().AtEnd()
	if c.cfg.FromStart {
		reset = kgo.NewOffset().AtStart()
	}

	opts := append(append([]kgo.Opt(nil), c.base...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topicRegex),
		kgo.ConsumeRegex(),
		kgo.ConsumeResetOffset(reset),
	)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return kgoReader{cl: cl}, nil
}

type kgoReader struct{ cl *kgo.Client }

func (r kgoReader) Poll(ctx context.Context) ([]Record, error) {
	fetches := r.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrStreamClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error

	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
	})

	recs := make([]Record, 0, fetches.NumRecords())

	fetches.EachRecord(func(r *kgo.Record) {
		var headers map[string]string
		if len(r.Headers) > 0 {
			headers = make(map[string]string, len(r.Headers))
			for _, h := range r.Headers {
				headers[h.Key] = string(h.Value)
			}
		}

		recs = append(recs, Record{Topic: r.Topic, Key: r.Key, Value: r.Value, Headers: headers})
	})

	return recs, errors.Join(errs...)
}

func (r kgoReader) Close() { r.cl.Close() }

// NewWithKgo builds a franz-go client based Bus. The returned cleanup closes the
// bus, its readers and the producer client.
func NewWithKgo(cfg Config, group string, opts ...Option) (*Bus, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrInvalidConfig)
	}

	base, err := cfg.baseOpts()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", berr.ErrInvalidConfig, err)
	}

	cl, err := kgo.NewClient(append(append([]kgo.Opt(nil), base...), cfg.producerOpts()...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrInvalidConfig, err)
	}

	b := New(&kgoClient{cfg: cfg, base: base, cl: cl}, group, opts...)
	cleanup := func() {
		_ = b.Close()
		cl.Close()
	}

	return b, cleanup, nil
}
