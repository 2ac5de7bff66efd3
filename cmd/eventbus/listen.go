package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/event"
)

func newListenCmd(a *app) *cobra.Command {
	var (
		pattern string
		dedup   bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every event matching a pattern until interrupted",
		Example: `  eventbus listen --pattern 'order.*'
  eventbus listen --pattern 'order.>' --group audit --dedup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !event.ValidPattern(pattern) {
				return errors.New("--pattern must be a non-empty dot separated pattern")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, cleanup, err := a.openBus()
			if err != nil {
				return err
			}
			defer cleanup()

			h := a.metrics.Handler("listen", printer(cmd.OutOrStdout()))

			if dedup {
				var release func()
				h, release, err = a.dedup(ctx, h)
				if err != nil {
					return err
				}
				defer release()
			}

			if a.cfg.MetricsAddr != "" {
				shutdown := a.serveMetrics(ctx)
				defer shutdown()
			}

			if err := b.Subscribe(ctx, pattern, h); err != nil {
				return err
			}

			group := a.cfg.Group
			if g, ok := b.(grouped); ok {
				group = g.Group()
			}

			a.logger.InfoContext(ctx, "listening", "backend", a.cfg.Backend, "pattern", pattern, "group", group)
			<-ctx.Done()
			a.logger.InfoContext(context.WithoutCancel(ctx), "shutting down")

			return b.Close()
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "subject pattern: '*' matches one part, a trailing '>' the rest")
	cmd.Flags().BoolVar(&dedup, "dedup", false, "skip event ids already handled (shared through Redis when configured)")

	return cmd
}

// grouped is implemented by every distributed bus.
type grouped interface{ Group() string }

// line is the printed form of a delivered event.
type line struct {
	ID        string          `json:"id"`
	EntityID  string          `json:"entity_id"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// printer writes one JSON line per event. Non-JSON payloads are printed as strings.
func printer(w io.Writer) cbus.Handler {
	var mu sync.Mutex
	enc := json.NewEncoder(w)

	return cbus.HandlerFunc(func(_ context.Context, e *event.Event) error {
		payload := e.Payload()
		if !json.Valid(payload) {
			quoted, err := json.Marshal(string(payload))
			if err != nil {
				return err
			}
			payload = quoted
		}

		mu.Lock()
		defer mu.Unlock()

		return enc.Encode(line{
			ID:        e.ID(),
			EntityID:  e.EntityID(),
			Topic:     e.Topic(),
			Timestamp: e.Timestamp(),
			Payload:   payload,
		})
	})
}

func (a *app) serveMetrics(ctx context.Context) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "metrics server", "error", err)
		}
	}()

	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}
