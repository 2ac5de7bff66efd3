package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-event-bus/event"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		topic  string
		entity string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one event",
		Example: `  eventbus publish --topic order.created --entity order-42 --data '{"sku":"A1"}'
  eventbus publish --backend kafka --url broker1:9092,broker2:9092 --topic order.paid --entity order-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" || entity == "" {
				return fmt.Errorf("--topic and --entity are required")
			}

			if !json.Valid([]byte(data)) {
				return fmt.Errorf("--data must be valid JSON")
			}

			e, err := event.Create(entity, topic, json.RawMessage(data))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Timeout)
			defer cancel()

			b, cleanup, err := a.openBus()
			if err != nil {
				return err
			}
			defer cleanup()

			p := a.metrics.Publisher(a.cfg.Backend, b)
			if err := p.Publish(ctx, e); err != nil {
				return fmt.Errorf("publish %s: %w", e.Topic(), err)
			}

			a.logger.DebugContext(ctx, "published", "id", e.ID(), "topic", e.Topic())
			fmt.Fprintln(cmd.OutOrStdout(), e.ID())

			return nil
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "event topic, e.g. order.created")
	cmd.Flags().StringVar(&entity, "entity", "", "id of the entity the event is about")
	cmd.Flags().StringVar(&data, "data", "null", "JSON payload")

	return cmd
}
