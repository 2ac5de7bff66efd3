// Command eventbus publishes and listens to events on a NATS, RabbitMQ or
// Kafka backed event bus.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/next-trace/scg-event-bus/metrics"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	configPath string
	cfg        Config
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Collectors
}

func newRootCmd() *cobra.Command {
	a := &app{}

	var (
		backend   string
		url       string
		group     string
		logFormat string
		timeout   time.Duration
	)

	root := &cobra.Command{
		Use:           "eventbus <command>",
		Short:         "Publish and listen to events on a distributed event bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.Backend = backend
			}
			if flags.Changed("url") {
				cfg.URL = url
			}
			if flags.Changed("group") {
				cfg.Group = group
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}

			cfg = cfg.withBackendDefaults()
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logger
			a.registry = prometheus.NewRegistry()
			a.metrics = metrics.NewCollectors(a.registry)

			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", envOrDefault("EVENTBUS_CONFIG", "eventbus.toml"), "TOML config file")
	pf.StringVar(&backend, "backend", "", "broker backend (nats, rabbitmq or kafka)")
	pf.StringVar(&url, "url", "", "broker URL (kafka: comma separated brokers)")
	pf.StringVar(&group, "group", "", "consumer group")
	pf.StringVar(&logFormat, "log-format", "", "log format (text or json)")
	pf.DurationVar(&timeout, "timeout", 0, "bound on connecting and publishing (default 10s)")

	root.AddCommand(newPublishCmd(a), newListenCmd(a))

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
