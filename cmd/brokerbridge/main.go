package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuongceg/brokerbridge/internal/config"
	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/metrics"
	"github.com/cuongceg/brokerbridge/internal/router"
	"github.com/cuongceg/brokerbridge/internal/stream"
	"github.com/cuongceg/brokerbridge/internal/util"
)

var (
	configPath   string
	strict       bool
	embeddedNats string
	natsStoreDir string
	natsLeaf     string
)

var rootCmd = &cobra.Command{
	Use:   "brokerbridge",
	Short: "Bridge Kafka and RabbitMQ into a shared event pipeline",
	Long: `brokerbridge consumes Kafka topics and RabbitMQ queues, decodes each
message into events and fans them out to Kafka, RabbitMQ and NATS outputs.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every configured bridge until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		uc, err := config.Load(configPath, strict)
		if err != nil {
			return err
		}
		for _, p := range uc.Inputs {
			cfg, err := util.InputConfig(p, strict)
			if err != nil {
				return err
			}
			if err := config.ValidateStruct(cfg); err != nil {
				return fmt.Errorf("input %q: %w", p.Name, err)
			}
		}
		for _, p := range uc.Outputs {
			cfg, err := util.OutputConfig(p, strict)
			if err != nil {
				return err
			}
			if err := config.ValidateStruct(cfg); err != nil {
				return fmt.Errorf("output %q: %w", p.Name, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d inputs, %d outputs\n", len(uc.Inputs), len(uc.Outputs))
		return nil
	},
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a sample configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), sampleConfig)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/bridge.yaml", "path to the YAML configuration")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", true, "reject unknown configuration keys")
	runCmd.Flags().StringVar(&embeddedNats, "embedded-nats", "", "start an in-process NATS server on host:port (development)")
	runCmd.Flags().StringVar(&natsStoreDir, "embedded-nats-store", "", "JetStream store dir for the embedded server")
	runCmd.Flags().StringVar(&natsLeaf, "embedded-nats-leaf", "", "connect the embedded server as a leaf node of this NATS URL")
	rootCmd.AddCommand(runCmd, checkCmd, exampleCmd)
}

func run(parent context.Context) error {
	uc, err := config.Load(configPath, strict)
	if err != nil {
		return err
	}
	logger, closer, err := util.Init(uc.App.LogLevel, uc.App.LogFormat, uc.App.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	if embeddedNats != "" {
		e, err := stream.Start(stream.Options{
			Name:       "brokerbridge",
			Listen:     embeddedNats,
			StoreDir:   natsStoreDir,
			JetStream:  natsStoreDir != "",
			LeafRemote: natsLeaf,
		}, logger)
		if err != nil {
			return fmt.Errorf("embedded nats: %w", err)
		}
		defer e.Close()
		logger.Info().Str("url", e.ClientURL()).Msg("embedded NATS running")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return err
	}
	srv := serveMetrics(uc.App.MetricsAddr, reg, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	env := core.Env{Logger: logger, Metrics: m}
	inputs, outputs, err := util.BuildBridges(uc, env, strict)
	if err != nil {
		return err
	}
	logger.Info().Int("inputs", len(inputs)).Int("outputs", len(outputs)).Msg("bridges created")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := &router.Engine{
		Inputs:          inputs,
		Outputs:         outputs,
		Logger:          logger.With().Str("component", "router").Logger(),
		Metrics:         m,
		Buffer:          uc.App.Buffer,
		ShutdownTimeout: uc.App.ShutdownTimeout.Duration,
	}
	if d := uc.App.Dedup; d.Enabled() {
		dd, err := router.NewRedisDeduper(ctx, router.RedisConfig{
			Addr:     d.RedisAddr,
			Password: d.RedisPassword,
			DB:       d.RedisDB,
			Prefix:   d.Prefix,
			TTL:      d.TTL.Duration,
		}, logger)
		if err != nil {
			for _, o := range outputs {
				_ = o.Close()
			}
			return err
		}
		defer dd.Close()
		eng.Dedup, eng.DedupField = dd, d.Field
	}
	err = eng.Run(ctx)
	logger.Info().Err(err).Msg("shut down")
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
