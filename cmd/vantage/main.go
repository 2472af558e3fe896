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

	"github.com/spf13/cobra"

	"github.com/vantagecommodities/vantage/internal/app"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/pkg/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vantage",
	Short: "Vantage Commodities client platform",
	Long: `Vantage serves the client-facing API for the Vantage Commodities
brokerage: market data, the client assistant, usage tracking, and the
billing webhook that drives the subscription lifecycle.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vantage", version)
	},
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	// Without RabbitMQ the API process also consumes its own events: the
	// outbox processor publishes straight into the in-process bus.
	if cfg.RabbitMQURL == "" {
		logger.Info("no RabbitMQ configured, consuming events in-process")
		processor := newInProcessPipeline(container)
		defer processor.Stop()
	}

	server := container.APIServer()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newInProcessPipeline starts an outbox processor that feeds the in-process
// bus, used when the API runs as a single binary.
func newInProcessPipeline(container *app.Container) *outbox.Processor {
	bus := container.NewInProcessBus()

	processorCfg := outbox.ProcessorConfig{
		PollInterval: container.Config.OutboxPollInterval,
		BatchSize:    container.Config.OutboxBatchSize,
		MaxRetries:   container.Config.OutboxMaxRetries,
	}
	processor := outbox.NewProcessor(container.Outbox, bus, processorCfg, container.Logger)
	_ = processor.Start(context.Background())
	return processor
}
