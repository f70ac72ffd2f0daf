package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/api"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/services"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server that records shipment status notes and serves merged shipment details`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	tracer := initTracer(cfg.Tracing)
	cleanup.add(tracer.Close)

	metricsCollector := metrics.NewMetrics()

	ledgerClient, err := connectLedger(ctx, cfg.Ledger, metricsCollector, &cleanup)
	if err != nil {
		return err
	}

	opts := services.Options{
		Metrics:       metricsCollector,
		Tracer:        tracer,
		MirrorTimeout: cfg.Mirror.Timeout,
	}
	if es := connectSearch(cfg.Elastic); es != nil {
		opts.Search = es
	}
	if bus := connectEvents(cfg.Azure, &cleanup); bus != nil {
		opts.Events = bus
	}

	store := connectMirror(ctx, cfg, &cleanup)
	shipmentService := services.NewShipmentService(ledgerClient, store, opts)

	server := api.NewServer(cfg, shipmentService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := shutdownContext(cfg.Server)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

const defaultShutdownTimeout = 10 * time.Second

// shutdownContext bounds how long in-flight requests get to drain
func shutdownContext(cfg config.ServerConfig) (context.Context, context.CancelFunc) {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
