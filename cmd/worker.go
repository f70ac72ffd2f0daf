package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/services"
	"example.com/backstage/services/shipment/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that indexes accepted status notes from Azure Service Bus and periodically reindexes recently updated mirror records`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	elasticClient := connectSearch(cfg.Elastic)
	if elasticClient == nil {
		return errors.New("worker requires Elasticsearch; set elastic.enabled")
	}
	if err := elasticClient.EnsureIndex(ctx); err != nil {
		return err
	}

	store := connectMirror(ctx, cfg, &cleanup)
	indexer := services.NewAnnotationIndexer(store, elasticClient, metricsCollector)
	bus := connectEvents(cfg.Azure, &cleanup)

	g, ctx := errgroup.WithContext(ctx)

	if bus != nil {
		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
			return bus.ProcessMessages(ctx, indexer.HandleStatusNoted)
		})
	} else {
		log.Warn().Msg("No Service Bus queue configured, relying on the reindex job only")
	}

	// Reindex recent mirror records as a fallback for missed events
	g.Go(func() error {
		return runReindexJob(ctx, indexer, tracer, cfg.Worker.ReindexInterval, cfg.Worker.ReindexWindow, cfg.Worker.ReindexBatch)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

func runReindexJob(ctx context.Context, indexer *services.AnnotationIndexer, tracer tracing.Tracer, interval, window time.Duration, batch int) error {
	log.Info().Dur("interval", interval).Dur("window", window).Msg("Starting status note reindex job")

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			jobCtx, txn := tracer.StartTransaction(ctx, "reindex-recent-notes")
			defer tracer.EndTransaction(txn)

			indexed, err := indexer.ReindexRecent(jobCtx, window, batch)
			if err != nil {
				tracer.RecordError(jobCtx, err)
				log.Error().Err(err).Int("indexed", indexed).Msg("Reindex job finished with errors")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule reindex job")
	}

	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}
