package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/cache"
	"example.com/backstage/services/shipment/internal/database"
	"example.com/backstage/services/shipment/internal/ledger"
	"example.com/backstage/services/shipment/internal/ledger/evm"
	"example.com/backstage/services/shipment/internal/messaging"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/mirror"
	"example.com/backstage/services/shipment/internal/mirror/gormstore"
	"example.com/backstage/services/shipment/internal/mirror/mongostore"
	"example.com/backstage/services/shipment/internal/search"
	"example.com/backstage/services/shipment/internal/tracing"
)

const (
	driverMongo    = "mongo"
	driverPostgres = "postgres"

	eventSource = "shipment-service"
)

// closers runs cleanup functions in reverse registration order
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// initTracer never fails; tracing is dropped when New Relic cannot start.
func initTracer(cfg config.TracingConfig) tracing.Tracer {
	tracer, err := tracing.NewTracer(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		return &tracing.NewRelicTracer{}
	}
	return tracer
}

// connectLedger dials the node and binds the contract. Failure is fatal for
// the caller: the ledger is the source of truth.
func connectLedger(ctx context.Context, cfg config.LedgerConfig, m *metrics.Metrics, c *closers) (ledger.Client, error) {
	client, err := evm.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.add(client.Close)

	m.SetHealth("ledger", client.Bound())

	if !cfg.Breaker.Enabled {
		return client, nil
	}

	return ledger.WithCircuitBreaker(client, ledger.BreakerSettings{
		Name:                "ledger",
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}), nil
}

// connectMirror opens the configured mirror backend, wrapped in the Redis
// read cache when enabled. It returns nil when the mirror is unreachable;
// the service then runs ledger-only.
func connectMirror(ctx context.Context, cfg config.Config, c *closers) mirror.Store {
	store, err := openMirror(ctx, cfg, c)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Mirror.Driver).Msg("Mirror unavailable, continuing without it")
		return nil
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		return store
	}
	if !redisCache.Enabled() {
		return store
	}
	c.add(func() {
		if err := redisCache.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis cache")
		}
	})

	return mirror.NewCachedStore(store, redisCache, cfg.Mirror.CacheTTL)
}

func openMirror(ctx context.Context, cfg config.Config, c *closers) (mirror.Store, error) {
	switch cfg.Mirror.Driver {
	case driverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		c.add(func() {
			if err := client.Disconnect(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to disconnect from MongoDB")
			}
		})
		return mongostore.New(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)), nil

	case driverPostgres:
		db, err := database.Connect(cfg.DB)
		if err != nil {
			return nil, err
		}
		c.add(func() {
			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		})
		gormDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return gormstore.New(gormDB), nil
	}

	return nil, errors.Errorf("unknown mirror driver %q", cfg.Mirror.Driver)
}

// connectSearch returns nil when search is disabled or misconfigured
func connectSearch(cfg config.ElasticConfig) *search.ElasticClient {
	if !cfg.Enabled {
		return nil
	}

	client, err := search.NewElasticClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		return nil
	}
	return client
}

// connectEvents returns nil when no Service Bus connection is configured
func connectEvents(cfg config.AzureConfig, c *closers) *messaging.ServiceBusClient {
	if cfg.QueueConnStr == "" {
		log.Info().Msg("Service Bus not configured, status noted events will not be published")
		return nil
	}

	bus, err := messaging.NewServiceBusClient(cfg, eventSource)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without events")
		return nil
	}
	c.add(func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Service Bus client")
		}
	})
	return bus
}
