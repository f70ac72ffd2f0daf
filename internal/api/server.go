package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/shipment/config"
	"example.com/backstage/services/shipment/internal/api/handlers"
	"example.com/backstage/services/shipment/internal/metrics"
	"example.com/backstage/services/shipment/internal/services"
	"example.com/backstage/services/shipment/internal/tracing"
)


// Server represents the HTTP server
type Server struct {
	config          config.Config
	router          *gin.Engine
	httpServer      *http.Server
	shipmentService *services.ShipmentService
	metrics         *metrics.Metrics
	tracer          tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, shipmentService *services.ShipmentService, m *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:          cfg,
		shipmentService: shipmentService,
		metrics:         m,
		tracer:          tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: writeTimeout(cfg),
	}

	return server
}

// writeTimeout leaves room for a ledger submission to finish before the
// connection is cut.
func writeTimeout(cfg config.Config) time.Duration {
	if cfg.Ledger.SubmitTimeout > cfg.Server.Timeout {
		return cfg.Ledger.SubmitTimeout + cfg.Mirror.Timeout + time.Second
	}
	return cfg.Server.Timeout
}

// Router exposes the configured router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger())

	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}
	if s.config.Server.CorsEnabled {
		router.Use(CORS(s.config.Server.CorsOrigins))
	}
	if s.config.Server.MetricsEnabled {
		router.Use(metrics.Instrument())
		router.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))
	}

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	handlers.NewMetricsHandler(s.metrics).RegisterRoutes(router)
	handlers.NewShipmentHandler(s.shipmentService, s.tracer).RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
