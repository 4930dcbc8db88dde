package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/02loveslollipop/gios-airquality/internal/config"
	"github.com/02loveslollipop/gios-airquality/internal/db"
	"github.com/02loveslollipop/gios-airquality/internal/gios"
	"github.com/02loveslollipop/gios-airquality/internal/ingest"
	"github.com/02loveslollipop/gios-airquality/internal/liveness"
	"github.com/02loveslollipop/gios-airquality/internal/metrics"
	"github.com/02loveslollipop/gios-airquality/internal/models"
)

// Store is the read and maintenance surface the handlers use.
type Store interface {
	Ping(ctx context.Context) error
	ListStations(ctx context.Context, q db.StationQuery) ([]models.Station, int, error)
	GetStation(ctx context.Context, id int64) (*models.Station, error)
	ListSensors(ctx context.Context, q db.SensorQuery) ([]models.Sensor, int, error)
	SensorExists(ctx context.Context, id int64) (bool, error)
	FetchMeasurements(ctx context.Context, q db.MeasurementQuery) ([]models.Measurement, int, error)
	LatestMeasurements(ctx context.Context) ([]models.Measurement, error)
	ClearAll(ctx context.Context) error
}

type LivenessRunner interface {
	Run(ctx context.Context) (liveness.Result, error)
}

type Ingester interface {
	Ingest(ctx context.Context, ids []int64) (int, error)
}

type Scheduler interface {
	Start(ids []int64)
	Stop()
	Status() ingest.Status
}

type MetadataLoader interface {
	LoadStations(ctx context.Context) (int, error)
	LoadSensors(ctx context.Context) (int, error)
}

// Deps groups the collaborators behind the routes.
type Deps struct {
	Store     Store
	Liveness  LivenessRunner
	Ingester  Ingester
	Scheduler Scheduler
	Metadata  MetadataLoader
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg    config.Config
	deps   Deps
	engine *gin.Engine
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware())

	server := &Server{cfg: cfg, deps: deps, engine: engine}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.registerV1Routes()
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}

// writeError maps upstream failures to 502 and everything else to 500.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gios.ErrUpstreamUnavailable),
		errors.Is(err, gios.ErrUpstreamBadResponse),
		errors.Is(err, gios.ErrNotFound):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
