package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/accelfs/license-broker/internal/application/services"
	"github.com/accelfs/license-broker/internal/core/ports"
	custommw "github.com/accelfs/license-broker/internal/infrastructure/httpserver/middleware"
)

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	APIKeyHash   string
}

type ServerDeps struct {
	LicenseService ports.LicenseTokenService
	AuditService   *services.FetchAuditService
	HealthCheckers []ports.HealthChecker
}

// Server is the broker facade for host runtimes that cannot link the
// library directly.
type Server struct {
	echo           *echo.Echo
	config         *ServerConfig
	logger         *logrus.Logger
	licenseSvc     ports.LicenseTokenService
	auditSvc       *services.FetchAuditService
	middleware     *custommw.MiddlewareCollection
	healthCheckers []ports.HealthChecker
}

func NewServer(serverConfig *ServerConfig, logger *logrus.Logger, deps ServerDeps) *Server {
	e := echo.New()
	e.HideBanner = true

	server := &Server{
		echo:           e,
		config:         serverConfig,
		logger:         logger,
		licenseSvc:     deps.LicenseService,
		auditSvc:       deps.AuditService,
		healthCheckers: deps.HealthCheckers,
		middleware: custommw.NewMiddlewareCollection(
			logger,
			serverConfig.APIKeyHash,
			GetRequestsTotal(),
			GetRequestDuration(),
		),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(s.middleware.Metrics.CollectHTTPMetrics())
	s.echo.Use(s.middleware.Logging.RequestLogging())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1", s.middleware.APIKey.RequireAPIKey())
	api.GET("/environment", s.getEnvironment)
	if s.auditSvc != nil {
		api.GET("/fetch-log", s.getFetchLog)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)

	server := &http.Server{
		Addr:         addr,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Infof("Starting broker facade on %s", addr)
	if s.config.APIKeyHash == "" {
		s.logger.Warn("Broker API key not configured - facade accepts unauthenticated requests")
	}
	return s.echo.StartServer(server)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
