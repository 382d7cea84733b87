package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/accelfs/license-broker/configs"
	"github.com/accelfs/license-broker/internal/application/services"
	"github.com/accelfs/license-broker/internal/core/domain/license"
	"github.com/accelfs/license-broker/internal/core/ports"
	"github.com/accelfs/license-broker/internal/infrastructure/db"
	"github.com/accelfs/license-broker/internal/infrastructure/health"
	"github.com/accelfs/license-broker/internal/infrastructure/httpserver"
	"github.com/accelfs/license-broker/internal/infrastructure/platform"
	"github.com/accelfs/license-broker/internal/infrastructure/repositories"
	"github.com/accelfs/license-broker/internal/infrastructure/tokencache"
)

func main() {
	printEnv := flag.Bool("print-env", false, "print the environment mapping for -product/-version and exit")
	product := flag.String("product", "", "product identifier for -print-env")
	version := flag.String("version", "", "product version for -print-env")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	if cfg.Platform.Endpoint == "" {
		logger.Fatal("PLATFORM_ENDPOINT is not set")
	}

	// Optional fetch audit log
	var (
		database  *db.Database
		auditRepo ports.FetchLogRepository
		auditSvc  *services.FetchAuditService
	)
	if cfg.Audit.DSN != "" {
		database, err = db.NewDatabase(&cfg.Audit)
		if err != nil {
			logger.Fatal("Failed to connect to audit database:", err)
		}
		defer database.Close()

		if err := database.Migrate("./migrations"); err != nil {
			logger.Warn("Failed to run migrations:", err)
		}

		auditRepo = repositories.NewFetchLogRepository(database, logger)
		auditSvc = services.NewFetchAuditService(auditRepo, logger)
		logger.Info("Fetch audit log enabled")
	}

	// Retry policy with a diagnostic observer; the observer runs on its own
	// goroutine and cannot affect the fetch outcome.
	retry := platform.NewRetryPolicy(cfg.Retry)
	retry.OnRetry = func(attempt int, resp *http.Response, err error) {
		fields := logrus.Fields{"attempt": attempt}
		if resp != nil {
			fields["status"] = resp.StatusCode
		}
		entry := logger.WithFields(fields)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("retrying platform token fetch")
	}

	// Token cache: memory L1, optionally shared via redis
	memory := tokencache.NewMemory(cfg.Cache.TTL)
	var (
		cache      ports.TokenCache = memory
		redisCache *tokencache.Redis
	)
	if cfg.Cache.Backend == "redis" {
		redisCache, err = tokencache.NewRedis(cfg.Redis, cfg.Cache.Prefix, cfg.Cache.TTL, logger)
		if err != nil {
			// Fatal exits without running the defers above
			if database != nil {
				_ = database.Close()
			}
			logger.Fatal("Failed to connect to Redis:", err)
		}
		defer redisCache.Close()
		cache = tokencache.NewComposite(memory, redisCache, logger)
		logger.Info("Token cache backed by Redis")
	}

	accessToken := ""
	if cfg.Platform.AccessToken != nil {
		accessToken = *cfg.Platform.AccessToken
	}
	client := platform.NewClient(cfg.Platform.Endpoint, accessToken, cfg.Platform.ConnectTimeout, retry, auditRepo, logger)
	licenseSvc := services.NewLicenseTokenService(client, cache, cfg.Platform.AccessToken, auditRepo, logger)

	if *printEnv {
		runPrintEnv(licenseSvc, logger, *product, *version)
		return
	}

	// The broker cannot serve a single request without a credential; fail
	// fast instead of degrading every lookup.
	if cfg.Platform.AccessToken == nil {
		if redisCache != nil {
			_ = redisCache.Close()
		}
		if database != nil {
			_ = database.Close()
		}
		logger.Fatalf("%s is not set; the broker cannot obtain license tokens", config.EnvPlatformAccessToken)
	}

	hcSlice := []ports.HealthChecker{health.NewPlatformHealthChecker(cfg.Platform.Endpoint)}
	if database != nil {
		hcSlice = append(hcSlice, health.NewDBHealthChecker(database))
	}
	if redisCache != nil {
		hcSlice = append(hcSlice, health.NewRedisHealthChecker(redisCache))
	}

	serverConfig := &httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		APIKeyHash:   cfg.Server.APIKeyHash,
	}

	deps := httpserver.ServerDeps{
		LicenseService: licenseSvc,
		AuditService:   auditSvc,
		HealthCheckers: hcSlice,
	}

	server := httpserver.NewServer(serverConfig, logger, deps)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	logger.Infof("Broker started on %s:%s", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down broker...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Broker forced to shutdown:", err)
	}

	logger.Info("Broker exited")
}

// runPrintEnv is the one-shot mode: resolve the environment mapping once and
// print it as KEY=VALUE lines. Only a missing credential is fatal; degraded
// lookups print nothing and exit zero, matching the library contract.
func runPrintEnv(svc ports.LicenseTokenService, logger *logrus.Logger, product, version string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env, err := svc.GetEnvironment(ctx, license.TokenRequest{Product: product, Version: version})
	if err != nil {
		logger.Fatal(err)
	}
	for k, v := range env {
		fmt.Printf("%s=%s\n", k, v)
	}
}
