package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/release-distribution-api/api/swagger"
	"github.com/noah-isme/release-distribution-api/internal/handler"
	internalmiddleware "github.com/noah-isme/release-distribution-api/internal/middleware"
	"github.com/noah-isme/release-distribution-api/internal/repository"
	"github.com/noah-isme/release-distribution-api/internal/service"
	"github.com/noah-isme/release-distribution-api/pkg/cache"
	"github.com/noah-isme/release-distribution-api/pkg/config"
	"github.com/noah-isme/release-distribution-api/pkg/database"
	"github.com/noah-isme/release-distribution-api/pkg/jobs"
	"github.com/noah-isme/release-distribution-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/release-distribution-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/release-distribution-api/pkg/middleware/requestid"
	"github.com/noah-isme/release-distribution-api/pkg/storage"
)

// @title Release Distribution API
// @version 1.0.0
// @description Versions, update packages, staged distributions and guarded rollbacks.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if client, err := cache.NewRedis(ctx, cfg.Redis); err != nil {
		logr.Warn("redis unavailable, catalogue cache disabled", zap.Error(err))
	} else {
		redisClient = client
		defer redisClient.Close()
	}

	artifacts, local, err := buildArtifactStore(ctx, cfg.Artifacts, logr)
	if err != nil {
		logr.Fatal("failed to configure artifact store", zap.Error(err))
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	versionRepo := repository.NewVersionRepository(db)
	compatRepo := repository.NewCompatibilityRepository(db)
	installationRepo := repository.NewInstallationRepository(db)
	packageRepo := repository.NewUpdatePackageRepository(db)
	distributionRepo := repository.NewDistributionRepository(db)
	rollbackRepo := repository.NewRollbackRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	versionOpts := []service.VersionServiceOption{service.WithVersionAudit(auditRepo)}
	if cfg.Versions.CacheEnabled && redisClient != nil {
		catalogueCache := service.NewCatalogueCache(repository.NewCatalogueCacheRepository(redisClient), "release", cfg.Versions.CacheTTL, metrics, logr.Named("cache"))
		versionOpts = append(versionOpts, service.WithVersionCache(catalogueCache, cfg.Versions.CacheTTL))
	}
	versionSvc := service.NewVersionService(versionRepo, compatRepo, validate, logr.Named("versions"), versionOpts...)
	installationSvc := service.NewInstallationService(installationRepo, validate, logr.Named("installations"))

	packageOpts := []service.PackageBuilderOption{
		service.WithBaselineResolver(versionSvc),
		service.WithPayloadLimits(cfg.Artifacts.CacheControl, cfg.Artifacts.MaxPayloadBytes),
		service.WithPackageMetrics(metrics),
		service.WithPackageAudit(auditRepo),
	}
	if cfg.Artifacts.SignedURLSecret != "" {
		signer := storage.NewSignedURLSigner(cfg.Artifacts.SignedURLSecret, cfg.Artifacts.SignedURLTTL)
		packageOpts = append(packageOpts, service.WithDownloadSigner(signer, cfg.Artifacts.PublicBaseURL+cfg.APIPrefix+"/artifacts"))
	}
	packageSvc := service.NewPackageBuilderService(packageRepo, artifacts, validate, logr.Named("packages"), packageOpts...)
	// The builder resolves baselines through the catalogue, so the catalogue learns about it afterwards.
	service.WithArtifactInvalidation(packageSvc)(versionSvc)

	distributionSvc := service.NewDistributionService(distributionRepo, packageSvc, validate, logr.Named("distributions"),
		service.WithRolloutPolicy(service.NewLinearRampPolicy(cfg.Rollout.StepPercent, cfg.Rollout.StepInterval)),
		service.WithNotifier(buildNotifier(cfg.Notifier, redisClient, logr)),
		service.WithDistributionMetrics(metrics),
		service.WithDistributionAudit(auditRepo),
	)

	telemetry := service.NewBreakerTelemetry(installationSvc, cfg.Safety.BreakerMaxFailure, cfg.Safety.BreakerTimeout, logr.Named("telemetry"))
	safetySvc := service.NewSafetyCheckService(versionSvc, telemetry, logr.Named("safety"),
		service.WithImpactThresholds(service.ImpactThresholds{Medium: cfg.Safety.MediumImpactThreshold, High: cfg.Safety.HighImpactThreshold}),
		service.WithSafetyMetrics(metrics),
	)
	rollbackSvc := service.NewRollbackService(rollbackRepo, safetySvc, packageSvc, distributionSvc, validate, logr.Named("rollbacks"),
		service.WithRollbackMetrics(metrics),
		service.WithRollbackAudit(auditRepo),
		service.WithRollbackReports(service.NewExportService(logr.Named("export"), nil, nil)),
	)
	tokenSvc := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	// A zero tick interval leaves periodic passes to the external trigger; the queue still runs the
	// immediate advances enqueued on start and resume.
	rollout := service.NewRolloutWorker(distributionSvc, cfg.Rollout.TickInterval, jobs.QueueConfig{
		Workers:    cfg.Rollout.Workers,
		MaxRetries: 2,
		RetryDelay: 5 * time.Second,
		Logger:     logr.Named("rollout"),
	})
	rollout.Start(ctx)
	defer rollout.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))

	checks := map[string]handler.HealthCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", handler.NewMetricsHandler(metrics, nil).Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/internal/metrics/summary", metricsHandler.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var opener handler.ArtifactOpener
	if local != nil {
		opener = local
	}
	artifactHandler := handler.NewArtifactHandler(packageSvc, opener)
	if local != nil {
		r.GET("/files/*key", artifactHandler.ServeFile)
	}
	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handler.Handlers{
		Versions:      handler.NewVersionHandler(versionSvc),
		Installations: handler.NewInstallationHandler(installationSvc),
		Packages:      handler.NewPackageHandler(packageSvc),
		Artifacts:     artifactHandler,
		Distributions: handler.NewDistributionHandler(distributionSvc, handler.WithAdvanceQueue(rollout)),
		Rollbacks:     handler.NewRollbackHandler(rollbackSvc),
	}, internalmiddleware.JWT(tokenSvc), auditRepo)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildArtifactStore(ctx context.Context, cfg config.ArtifactConfig, logr *zap.Logger) (storage.ArtifactStore, *storage.LocalArtifactStore, error) {
	var (
		inner storage.ArtifactStore
		local *storage.LocalArtifactStore
	)
	switch cfg.Driver {
	case config.ArtifactDriverS3:
		client, err := storage.NewS3Client(ctx, cfg.S3.Region)
		if err != nil {
			return nil, nil, err
		}
		s3Store, err := storage.NewS3ArtifactStore(client, storage.S3Options{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Prefix:        cfg.S3.Prefix,
			PublicBaseURL: cfg.S3.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		inner = s3Store
	case config.ArtifactDriverLocal, "":
		store, err := storage.NewLocalArtifactStore(cfg.LocalDir, cfg.PublicBaseURL+"/files")
		if err != nil {
			return nil, nil, err
		}
		inner, local = store, store
	default:
		return nil, nil, fmt.Errorf("unknown artifact store driver %q", cfg.Driver)
	}
	breaker := storage.NewBreakerArtifactStore(inner, storage.BreakerOptions{
		Name:        "artifact-" + cfg.Driver,
		MaxFailures: cfg.BreakerMaxFailure,
		Timeout:     cfg.BreakerTimeout,
		Logger:      logr.Named("artifacts"),
	})
	return breaker, local, nil
}

func buildNotifier(cfg config.NotifierConfig, client *redis.Client, logr *zap.Logger) service.UpdateNotifier {
	if cfg.Driver == config.NotifierDriverRedis {
		if client != nil {
			return service.NewRedisNotifier(client, cfg.Channel)
		}
		logr.Warn("redis notifier requested without redis, falling back to log notifier")
	}
	return service.NewLogNotifier(logr.Named("notifier"))
}
