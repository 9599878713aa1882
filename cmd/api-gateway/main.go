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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/watchplan-api/api/swagger"
	"github.com/noah-isme/watchplan-api/internal/handler"
	internalmiddleware "github.com/noah-isme/watchplan-api/internal/middleware"
	"github.com/noah-isme/watchplan-api/internal/repository"
	"github.com/noah-isme/watchplan-api/internal/service"
	"github.com/noah-isme/watchplan-api/migrations"
	"github.com/noah-isme/watchplan-api/pkg/cache"
	"github.com/noah-isme/watchplan-api/pkg/config"
	"github.com/noah-isme/watchplan-api/pkg/database"
	"github.com/noah-isme/watchplan-api/pkg/jobs"
	"github.com/noah-isme/watchplan-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/watchplan-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/watchplan-api/pkg/middleware/requestid"
	"github.com/noah-isme/watchplan-api/pkg/storage"
)

// @title Watchplan API
// @version 1.0.0
// @description Plans which TV episodes to watch on which days, packing a daily time budget by show priority.
// @BasePath /api/v1
// @schemes http

const shutdownTimeout = 10 * time.Second

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

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return err
		}
		logr.Info("database migrations applied")
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, schedule cache disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	showRepo := repository.NewShowRepository(db)
	planRepo := repository.NewWatchPlanRepository(db)
	entryRepo := repository.NewWatchPlanEntryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "watchplan", logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)
	showSvc := service.NewShowService(showRepo, validate, logr)
	generatorSvc := service.NewScheduleGeneratorService(showRepo, planRepo, entryRepo, db, cacheSvc, metrics, validate, logr, service.ScheduleGeneratorConfig{
		ProposalTTL:      cfg.Scheduler.ProposalTTL,
		MaxWindowDays:    cfg.Scheduler.MaxWindowDays,
		MaxShows:         cfg.Scheduler.MaxShows,
		CacheTTL:         cfg.Cache.TTL,
		PlaceholderImage: cfg.Catalogue.PlaceholderImage,
	})

	if cfg.Catalogue.SeedSamples {
		seeded, err := showSvc.SeedSamples(ctx)
		if err != nil {
			logr.Warn("failed to seed sample shows", zap.Error(err))
		} else if seeded > 0 {
			logr.Info("seeded sample shows", zap.Int("count", seeded))
		}
	}

	var exportHandler *handler.ExportHandler
	if cfg.Exports.Enabled {
		queue, exportSvc, err := buildExports(ctx, cfg, db, generatorSvc, metrics, validate, logr)
		if err != nil {
			return err
		}
		defer queue.Stop()
		exportHandler = handler.NewExportHandler(exportSvc)
	}

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := newRouter(cfg, logr, routes{
		shows:    handler.NewShowHandler(showSvc),
		schedule: handler.NewScheduleGeneratorHandler(generatorSvc),
		exports:  exportHandler,
		metrics:  handler.NewMetricsHandler(metrics),
		health:   handler.NewHealthHandler(deps),
	}, metrics)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logr.Info("server exited")
	return nil
}

func buildExports(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	plans *service.ScheduleGeneratorService,
	metrics *service.MetricsService,
	validate *validator.Validate,
	logr *zap.Logger,
) (*jobs.Queue, *service.ExportJobService, error) {
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exporter := service.NewExportService(plans, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr)

	exportRepo := repository.NewExportJobRepository(db)
	worker := service.NewExportWorker(exportRepo, exporter, metrics, logr)
	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		OnFailure:  worker.MarkFailed,
		Logger:     logr,
	})
	startDetached(ctx, queue)

	svc := service.NewExportJobService(exportRepo, plans, queue, exporter, metrics, validate, logr, service.ExportJobServiceConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	})
	svc.RecoverPendingJobs(ctx)
	svc.StartCleanup(ctx)
	return queue, svc, nil
}

// startDetached runs the queue on a context that survives the shutdown signal,
// so requests still draining in srv.Shutdown can enqueue. The deferred Stop ends it.
func startDetached(ctx context.Context, queue *jobs.Queue) {
	queue.Start(context.WithoutCancel(ctx))
}

type routes struct {
	shows    *handler.ShowHandler
	schedule *handler.ScheduleGeneratorHandler
	exports  *handler.ExportHandler
	metrics  *handler.MetricsHandler
	health   *handler.HealthHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, h routes, metrics *service.MetricsService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	r.Use(internalmiddleware.WithResponseMeta())

	r.GET("/health", h.health.Health)
	r.GET("/ready", h.health.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", h.metrics.Summary)

	shows := api.Group("/shows")
	shows.GET("", h.shows.List)
	shows.POST("", h.shows.Create)
	shows.GET("/:id", h.shows.Get)
	shows.PUT("/:id", h.shows.Update)
	shows.DELETE("/:id", h.shows.Delete)

	schedules := api.Group("/schedules")
	schedules.POST("/generate", h.schedule.Generate)
	schedules.POST("", h.schedule.Save)
	schedules.GET("", h.schedule.List)
	schedules.GET("/:id", h.schedule.Get)
	schedules.DELETE("/:id", h.schedule.Delete)

	if h.exports != nil {
		schedules.POST("/:id/exports", h.exports.Create)
		api.GET("/exports/:id", h.exports.Status)
		api.GET("/export/:token", h.exports.Download)
	}

	return r
}
