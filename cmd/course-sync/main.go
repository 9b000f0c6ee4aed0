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
	goredis "github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-sync/api/swagger"
	"github.com/noah-isme/course-sync/internal/handler"
	"github.com/noah-isme/course-sync/internal/middleware"
	"github.com/noah-isme/course-sync/internal/repository"
	"github.com/noah-isme/course-sync/internal/seed"
	"github.com/noah-isme/course-sync/internal/service"
	"github.com/noah-isme/course-sync/internal/store"
	"github.com/noah-isme/course-sync/pkg/cache"
	"github.com/noah-isme/course-sync/pkg/config"
	"github.com/noah-isme/course-sync/pkg/database"
	"github.com/noah-isme/course-sync/pkg/jobs"
	"github.com/noah-isme/course-sync/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-sync/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-sync/pkg/middleware/requestid"
	"github.com/noah-isme/course-sync/pkg/storage"
)

// @title Course Sync API
// @version 1.0.0
// @description Course catalog, enrollment progress and quiz attempts with live queries
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization

// closers are released in reverse order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var cleanup closers
	defer cleanup.run()

	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	docs, err := openStore(ctx, cfg, metrics, logr, &cleanup, checks)
	if err != nil {
		logr.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	blobs, files, err := openBlobs(ctx, cfg, &cleanup)
	if err != nil {
		logr.Fatal("failed to open blob storage", zap.String("driver", cfg.Blob.Driver), zap.Error(err))
	}

	courseRepo := repository.NewCourseRepository(docs)
	enrollmentRepo := repository.NewEnrollmentRepository(docs)
	userRepo := repository.NewUserRepository(docs)
	attemptRepo := repository.NewAttemptRepository(docs)

	validate := validator.New()
	courseSvc := service.NewCourseService(courseRepo, blobs, validate, logr)
	userSvc := service.NewUserService(userRepo, blobs, validate, logr)
	reportSvc := service.NewReportService(courseRepo, enrollmentRepo, userRepo, blobs, logr)
	certSvc := service.NewCertificateService(enrollmentRepo, courseRepo, userRepo, nil, blobs, metrics, logr)

	var enrollSvc *service.EnrollmentService
	if cfg.Certificates.Enabled {
		queue := jobs.NewQueue("certificates", certSvc.Handle, jobs.QueueConfig{
			Workers:    cfg.Certificates.Workers,
			MaxRetries: cfg.Certificates.Retries,
			RetryDelay: 2 * time.Second,
			Logger:     logr,
		})
		queue.Start(ctx)
		cleanup.add(queue.Stop)
		certSvc.UseQueue(queue)
		enrollSvc = service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, certSvc, validate, logr)
	} else {
		enrollSvc = service.NewEnrollmentService(enrollmentRepo, courseRepo, userRepo, nil, validate, logr)
	}

	quizSvc := service.NewQuizService(attemptRepo, courseRepo, metrics, validate, logr, service.WithEnrollmentCheck(enrollSvc))
	cleanup.add(quizSvc.Close)
	if n, err := quizSvc.RestoreTimers(ctx); err != nil {
		logr.Warn("failed to restore quiz timers", zap.Error(err))
	} else if n > 0 {
		logr.Info("quiz timers restored", zap.Int("attempts", n))
	}

	subs := service.NewSubscriptionManager(docs, courseRepo, metrics, logr)
	orchestrator := service.NewOrchestrator(subs, courseSvc, enrollSvc, quizSvc, logr,
		service.WithOptimisticUpdates(cfg.Sync.Optimistic))
	cleanup.add(orchestrator.Close)

	if cfg.SeedPath != "" {
		catalog, err := seed.LoadPath(cfg.SeedPath)
		if err != nil {
			logr.Fatal("failed to load seed catalog", zap.String("path", cfg.SeedPath), zap.Error(err))
		}
		if _, err := seed.NewLoader(courseRepo, userRepo, orchestrator, logr).Apply(ctx, catalog); err != nil {
			logr.Fatal("failed to apply seed catalog", zap.Error(err))
		}
	}

	if err := orchestrator.ObserveAllCourses(); err != nil {
		logr.Warn("catalog stream unavailable, serving catalog from the store", zap.Error(err))
	}

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	handlers := handler.Handlers{
		Courses:     handler.NewCourseHandler(courseSvc, orchestrator, orchestrator),
		Enrollments: handler.NewEnrollmentHandler(enrollSvc, orchestrator, certSvc),
		Quizzes:     handler.NewQuizHandler(quizSvc),
		Users:       handler.NewUserHandler(userSvc),
		Reports:     handler.NewReportHandler(reportSvc),
		Live:        handler.NewLiveHandler(subs, logr),
		Metrics:     metricsHandler,
	}
	if files != nil {
		handlers.Files = handler.NewFileHandler(files)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), handlers, service.NewTokenService(cfg.JWT.Secret))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "store", cfg.Store.Driver, "feed", cfg.Store.FeedDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// openStore builds the document store and its change feed from cfg.
func openStore(ctx context.Context, cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger, cleanup *closers, checks map[string]handler.ReadinessCheck) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		return store.NewMemoryStore(
			store.WithMemoryObserver(metrics),
			store.WithMemoryBacklog(cfg.Store.ListenerBacklog),
			store.WithMemoryLogger(logr.Named("store")),
		), nil
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	cleanup.add(func() { _ = db.Close() })
	checks["postgres"] = func(c *gin.Context) error { return db.PingContext(c.Request.Context()) }

	feed, err := openFeed(ctx, cfg, db, logr, cleanup, checks)
	if err != nil {
		return nil, err
	}

	pg := store.NewPostgresStore(db, feed,
		store.WithObserver(metrics),
		store.WithTxAttempts(cfg.Store.MaxTxAttempts),
		store.WithBacklog(cfg.Store.ListenerBacklog),
		store.WithLogger(logr.Named("store")),
	)
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return pg, nil
}

func openFeed(ctx context.Context, cfg *config.Config, db *sqlx.DB, logr *zap.Logger, cleanup *closers, checks map[string]handler.ReadinessCheck) (store.Feed, error) {
	switch cfg.Store.FeedDriver {
	case config.DriverRedis:
		rdb, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = rdb.Close() })
		checks["redis"] = func(c *gin.Context) error { return redisPing(c.Request.Context(), rdb) }
		return store.NewRedisFeed(rdb, cfg.Store.FeedPrefix, logr), nil
	case config.DriverPostgres:
		feed := store.NewPQFeed(db, database.NewListener(cfg.Database, logr), cfg.Store.FeedPrefix, logr)
		cleanup.add(func() { _ = feed.Close() })
		return feed, nil
	default:
		feed := store.NewMemoryFeed()
		cleanup.add(func() { _ = feed.Close() })
		return feed, nil
	}
}

func redisPing(ctx context.Context, rdb *goredis.Client) error {
	return rdb.Ping(ctx).Err()
}

// openBlobs returns the blob store and, for the local driver, the store
// that serves signed download links.
func openBlobs(ctx context.Context, cfg *config.Config, cleanup *closers) (storage.BlobStore, *storage.LocalBlobStore, error) {
	if cfg.Blob.Driver == config.DriverGCS {
		gcs, err := storage.NewGCSBlobStore(ctx, cfg.Blob.GCSBucket, cfg.Blob.GCSCDNDomain)
		if err != nil {
			return nil, nil, err
		}
		cleanup.add(func() { _ = gcs.Close() })
		return gcs, nil, nil
	}

	signer := storage.NewSignedURLSigner(cfg.Blob.SignedURLSecret, cfg.Blob.SignedURLTTL)
	local, err := storage.NewLocalBlobStore(cfg.Blob.StorageDir, cfg.Blob.BaseURL, signer)
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}
