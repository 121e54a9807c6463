// Package main runs the event voting HTTP server with WebSocket notifications and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatherly/backend/config"
	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/middleware"
	"github.com/gatherly/backend/internal/realtime"
	"github.com/gatherly/backend/internal/votes"
	"github.com/gatherly/backend/internal/worker"
	"github.com/gatherly/backend/pkg/database"
	"github.com/gatherly/backend/pkg/queue"
	"github.com/gatherly/backend/pkg/redis"
	"github.com/gatherly/backend/pkg/response"
	"github.com/gatherly/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	loc, err := cfg.Votes.Location()
	if err != nil {
		logger.Fatal("vote time zone", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, pubsub, pubsub)

	eventRepo := events.NewRepository(pool)
	voteRepo := votes.NewRepository(pool)
	voteService := votes.NewService(voteRepo, eventRepo, hub, loc, logger)
	voteHandler := votes.NewHandler(voteService, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	if cfg.AWS.ArchiveBucket != "" {
		// Winners committed by a read still need their final result archived.
		voteService.OnCommit(func(ctx context.Context, eventID, voteID uuid.UUID) {
			payload := queue.SettlePayload{VoteID: voteID, EventID: eventID}
			if _, err := jobQueue.EnqueueSettle(ctx, payload); err != nil {
				logger.Warn("enqueue settle after commit failed", zap.String("vote_id", voteID.String()), zap.Error(err))
			}
		})
	}

	verifier := auth.NewVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	castLimiter := middleware.NewUserRateLimiter(cfg.Votes.CastPerMinute, cfg.Votes.CastBurst)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			response.Fail(c, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		if err := rdb.Healthy(ctx); err != nil {
			response.Fail(c, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	api := router.Group("")
	api.Use(middleware.JWT(verifier))
	{
		api.GET("/events/:id/votes", voteHandler.List)
		api.GET("/events/:id/votes/:voteId", voteHandler.Get)
		api.POST("/events/:id/votes", voteHandler.Register)
		api.POST("/votes/:id/ballots", middleware.RateLimit(castLimiter), voteHandler.Cast)
		api.POST("/votes/:id/close", voteHandler.Close)
		api.DELETE("/votes/:id", voteHandler.Delete)
	}

	router.GET("/ws", realtime.ServeWs(hub, logger, verifier.Verify, voteService.CanWatch))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C:
				castLimiter.Cleanup(now)
			}
		}
	}()

	if cfg.Worker.Enabled {
		var archiver worker.Archiver
		if cfg.AWS.ArchiveBucket != "" {
			s3Client, err := storage.NewS3(ctx, storage.S3Config{
				Region:          cfg.AWS.Region,
				AccessKeyID:     cfg.AWS.AccessKeyID,
				SecretAccessKey: cfg.AWS.SecretAccessKey,
				ArchiveBucket:   cfg.AWS.ArchiveBucket,
			}, logger)
			if err != nil {
				logger.Warn("S3 not configured, results will not be archived", zap.Error(err))
			} else {
				archiver = s3Client
			}
		}
		processor := worker.NewSettleProcessor(voteService, archiver, jobQueue, logger)
		sweeper := worker.NewSweeper(voteRepo, jobQueue, cfg.Worker.SweepInterval, cfg.Worker.SweepBatch, logger)
		go processor.Run(workerCtx)
		go sweeper.Run(workerCtx)
		logger.Info("settle worker started in-process")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
