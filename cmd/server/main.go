// Package main runs the lightning talk voting server: HTTP API, WebSocket gateway and graceful shutdown.
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lightningtalk/backend/config"
	"github.com/lightningtalk/backend/internal/auth"
	"github.com/lightningtalk/backend/internal/middleware"
	"github.com/lightningtalk/backend/internal/models"
	"github.com/lightningtalk/backend/internal/realtime"
	"github.com/lightningtalk/backend/internal/talks"
	"github.com/lightningtalk/backend/internal/voting"
	"github.com/lightningtalk/backend/internal/worker"
	"github.com/lightningtalk/backend/pkg/database"
	"github.com/lightningtalk/backend/pkg/queue"
	"github.com/lightningtalk/backend/pkg/redis"
	"github.com/lightningtalk/backend/pkg/response"
	"github.com/lightningtalk/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Voting.StoreBackend == config.StorePostgres {
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			if cfg.Voting.StoreBackend == config.StoreRedis {
				logger.Fatal("redis", zap.Error(err))
			}
			logger.Warn("Redis unavailable; running single-instance without job queue", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var store voting.Store
	switch cfg.Voting.StoreBackend {
	case config.StorePostgres:
		store = voting.NewPostgresStore(pool)
	case config.StoreRedis:
		if rdb == nil {
			logger.Fatal("redis store selected but REDIS_ADDR is empty")
		}
		store = voting.NewRedisStore(rdb.Client)
	default:
		store = voting.NewMemoryStore()
	}
	logger.Info("voting store selected", zap.String("backend", cfg.Voting.StoreBackend))

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	gw := realtime.NewGateway(jwtService, realtime.Config{
		RateLimit:  cfg.Realtime.RateLimitMessages,
		RateWindow: cfg.Realtime.RateLimitWindow,
		SendBuffer: cfg.Realtime.SendBuffer,
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if rdb != nil && cfg.Realtime.RedisFanout {
		fanout := realtime.NewRedisPubSub(rdb.Client, uuid.New().String(), logger)
		gw.SetPublisher(fanout)
		go func() {
			if err := fanout.Run(bgCtx, gw); err != nil {
				logger.Error("redis fanout stopped", zap.Error(err))
			}
		}()
	}

	var jobQueue *queue.Queue
	if rdb != nil {
		jobQueue = queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, logger)
	}

	engine := voting.NewEngine(store, voting.Limits{
		DefaultDuration: cfg.Voting.DefaultDurationSec,
		MinDuration:     cfg.Voting.MinDurationSec,
		MaxDuration:     cfg.Voting.MaxDurationSec,
	}, logger)
	votingHandler := voting.NewHandler(engine, gw, logger)
	votingHandler.RegisterRealtime(gw)
	engine.SetEndedHandler(func(ctx context.Context, change voting.ResultChange, reason voting.EndReason) {
		votingHandler.SessionEnded(ctx, change, reason)
		if jobQueue == nil {
			return
		}
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := jobQueue.EnqueueTalkRating(enqueueCtx, queue.TalkRatingPayload{
			SessionID: change.SessionID,
			EventID:   change.EventID,
			TalkID:    change.TalkID,
			Reason:    string(reason),
			Results:   change.Results,
		})
		if err != nil {
			logger.Error("enqueue talk rating", zap.String("session_id", change.SessionID), zap.Error(err))
		}
	})

	if n, err := engine.CleanupExpiredSessions(ctx); err != nil {
		logger.Error("startup expiry sweep", zap.Error(err))
	} else if n > 0 {
		logger.Info("ended sessions that expired while offline", zap.Int("count", n))
	}
	go engine.RunSweeper(bgCtx, cfg.Voting.SweepInterval)
	go gw.LogMetrics(bgCtx, cfg.Realtime.MetricsLogInterval)

	var talkRepo *talks.Repository
	if pool != nil {
		talkRepo = talks.NewRepository(pool)
		if jobQueue != nil {
			processor := worker.NewTalkRatingProcessor(talkRepo, newArchiver(ctx, cfg, logger), jobQueue, cfg.Worker.RetryBackoff, logger)
			go processor.Run(bgCtx)
			logger.Info("talk rating worker started")
		}
	}

	router := gin.New()
	router.Use(middleware.CORS(config.SplitTrim(cfg.Server.CORSAllowedOrigins, ",")))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		m := gw.Metrics()
		body := gin.H{
			"status":   "ok",
			"channels": m.Channels,
			"rooms":    m.Rooms,
			"store":    cfg.Voting.StoreBackend,
		}
		if rdb != nil {
			hctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			body["redis"] = rdb.Healthy(hctx)
		}
		response.OK(c, body)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		v := api.Group("/voting")
		v.GET("/sessions/:sessionId/results", votingHandler.GetResults)
		v.GET("/sessions/:sessionId/voters/:voterId", votingHandler.VoterStatus)
		v.GET("/events/:eventId/sessions", votingHandler.ActiveSessions)
		v.GET("/talks/:talkId/history", votingHandler.TalkHistory)
		v.POST("/sessions/:sessionId/vote", middleware.OptionalJWT(jwtService), votingHandler.SubmitVote)

		staff := v.Group("", middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin, models.RoleSpeaker))
		staff.POST("/sessions", votingHandler.CreateSession)
		staff.POST("/sessions/:sessionId/end", votingHandler.EndSession)

		api.GET("/realtime/metrics", middleware.JWT(jwtService), middleware.RequireRole(models.RoleAdmin), func(c *gin.Context) {
			response.OK(c, gw.Metrics())
		})

		if talkRepo != nil {
			api.GET("/talks/:talkId", talks.NewHandler(talkRepo, logger).Get)
		}
	}

	// WebSocket (token in query or Authorization header; anonymous allowed)
	router.GET("/ws", realtime.ServeWs(gw, realtime.TransportOptions{
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
	}, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	gw.Shutdown()
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newArchiver returns nil when no results bucket is configured or S3 cannot be set up.
func newArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) worker.ResultsArchiver {
	if cfg.AWS.ResultsBucket == "" {
		return nil
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ResultsBucket:   cfg.AWS.ResultsBucket,
	}, logger)
	if err != nil {
		logger.Warn("S3 unavailable; results archiving disabled", zap.Error(err))
		return nil
	}
	return s3Client
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
