// Package main runs the live auction HTTP server with WebSocket and graceful shutdown.
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

	"github.com/bidstream/backend/config"
	"github.com/bidstream/backend/internal/auction"
	"github.com/bidstream/backend/internal/auth"
	"github.com/bidstream/backend/internal/middleware"
	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/internal/orders"
	"github.com/bidstream/backend/internal/presence"
	"github.com/bidstream/backend/internal/ranking"
	"github.com/bidstream/backend/internal/realtime"
	"github.com/bidstream/backend/internal/sessions"
	"github.com/bidstream/backend/internal/video"
	"github.com/bidstream/backend/internal/worker"
	"github.com/bidstream/backend/pkg/database"
	"github.com/bidstream/backend/pkg/queue"
	"github.com/bidstream/backend/pkg/redis"
	"github.com/bidstream/backend/pkg/response"
	"github.com/bidstream/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			LotImagesBucket:      cfg.AWS.LotImagesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)

	// Auction engine + countdown
	auctionRepo := auction.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	engine := auction.NewEngine(auctionRepo, hub, jobQueue, cfg.Auction.MinIncrementCents, logger)
	countdown := auction.NewController(hub, cfg.Auction.AntiSnipeThresholdSec, time.Second, logger)
	countdown.SetFinalizer(func(ctx context.Context, lotID uuid.UUID) {
		if _, err := engine.Finalize(ctx, lotID); err != nil {
			logger.Error("finalize expired lot", zap.String("lot_id", lotID.String()), zap.Error(err))
		}
	})
	engine.SetCountdown(countdown)
	auctionHandler := auction.NewHandler(engine, countdown, auctionRepo, sessionRepo, s3Client, cfg.Auction, logger)

	// Presence
	presenceRepo := presence.NewRepository(pool)
	tracker := presence.NewTracker(presenceRepo, time.Duration(cfg.Auction.PresenceTTLMin)*time.Minute, logger)
	presenceHandler := presence.NewHandler(tracker, logger)

	// Ranking
	boostRepo := ranking.NewBoostRepository(pool)
	rankingHandler := ranking.NewHandler(sessionRepo, auctionRepo, tracker, boostRepo, logger)

	// Viewer-count changes fan out to the audience and refresh the session's
	// visibility score for feed consumers.
	tracker.SetChangeHandler(func(sessionID uuid.UUID, current, total int) {
		hub.BroadcastToSessionAndPublish(sessionID, realtime.EventViewerCount, map[string]interface{}{
			"session_id":    sessionID,
			"viewer_count":  current,
			"total_viewers": total,
		})
		session, err := sessionRepo.GetByID(context.Background(), sessionID)
		if err != nil || session.Status != models.SessionLive {
			return
		}
		hub.BroadcastToSessionAndPublish(sessionID, realtime.EventRankingUpdated, map[string]interface{}{
			"session_id": sessionID,
			"score":      rankingHandler.ScoreSession(context.Background(), session),
		})
	})

	sessionHandler := sessions.NewHandler(sessionRepo, engine, countdown, tracker, hub, logger)
	videoHandler := video.NewHandler(sessionRepo, cfg.Zego, logger)

	// Orders + checkout worker
	orderRepo := orders.NewRepository(pool)
	orderHandler := orders.NewHandler(orderRepo, logger)
	checkoutProcessor := worker.NewCheckoutProcessor(orderRepo, jobQueue, logger)

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Ranked discovery feed (public)
	router.GET("/feed", rankingHandler.Feed)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/sessions", middleware.RequireRole("admin", "seller"), sessionHandler.Create)
		api.GET("/sessions", middleware.RequireRole("admin", "seller"), sessionHandler.ListMine)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.POST("/sessions/:id/live", middleware.RequireRole("admin", "seller"), sessionHandler.GoLive)
		api.POST("/sessions/:id/end", middleware.RequireRole("admin", "seller"), sessionHandler.End)
		api.GET("/sessions/:id/video-token", videoHandler.GetToken)

		// Presence
		api.POST("/sessions/:id/join", presenceHandler.Join)
		api.POST("/sessions/:id/leave", presenceHandler.Leave)
		api.GET("/sessions/:id/viewers", presenceHandler.Stats)

		// Boosts (admin)
		api.POST("/sessions/:id/boost", middleware.RequireRole("admin"), rankingHandler.GrantBoost)

		// Lots
		api.POST("/sessions/:id/lots", middleware.RequireRole("admin", "seller"), auctionHandler.CreateLot)
		api.GET("/sessions/:id/lots", auctionHandler.ListLots)
		api.GET("/sessions/:id/lots/next", middleware.RequireRole("admin", "seller"), auctionHandler.NextLot)
		api.GET("/lots/:id", auctionHandler.GetLot)
		api.POST("/lots/:id/activate", middleware.RequireRole("admin", "seller"), auctionHandler.Activate)
		api.POST("/lots/:id/finalize", middleware.RequireRole("admin", "seller"), auctionHandler.Finalize)
		api.POST("/lots/:id/image", middleware.RequireRole("admin", "seller"), auctionHandler.UploadImage)
		api.GET("/lots/:id/image-url", auctionHandler.ImageURL)

		// Bidding
		api.POST("/lots/:id/bid", auctionHandler.PlaceBid)
		api.POST("/lots/:id/buy-now", auctionHandler.BuyNow)
		api.GET("/lots/:id/bids", auctionHandler.ListBids)

		// Countdown
		api.POST("/lots/:id/countdown/start", middleware.RequireRole("admin", "seller"), auctionHandler.StartCountdown)
		api.POST("/lots/:id/countdown/stop", middleware.RequireRole("admin", "seller"), auctionHandler.StopCountdown)

		// Orders
		api.GET("/orders", orderHandler.ListMine)
		api.GET("/lots/:id/order", orderHandler.GetByLot)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process checkout worker; cmd/worker runs the same loop standalone.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go checkoutProcessor.Run(workerCtx)
	logger.Info("checkout worker started")

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
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
