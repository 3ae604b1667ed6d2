package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gatherspace/backend/config"
	"github.com/gatherspace/backend/internal/auth"
	"github.com/gatherspace/backend/internal/messages"
	"github.com/gatherspace/backend/internal/middleware"
	"github.com/gatherspace/backend/internal/polls"
	"github.com/gatherspace/backend/internal/realtime"
	"github.com/gatherspace/backend/internal/users"
	"github.com/gatherspace/backend/pkg/database"
	"github.com/gatherspace/backend/pkg/queue"
	redisclient "github.com/gatherspace/backend/pkg/redis"
	"github.com/gatherspace/backend/pkg/response"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis is optional: without it the gateway delivers locally and
	// archive scheduling is disabled.
	rdb, err := redisclient.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable, running single-instance", zap.Error(err))
		rdb = nil
	}

	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	userRepo := users.NewRepository(pool)
	msgRepo := messages.NewRepository(pool)
	pollRepo := polls.NewRepository(pool)

	var archiver messages.Archiver
	if rdb != nil && cfg.Archive.Bucket != "" {
		archiver = queue.NewQueue(rdb, logger)
	}

	pollEngine := polls.NewEngine(pollRepo, userRepo, hub, logger)

	msgHandler := messages.NewHandler(msgRepo, userRepo, hub, archiver, logger)
	pollHandler := polls.NewHandler(pollEngine, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})

	validate := func(token string) (string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}
	router.GET("/ws", realtime.ServeWs(hub, logger, validate, userRepo, msgRepo))

	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		msgs := api.Group("/messages")
		{
			msgs.GET("", msgHandler.List)
			msgs.POST("", msgHandler.Create)
			msgs.GET("/recent", msgHandler.Recent)
			msgs.GET("/search", msgHandler.Search)
			msgs.GET("/user/:userId", msgHandler.ByUser)
			msgs.GET("/:id", msgHandler.GetByID)
			msgs.PUT("/:id", msgHandler.Edit)
			msgs.PATCH("/:id/read", msgHandler.MarkRead)
			msgs.DELETE("/:id", msgHandler.Delete)
			msgs.DELETE("/old/:days", msgHandler.DeleteOld)
		}

		pollGroup := api.Group("/polls")
		{
			pollGroup.POST("", pollHandler.Create)
			pollGroup.GET("/:id", pollHandler.GetByID)
			pollGroup.GET("/event/:eventId", pollHandler.ListByEvent)
			pollGroup.GET("/:id/results", pollHandler.Results)
			pollGroup.POST("/:id/vote", pollHandler.Vote)
			pollGroup.DELETE("/:id/vote", pollHandler.RemoveVote)
			pollGroup.PATCH("/:id/close", pollHandler.Close)
			pollGroup.PATCH("/:id/reopen", pollHandler.Reopen)
		}

		stats := api.Group("/stats")
		{
			stats.GET("/messages", msgHandler.Stats)
			stats.GET("/polls", pollHandler.Stats)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
