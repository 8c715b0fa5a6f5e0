package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/dicee-dev/dicee-server/internal/v1/auth"
	"github.com/dicee-dev/dicee-server/internal/v1/bus"
	"github.com/dicee-dev/dicee-server/internal/v1/config"
	"github.com/dicee-dev/dicee-server/internal/v1/directory"
	"github.com/dicee-dev/dicee-server/internal/v1/gateway"
	"github.com/dicee-dev/dicee-server/internal/v1/health"
	"github.com/dicee-dev/dicee-server/internal/v1/lobby"
	"github.com/dicee-dev/dicee-server/internal/v1/logging"
	"github.com/dicee-dev/dicee-server/internal/v1/middleware"
	"github.com/dicee-dev/dicee-server/internal/v1/ratelimit"
	"github.com/dicee-dev/dicee-server/internal/v1/storage"
	"github.com/dicee-dev/dicee-server/internal/v1/tracing"
	"go.uber.org/zap"
)

func main() {
	// Load .env file for local development. Try multiple paths to handle
	// different ways of running the app.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic("invalid environment configuration: " + err.Error())
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "dicee-server", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var validator gateway.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled for development — do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			panic("failed to create auth validator: " + err.Error())
		}
		validator = v
	}

	// Every room and lobby mutation persists before it broadcasts, so a
	// Redis connection is load-bearing for this server, not an optional
	// pub/sub nicety the way it is for the teacher's signaling bus.
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
	})

	busService, err := bus.NewService(redisAddr, cfg.RedisPassword)
	if err != nil {
		panic("failed to connect to redis bus: " + err.Error())
	}
	defer busService.Close()

	roomStore := storage.New(redisClient, "dicee-rooms", "room:")
	lobbyStore := storage.New(redisClient, "dicee-lobby", "lobby:")
	dirStore := storage.New(redisClient, "dicee-directory", "directory:")
	dir := directory.New(dirStore)

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient, validator)
	if err != nil {
		panic("failed to create rate limiter: " + err.Error())
	}

	gw := gateway.New(validator, roomStore, dir, rateLimiter, cfg.DevelopmentMode)
	lob := lobby.New(lobbyStore, dir, gw.RoomLookup, busService)
	gw.AttachLobby(lob)
	go lob.Run(ctx)
	lob.StartBusSync(ctx, nil)
	gw.StartLobbyAlarmPump(ctx)

	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	router.Use(cors.New(corsConfig))
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("dicee-server"))
	router.Use(rateLimiter.GlobalMiddleware())

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/room/:code", gw.ServeRoomWs)
		wsGroup.GET("/lobby", gw.ServeLobbyWs)
	}

	healthHandler := health.NewHandler(busService, &health.DefaultDirectoryChecker{Store: dirStore})
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "dicee server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	cancel() // stop every room, the lobby, and their alarm pumps
	gw.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
