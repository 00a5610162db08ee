package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/config"
	"github.com/mossy-p/call-gateway/internal/bus"
	"github.com/mossy-p/call-gateway/internal/handlers"
	"github.com/mossy-p/call-gateway/internal/media"
	"github.com/mossy-p/call-gateway/internal/session"
	"github.com/mossy-p/call-gateway/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis (store + event bus)
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()
	logger.Info("Redis connection established")

	// Control connection to the media-routing backend. A failed first dial
	// is not fatal: the client queues requests and keeps retrying.
	mediaClient := media.NewClient(media.Options{
		BackendURL:     cfg.Media.BackendURL,
		APIKey:         cfg.Media.APIKey,
		ReconnectDelay: cfg.Media.ReconnectDelay,
		MaxReconnects:  cfg.Media.MaxReconnects,
		RequestTimeout: cfg.Media.RequestTimeout,
	}, logger)
	if err := mediaClient.Connect(ctx); err != nil {
		logger.Warn("media backend not reachable yet", zap.Error(err))
	}
	defer mediaClient.Close()

	callStore := store.NewRedis(rdb, cfg.CallRequestTTL)
	eventBus := bus.NewRedis(rdb, logger)
	registry := session.NewRegistry(logger)

	gateway := handlers.NewGateway(registry, mediaClient, callStore, eventBus, logger)
	if err := eventBus.Subscribe(ctx, gateway.HandleNotice); err != nil {
		logger.Fatal("failed to subscribe to event bus", zap.Error(err))
	}
	go gateway.RunEvents(ctx)

	fedClient := handlers.NewFederationClient(cfg.ServerDomain, cfg.Federation.Secret, cfg.Federation.Timeout, logger)
	calls := handlers.NewCalls(callStore, eventBus, fedClient, nil, cfg.ServerDomain, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(cfg.AllowedOrigins, cfg.JWTSecret, cfg.Federation.Secret, gateway, calls)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting call gateway", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
