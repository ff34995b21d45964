package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"guidance-backend/internal/attachment"
	"guidance-backend/internal/chat"
	"guidance-backend/internal/config"
	"guidance-backend/internal/database"
	"guidance-backend/internal/handlers"
	"guidance-backend/internal/logging"
	"guidance-backend/internal/middleware"
	"guidance-backend/internal/models"
	"guidance-backend/internal/router"
	"guidance-backend/internal/services"
	"guidance-backend/internal/websocket"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("✗ Logger initialization failed: %v", err)
	}
	defer logger.Sync()

	logger.Info("🚀 Starting Guidance Backend...", zap.String("env", cfg.Env))

	// ──── Step 2: Initialize Redis Client (optional) ────
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("✗ Redis connection failed", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("✓ Redis connected")
	} else {
		logger.Info("REDIS_URL not set, delivering session events in-process")
	}

	// ──── Step 3: Initialize Gemini Client ────
	geminiService, err := services.NewGeminiService(
		cfg.GeminiAPIKey,
		cfg.GeminiModel,
		cfg.GeminiTemperature,
		cfg.GeminiConcurrentReqs,
		logger.Named("gemini"),
	)
	if err != nil {
		logger.Fatal("✗ Gemini client initialization failed", zap.Error(err))
	}
	defer geminiService.Close()
	logger.Info("✓ Gemini client initialized", zap.String("model", cfg.GeminiModel))

	// ──── Step 4: Initialize Sessions ────
	blobs := attachment.NewBlobStore("/api/v1/blobs")
	encoder := attachment.NewEncoder(blobs)
	tokens := middleware.NewSessionTokens(cfg.SessionSecret)

	var registry *chat.Registry
	wsHub := websocket.NewHub(redisClient, tokens, func(id uuid.UUID) (models.SessionSnapshot, bool) {
		s, ok := registry.Get(id)
		if !ok {
			return models.SessionSnapshot{}, false
		}
		return s.Snapshot(), true
	}, logger.Named("ws"))

	registry = chat.NewRegistry(chat.Options{
		Streamer:      geminiService,
		Publisher:     wsHub,
		Releaser:      encoder,
		Logger:        logger.Named("chat"),
		StreamTimeout: cfg.StreamTimeout,
	}, cfg.SessionIdleTTL)
	registry.StartJanitor(time.Minute)
	logger.Info("✓ Session registry started", zap.Duration("idle_ttl", cfg.SessionIdleTTL))

	// ──── Step 5: Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(registry, tokens)
	chatHandler := handlers.NewChatHandler(registry)
	attachmentHandler := handlers.NewAttachmentHandler(registry, encoder, blobs, cfg.MaxUploadBytes, logger.Named("attachments"))

	submitLimiter := middleware.NewRateLimiter(cfg.SubmitRateLimit, time.Minute)
	defer submitLimiter.Stop()

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		tokens,
		submitLimiter,
		sessionHandler,
		chatHandler,
		attachmentHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info(fmt.Sprintf("✓ Guidance Backend ready on http://localhost:%s", cfg.Port))
	logger.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	logger.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	// Graceful shutdown: sessions stop first, cancelling in-flight exchanges
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, server, logger, registry.Stop); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped")
}
