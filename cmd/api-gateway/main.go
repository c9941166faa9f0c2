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
	"github.com/rs/zerolog"

	"image-captioner/internal/caption"
	"image-captioner/internal/config"
	"image-captioner/internal/handler"
	"image-captioner/internal/huggingface"
	"image-captioner/internal/intake"
	"image-captioner/internal/logging"
	"image-captioner/internal/session"
	redisclient "image-captioner/pkg/database/redis"
	"image-captioner/pkg/security"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := logging.New("info", nil)
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := logging.New(cfg.LogLevel, nil)
	logger.Info().Msg("Starting API Gateway...")

	if !cfg.HasCredential() {
		logger.Warn().Msg("HUGGINGFACE_API_KEY is not set, every caption request will fail")
	}

	store, closeStore := newStore(cfg, logger)
	defer closeStore()

	hf := huggingface.NewClient(cfg.HuggingFaceURL, cfg.HuggingFaceAPIKey, huggingface.WithLogger(logger))
	captions := caption.NewService(store, hf, caption.Options{
		Model:      cfg.HuggingFaceModel,
		Credential: cfg.HasCredential(),
		Timeout:    cfg.HuggingFaceTimeout,
		Logger:     logger,
	})
	h := handler.NewHandler(intake.New(cfg.MaxUploadSize, logger), captions, cfg.MaxUploadSize, logger)

	var auth gin.HandlerFunc
	if cfg.AuthJWKSURL != "" {
		jwks, err := security.NewJWKS(cfg.AuthJWKSURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize auth")
		}
		defer jwks.EndBackground()
		auth = security.AuthMiddleware(jwks.Keyfunc, cfg.AuthClientID)
		logger.Info().Str("jwks_url", cfg.AuthJWKSURL).Msg("API authentication enabled")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.NewRouter(h, handler.RouterOptions{
		Logger:      logger,
		SessionTTL:  cfg.SessionTTL,
		CORSOrigins: cfg.CORSOrigins,
		UploadRate:  cfg.UploadRate,
		UploadBurst: cfg.UploadBurst,
		Auth:        auth,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("API Gateway is running. Press Ctrl+C to exit.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

func newStore(cfg *config.Config, logger zerolog.Logger) (session.Store, func()) {
	switch cfg.SessionStore {
	case "redis":
		logger.Info().Str("addr", cfg.RedisURL).Msg("Connecting to Redis...")
		client, err := redisclient.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		return session.NewRedis(client, cfg.SessionTTL), func() { _ = client.Close() }
	case "memory", "":
		return session.NewMemory(cfg.SessionTTL), func() {}
	default:
		logger.Fatal().Str("store", cfg.SessionStore).Msg("Unknown SESSION_STORE")
		return nil, nil
	}
}
