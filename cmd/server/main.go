package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/api"
	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/config"
	"github.com/marketpulse/chathub/internal/middleware"
	"github.com/marketpulse/chathub/internal/observ"
	"github.com/marketpulse/chathub/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store and transport are both pluggable; the broker never learns which
	// backend it got. A Redis client is shared when both sides want one.
	redisClient := redisIfNeeded(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	snapStore, closeStore, err := buildStore(ctx, cfg, logger, redisClient)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	tr, err := buildTransport(cfg, logger, redisClient)
	if err != nil {
		return err
	}
	defer tr.Close()

	reg := registry.New(cfg.BaseURL, logger)
	b := broker.New(snapStore, tr, logger, broker.Options{
		Latency:     cfg.Latency,
		DedupWindow: cfg.DedupWindow,
		SnapshotKey: cfg.SnapshotKey,
	})
	defer b.Close()

	roomHandler := api.NewRoomHandler(reg, b, logger)
	tokenHandler := api.NewTokenHandler(cfg.JWTSecret, cfg.TokenTTL, logger)
	wsHandler := api.NewWSHandler(b, reg, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	// Health and session issuance are public; everything else needs a
	// guest token.
	srv.GET("/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	srv.POST("/v1/session", tokenHandler.Create)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	v1.POST("/rooms", roomHandler.Create)
	v1.GET("/rooms", roomHandler.List)
	v1.GET("/rooms/:id", roomHandler.GetByID)
	v1.DELETE("/rooms/:id", roomHandler.Deactivate)
	v1.GET("/rooms/:id/share", roomHandler.Share)
	v1.GET("/rooms/:id/messages", roomHandler.Messages)
	v1.GET("/rooms/:id/participants", roomHandler.Participants)
	v1.POST("/reset", roomHandler.Reset)
	v1.GET("/ws", wsHandler.Serve)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	logger.Info("starting chathub",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("transport", cfg.Transport),
		zap.String("store", cfg.Store),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	// Snapshot the room table before going down — the process-level
	// equivalent of persisting on unload.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.Persist(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("chathub stopped")
	return nil
}
