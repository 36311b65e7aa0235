package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"garage-backend/internal/cache"
	"garage-backend/internal/config"
	"garage-backend/internal/database"
	"garage-backend/internal/handler"
	"garage-backend/internal/middleware"
	"garage-backend/internal/repository"
	"garage-backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	cfg := config.Load()

	// Database
	db, err := database.NewPool(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations applied successfully")

	// Cache is optional; the conversation list just hits Postgres without it.
	var conversationCache *cache.Cache
	if cfg.RedisURL != "" {
		conversationCache, err = cache.New(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Printf("Redis unavailable, running without cache: %v", err)
		}
	}
	defer conversationCache.Close()

	// Repositories
	chatRepo := repository.NewChatRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)

	// Services
	identitySvc := service.NewIdentityService(cfg.JWTSecret)
	registry := service.NewRegistry()
	relay := service.NewRelay(chatRepo, registry, conversationCache)
	typing := service.NewTypingCoordinator(registry, service.DefaultTypingTimeout)

	var telegram *service.TelegramNotifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		telegram, err = service.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("Telegram notifier disabled: %v", err)
		}
	}
	notifier := service.NewNotifier(registry, telegram)

	// Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    1 * 1024 * 1024, // 1MB
	})

	app.Use(recover.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health
	healthH := handler.NewHealthHandler(db, registry)
	app.Get("/health", healthH.Health)
	app.Get("/ready", healthH.Ready)

	// API v1
	v1 := app.Group("/api/v1")

	// Booking form is public, rate limited per IP
	appointmentH := handler.NewAppointmentHandler(appointmentRepo, notifier)
	v1.Post("/appointments", middleware.RateLimit(5, time.Minute), appointmentH.Create)

	// JWT-protected backfill + admin reads
	protected := v1.Group("", middleware.Auth(identitySvc))

	chatH := handler.NewChatHandler(chatRepo, conversationCache)
	protected.Get("/chat/messages/:conversationId", chatH.GetHistory)
	protected.Get("/chat/conversations", chatH.ListConversations)
	protected.Get("/appointments", appointmentH.List)

	// WebSocket namespaces
	wsH := handler.NewWSHandler(registry, relay, typing, identitySvc)
	app.Get("/ws/chat", wsH.UpgradeChat)
	app.Get("/ws/notifications", wsH.UpgradeNotifications)

	// Retention sweep
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go relay.RetentionSweep(sweepCtx, cfg.ChatRetentionDays)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Printf("Garage relay running on :%s (%s)", cfg.Port, cfg.Env)

	<-quit
	log.Println("Shutting down...")
	cancelSweep()
	typing.Stop()
	_ = app.ShutdownWithTimeout(5 * time.Second)
	registry.Shutdown()
	log.Println("Server stopped")
}
