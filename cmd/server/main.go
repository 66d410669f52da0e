package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"github.com/relaychat/sync-backend/internal/cache"
	"github.com/relaychat/sync-backend/internal/handlers"
	"github.com/relaychat/sync-backend/internal/middleware"
	"github.com/relaychat/sync-backend/internal/repository"
	"github.com/relaychat/sync-backend/internal/service"
	"github.com/relaychat/sync-backend/internal/worker"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "RelayChat Sync Backend",
		BodyLimit: 1 * 1024 * 1024, // 1MB; sync payloads are small
	})

	// Middleware
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     os.Getenv("ALLOWED_ORIGINS"),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))

	// Initialize database connection (authoritative log)
	db, err := repository.InitDB()
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize Redis (coordination store). Unlike a plain cache this
	// is load-bearing: queue durability lives here.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if parsedDB, err := strconv.Atoi(dbStr); err == nil {
			redisDB = parsedDB
		}
	}
	redisCache := cache.NewRedisCache(redisAddr, redisPassword, redisDB)
	if err := redisCache.Ping(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	log.Println("Redis coordination store connected successfully")

	// Initialize coordination-store backed stores
	queueStore := cache.NewQueueStore(redisCache)
	stateStore := cache.NewStateStore(redisCache)
	conflictStore := cache.NewConflictStore(redisCache)
	notifier := cache.NewNotifier(redisCache)

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	readStateRepo := repository.NewReadStateRepository(db)

	// Initialize services
	clock := service.SystemClock{}
	queueService := service.NewQueueService(queueStore, clock)
	stateService := service.NewStateService(stateStore, clock)
	conflictService := service.NewConflictService(conflictStore, messageRepo, conversationRepo, stateService, clock)
	syncService := service.NewSyncService(messageRepo, conversationRepo, stateService, clock)

	// Start background processing
	syncWorker := worker.New(queueService, conflictService, messageRepo, readStateRepo, notifier, workerInterval())
	syncWorker.Start()
	defer syncWorker.Stop()

	sweeper := worker.NewSweeper(queueService, stateService, time.Minute)
	sweeper.Start()
	defer sweeper.Stop()

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(queueService, stateService, conflictService, syncService)
	wsHandler := handlers.NewWebSocketHandler(redisCache)

	// Protected sync API
	api := app.Group("/api", middleware.AuthRequired())
	sync := api.Group("/sync", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
	}))
	sync.Post("/operations", syncHandler.EnqueueOperation)
	sync.Post("/delta", syncHandler.DeltaSync)
	sync.Get("/queue/status", syncHandler.QueueStatus)
	sync.Post("/queue/:id/retry", syncHandler.RetryFailed)
	sync.Get("/conflicts", syncHandler.GetConflicts)
	sync.Delete("/conflicts", syncHandler.ClearConflicts)
	sync.Post("/conflicts/:id/resolve", syncHandler.ResolveConflict)
	sync.Get("/state", syncHandler.GetState)
	sync.Delete("/state", syncHandler.ResetState)

	// WebSocket route (websocket upgrade needs special handling)
	app.Use(
		"/ws",
		middleware.AuthRequired(),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"message": "RelayChat sync backend is running",
		})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s...", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func workerInterval() time.Duration {
	if raw := os.Getenv("WORKER_INTERVAL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Second
}
