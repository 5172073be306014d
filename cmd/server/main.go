package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/songlab/api/internal/audio"
	"github.com/songlab/api/internal/auth"
	"github.com/songlab/api/internal/client"
	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/handler"
	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/pipeline"
	"github.com/songlab/api/internal/poller"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/internal/storage"
	"github.com/songlab/api/internal/store"
	ws "github.com/songlab/api/internal/websocket"
	"github.com/songlab/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize project store (Postgres, or in-memory when no DSN)
	var projectStore store.ProjectStore
	if cfg.Postgres.DSN != "" {
		pgStore, err := store.NewPostgresStore(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Failed to initialize Postgres store: %v", err)
		}
		defer pgStore.Close()
		projectStore = pgStore
	} else {
		log.Println("Info: Postgres not configured, using in-memory project store")
		projectStore = store.NewMemoryStore()
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize provider clients
	separatorClient := client.NewSeparatorClient(&cfg.Separator)
	instrumentalClient := client.NewInstrumentalClient(&cfg.Instrumental)
	mixerClient := client.NewMixerClient(&cfg.Mixer)

	// Initialize R2 client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storageClient = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, using mock storage")
	}
	gateway := storage.NewGateway(storageClient)

	// Initialize OIDC JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Initialize pipeline core
	controller := pipeline.NewController(projectStore)
	pollOpts := poller.Options{
		Interval:         time.Duration(cfg.Pipeline.PollIntervalSec) * time.Second,
		MaxAttempts:      cfg.Pipeline.PollMaxAttempts,
		TransientRetries: cfg.Pipeline.TransientRetries,
	}

	// Initialize services
	jobService := service.NewJobService(redisClient, asynqClient)
	pipelineService := service.NewPipelineService(controller, jobService)
	uploadService := service.NewUploadService(gateway)

	// Initialize handlers
	projectHandler := handler.NewProjectHandler(controller, validate)
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	// Initialize auth handler for ForwardAuth verification
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}
	authHandler := handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret)

	// Initialize middleware (with fallback support)
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		// Direct mode: auth is handled by the backend itself
		var authMiddleware *middleware.AuthMiddleware
		if jwksVerifier != nil && cfg.JWT.Secret != "" {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		} else if jwksVerifier != nil {
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		} else {
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		apiAuthMiddleware = authMiddleware.Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    100 * 1024 * 1024, // 100MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"separator":    separatorClient.IsConfigured(),
				"instrumental": instrumentalClient.IsConfigured(),
				"mixer":        mixerClient.IsConfigured(),
				"r2":           storageClient != nil,
				"postgres":     cfg.Postgres.DSN != "",
				"auth":         jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Project routes
	projects := api.Group("/projects", rateLimiter.ProjectLimit(cfg.RateLimit.ProjectPerMin))
	projects.Post("/", projectHandler.Create)
	projects.Get("/", projectHandler.List)
	projects.Get("/:projectId", projectHandler.Get)
	projects.Patch("/:projectId", projectHandler.Update)
	projects.Delete("/:projectId", projectHandler.Delete)
	projects.Post("/:projectId/advance", projectHandler.Advance)
	projects.Put("/:projectId/sections", projectHandler.SetSections)
	projects.Post("/:projectId/recordings", projectHandler.RecordSection)

	// Pipeline routes
	pipe := api.Group("/pipeline")
	pipe.Post("/separate", rateLimiter.SeparateLimit(cfg.RateLimit.SeparatePerHour), pipelineHandler.Separate)
	pipe.Post("/instrumentals", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), pipelineHandler.Instrumentals)
	pipe.Post("/intro-outro", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), pipelineHandler.IntroOutro)
	pipe.Post("/finalize", rateLimiter.FinalizeLimit(cfg.RateLimit.FinalizePerHour), pipelineHandler.Finalize)
	pipe.Get("/status/:jobId", pipelineHandler.Status)
	pipe.Post("/cancel/:jobId", pipelineHandler.Cancel)

	// Upload routes
	upload := api.Group("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour))
	upload.Post("/audio", uploadHandler.Audio)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server. Workers consult each client's
	// IsConfigured themselves and fall back to mock results.
	workers := worker.New(
		jobService, controller, gateway, hub,
		separatorClient, instrumentalClient, mixerClient,
		audio.NewMerger(), pollOpts,
	)
	go startWorkerServer(cfg, workers)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, workers *worker.Workers) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	workers.Register(mux)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
