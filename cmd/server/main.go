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
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gigvault/escrow/internal/client"
	"github.com/gigvault/escrow/internal/config"
	"github.com/gigvault/escrow/internal/fees"
	"github.com/gigvault/escrow/internal/handler"
	"github.com/gigvault/escrow/internal/middleware"
	"github.com/gigvault/escrow/internal/repository"
	"github.com/gigvault/escrow/internal/service"
	"github.com/gigvault/escrow/internal/worker"
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

	// Initialize validator
	validate := validator.New()

	// Choose the store (Postgres in production, memory otherwise)
	var (
		escrows      repository.EscrowRepository
		disputes     repository.DisputeRepository
		transactions repository.TransactionRepository
	)
	if cfg.Postgres.URL != "" {
		store, err := repository.NewPostgresStore(cfg.Postgres.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer store.Close()
		escrows = store.Escrows()
		disputes = store.Disputes()
		transactions = store.Transactions()
	} else {
		log.Println("Info: Postgres not configured, using in-memory store")
		store := repository.NewMemoryStore()
		escrows = store.Escrows()
		disputes = store.Disputes()
		transactions = store.Transactions()
	}

	// Choose the payment processor (mock when Stripe is not configured)
	var processor client.PaymentProcessor
	stripeClient := client.NewStripeClient(&cfg.Stripe)
	if stripeClient.IsConfigured() {
		processor = stripeClient
	} else {
		log.Println("Info: Stripe not configured, using mock payment processor")
		processor = client.NewMockProcessor()
	}

	// Initialize services
	feeCalc := fees.NewWithRates(
		decimal.NewFromFloat(cfg.Fees.PlatformRate),
		decimal.NewFromFloat(cfg.Fees.ProcessorRate),
		decimal.NewFromFloat(cfg.Fees.ProcessorFlat),
	)
	escrowService := service.NewEscrowService(escrows, disputes, transactions, processor, feeCalc)

	// Initialize handlers
	escrowHandler := handler.NewEscrowHandler(escrowService, validate)
	disputeHandler := handler.NewDisputeHandler(escrowService, validate)
	webhookHandler := handler.NewWebhookHandler(cfg.Stripe.WebhookSecret, asynqClient)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"stripe":   stripeClient.IsConfigured(),
				"postgres": cfg.Postgres.URL != "",
				"redis":    redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Processor webhooks (signature-verified, no user auth)
	app.Post("/api/webhooks/processor", webhookHandler.HandleProcessorEvent)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	writeLimit := rateLimiter.EscrowWriteLimit(cfg.RateLimit.EscrowWritePerMin)
	readLimit := rateLimiter.EscrowReadLimit(cfg.RateLimit.EscrowReadPerMin)

	// Escrow routes
	escrow := api.Group("/escrows")
	escrow.Post("/", writeLimit, escrowHandler.Create)
	escrow.Get("/:escrowId", readLimit, escrowHandler.Get)
	escrow.Get("/:escrowId/summary", readLimit, escrowHandler.Summary)
	escrow.Get("/:escrowId/transactions", readLimit, escrowHandler.Transactions)
	escrow.Post("/:escrowId/fund", writeLimit, escrowHandler.Fund)
	escrow.Post("/:escrowId/cancel", writeLimit, escrowHandler.Cancel)

	// Milestone routes
	escrow.Post("/:escrowId/milestones/:milestoneId/submit", writeLimit, escrowHandler.SubmitMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/approve", writeLimit, escrowHandler.ApproveMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/reject", writeLimit, escrowHandler.RejectMilestone)
	escrow.Post("/:escrowId/milestones/:milestoneId/dispute", rateLimiter.DisputeLimit(cfg.RateLimit.DisputePerHour), disputeHandler.Initiate)

	// Dispute routes
	dispute := api.Group("/disputes")
	dispute.Get("/:disputeId", readLimit, disputeHandler.Get)
	dispute.Post("/:disputeId/resolve", middleware.RequireRole("admin"), disputeHandler.Resolve)
	dispute.Post("/:disputeId/close", middleware.RequireRole("admin"), disputeHandler.Close)

	// Start Asynq worker server
	go startWorkerServer(cfg, transactions)

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

func startWorkerServer(cfg *config.Config, transactions repository.TransactionRepository) {
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
			LogLevel:    asynqLogLevel,
		},
	)

	webhookWorker := worker.NewWebhookWorker(transactions)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TypeProcessorEvent, webhookWorker.ProcessTask)

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
