package main

import (
	"context"
	"log"
	"os"
	"os/signal"
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

	"github.com/openscribe/api/internal/config"
	"github.com/openscribe/api/internal/engine"
	"github.com/openscribe/api/internal/handler"
	"github.com/openscribe/api/internal/media"
	"github.com/openscribe/api/internal/middleware"
	"github.com/openscribe/api/internal/service"
	"github.com/openscribe/api/internal/store"
	"github.com/openscribe/api/internal/worker"
	ws "github.com/openscribe/api/internal/websocket"
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

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize job store with periodic eviction of finished jobs
	jobs := store.New()
	retention := time.Duration(cfg.Worker.JobRetentionHours) * time.Hour
	go runJanitor(jobs, retention)

	// Initialize transcription engine
	whisperEngine := engine.NewWhisperEngine(&cfg.Whisper)

	audioCfg := media.Config{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		MaxBytes:    cfg.Audio.MaxBytes,
		FFmpegPath:  cfg.Audio.FFmpegPath,
		FFprobePath: cfg.Audio.FFprobePath,
		TempDir:     cfg.Audio.TempDir,
	}

	// Initialize services and handlers
	transcribeService := service.NewTranscribeService(jobs, asynqClient)
	transcribeHandler := handler.NewTranscribeHandler(transcribeService, validate, int64(cfg.Audio.MaxBytes), cfg.Audio.TempDir)
	healthHandler := handler.NewHealthHandler(redisClient, cfg.Audio.FFmpegPath, cfg.Whisper.PythonPath)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if cfg.Server.LogLevel == "debug" {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ip=${ip} sent=${bytesSent}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	// Health check
	app.Get("/health", healthHandler.Check)

	// API routes
	api := app.Group("/api")
	api.Post("/transcribe", rateLimiter.TranscribeLimit(cfg.RateLimit.TranscribePerHour), transcribeHandler.Submit)
	api.Get("/jobs/:jobId", transcribeHandler.Status)

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

	// Start Asynq worker server
	workerSrv := newWorkerServer(cfg)
	go runWorkerServer(workerSrv, jobs, whisperEngine, hub, audioCfg)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		workerSrv.Shutdown()
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

func newWorkerServer(cfg *config.Config) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueTranscribe: 10,
			},
		},
	)
}

func runWorkerServer(srv *asynq.Server, jobs *store.Store, eng engine.Engine, hub *ws.Hub, audioCfg media.Config) {
	transcribeWorker := worker.NewTranscribeWorker(jobs, eng, hub, audioCfg)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeTranscribe, transcribeWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

// runJanitor evicts terminal jobs older than the retention window.
func runJanitor(jobs *store.Store, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		if n := jobs.Sweep(retention); n > 0 {
			log.Printf("Evicted %d finished jobs", n)
		}
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
