package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-orchestrator/api/rest/middleware"
	"video-orchestrator/api/rest/routes"
	"video-orchestrator/config"
	"video-orchestrator/core/cache"
	"video-orchestrator/core/jobstore"
	"video-orchestrator/core/monitoring"
	"video-orchestrator/core/notify"
	"video-orchestrator/core/orchestrator"
	"video-orchestrator/core/payments"
	"video-orchestrator/core/poller"
	"video-orchestrator/core/progress"
	"video-orchestrator/core/renderer"
	"video-orchestrator/core/repository"
	"video-orchestrator/core/tuning"
	"video-orchestrator/storage"

	"github.com/gorilla/mux"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(monitoring.NewLogger())

	// Initialize database
	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("Database connected successfully")

	// Load tuning (costs, script budgets, progress steps)
	tun, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		log.Fatalf("Failed to load tuning: %v", err)
	}

	// Initialize repositories
	creditRepo := repository.NewCreditRepository(db, tun)
	eventRepo := repository.NewEventRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// Pending-job store survives restarts; postgres by default, a local
	// JSON directory for single-node deployments.
	var store jobstore.Store
	if cfg.JobStoreMode == "file" {
		fs, err := jobstore.NewFileStore(cfg.JobStoreDir)
		if err != nil {
			log.Fatalf("Failed to open job store: %v", err)
		}
		store = fs
	} else {
		store = repository.NewTrackedJobRepository(db)
	}

	// Initialize rendering-service client
	render := renderer.NewClient(cfg.RendererURL, cfg.RendererToken)

	// Initialize notifier
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.RabbitMQURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	// Initialize orchestrator and aggregator
	orch := orchestrator.New(creditRepo, render, store, eventRepo, tun, poller.DefaultConfig())
	agg := progress.NewAggregator(render, store, notifier, orch, tun)
	orch.SetSink(agg)

	// Optional redis: status cache and rate limiting
	var statuses *cache.StatusCache
	var limiter func(http.Handler) http.Handler
	if cfg.RedisAddr != "" {
		redisClient, err := cache.NewRedisClient(ctx, cfg.RedisAddr, 0)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		statuses = cache.NewStatusCache(redisClient)
		agg.SetStatusCache(statuses)
		limiter = middleware.RateLimit(middleware.RateLimiterConfig{
			RedisClient: redisClient,
			Limit:       120,
			Window:      time.Minute,
		})
	}

	// Optional object storage: archive finished videos
	var archiver *storage.Archiver
	if cfg.MinioEndpoint != "" {
		minioClient, err := storage.NewMinioClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		archiver = storage.NewArchiver(render, minioClient, cfg.MinioBucket, artifactRepo)
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to prepare archive bucket: %v", err)
		}
		agg.SetCompletionHook(archiver)
	}

	// Initialize payment webhook service
	paymentService := payments.NewService(paymentRepo, tun)

	// Resume tracked jobs from previous runs, then start polling
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to resume tracked jobs: %v", err)
	}
	if err := agg.Start(ctx); err != nil {
		log.Fatalf("Failed to start progress aggregator: %v", err)
	}
	go orch.RunSweeper(ctx, 5*time.Minute)

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, routes.Deps{
		DB:       db,
		Orch:     orch,
		Agg:      agg,
		Render:   render,
		Payments: paymentService,
		Archiver: archiver,
		Statuses: statuses,
		Tuning:   tun,
		Limiter:  limiter,
	})

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	if err := server.Shutdown(context.Background()); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited")
}
