package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Rendering service
	RendererURL   string
	RendererToken string

	// Redis (optional; empty disables status cache and rate limiting)
	RedisAddr string

	// RabbitMQ (optional; empty disables event publishing)
	RabbitMQURL string

	// Object storage (optional; empty endpoint disables archiving)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Tuning file (optional; built-in defaults when missing)
	TuningPath string

	// Pending-job store: "postgres" or "file"
	JobStoreMode string
	JobStoreDir  string
}

// Load loads configuration from environment variables
func Load() *Config {
	// Local development keeps settings in a .env file; absence is fine.
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost/video_orchestrator?sslmode=disable"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		RendererURL:    getEnv("RENDERER_URL", "http://localhost:9090"),
		RendererToken:  getEnv("RENDERER_TOKEN", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RabbitMQURL:    getEnv("RABBITMQ_URL", ""),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "videos"),
		MinioUseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		TuningPath:     getEnv("TUNING_PATH", "config/tuning.yaml"),
		JobStoreMode:   getEnv("JOBSTORE_MODE", "postgres"),
		JobStoreDir:    getEnv("JOBSTORE_DIR", "data/jobs"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
