package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	Environment        string // "development" enables console logging
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	MaxUploadMB        int

	// Auth: session tokens are HS256 with JWTSecret, or RS256 with JWTPublicKey (PEM)
	JWTSecret    string
	JWTPublicKey string

	// Clerk billing/user webhooks (Svix signed)
	WebhookSigningSecret string

	// Database
	DatabaseURL string

	// Redis (webhook delivery de-duplication, optional)
	RedisURL        string
	WebhookDedupTTL time.Duration

	// Supabase
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// Gemini (image generation) and Veo (video generation) share the key
	GeminiKey   string
	GeminiModel string
	VeoModel    string

	// Video polling
	VideoPollInterval time.Duration
	VideoMaxWait      time.Duration

	// Worker
	TempDir           string
	UploadConcurrency int

	// Sentry
	SentryDSN string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		Environment:           getEnv("APP_ENV", "development"),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		MaxUploadMB:           getEnvInt("MAX_UPLOAD_MB", 32),
		JWTSecret:             getEnv("JWT_SECRET", ""),
		JWTPublicKey:          getEnv("JWT_PUBLIC_KEY", ""),
		WebhookSigningSecret:  getEnv("CLERK_WEBHOOK_SIGNING_SECRET", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		WebhookDedupTTL:       getEnvDuration("WEBHOOK_DEDUP_TTL", 24*time.Hour),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "adshot-media"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview"),
		VeoModel:              getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		VideoPollInterval:     getEnvDuration("VIDEO_POLL_INTERVAL", 10*time.Second),
		VideoMaxWait:          getEnvDuration("VIDEO_MAX_WAIT", 15*time.Minute),
		TempDir:               getEnv("TEMP_DIR", os.TempDir()),
		UploadConcurrency:     getEnvInt("UPLOAD_CONCURRENCY", 4),
		SentryDSN:             getEnv("SENTRY_DSN", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.GeminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if c.JWTSecret == "" && c.JWTPublicKey == "" {
		return fmt.Errorf("either JWT_SECRET or JWT_PUBLIC_KEY is required")
	}

	if c.WebhookSigningSecret == "" {
		return fmt.Errorf("CLERK_WEBHOOK_SIGNING_SECRET is required")
	}

	if c.VideoPollInterval <= 0 || c.VideoMaxWait < c.VideoPollInterval {
		return fmt.Errorf("VIDEO_MAX_WAIT must be at least VIDEO_POLL_INTERVAL")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
