package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/adshot/internal/api"
	"github.com/bobarin/adshot/internal/config"
	"github.com/bobarin/adshot/internal/credits"
	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/dedup"
	"github.com/bobarin/adshot/internal/report"
	"github.com/bobarin/adshot/internal/services"
	"github.com/bobarin/adshot/internal/storage"
	"github.com/bobarin/adshot/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	svix "github.com/svix/svix-webhooks/go"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Str("env", cfg.Environment).Msg("Starting Adshot API...")

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	cancelMigrate()
	log.Info().Msg("Connected to database")

	// Optional Redis for webhook de-duplication
	var deduper api.Deduper
	if cfg.RedisURL != "" {
		store, err := dedup.New(cfg.RedisURL, cfg.WebhookDedupTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer store.Close()
		deduper = store
		log.Info().Msg("Webhook de-duplication enabled")
	} else {
		log.Warn().Msg("No REDIS_URL set, webhook deliveries are not de-duplicated")
	}

	// Initialize storage
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	log.Info().Str("bucket", cfg.SupabaseStorageBucket).Msg("Initialized Supabase storage")

	// Gemini and Veo share one genai client
	genaiClient, err := services.NewGenAIClient(context.Background(), cfg.GeminiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create genai client")
	}
	geminiSvc := services.NewGeminiService(genaiClient, cfg.GeminiModel)
	veoSvc := services.NewVeoService(genaiClient, cfg.VeoModel)

	reporter, err := report.NewSentry(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sentry")
	}
	if cfg.SentryDSN == "" {
		log.Warn().Msg("No SENTRY_DSN set, job failures are only logged")
	}
	defer reporter.Flush(5 * time.Second)

	ledger := credits.NewLedger(database)

	w := worker.New(database, ledger, geminiSvc, veoSvc, stor, reporter, worker.Options{
		TempDir:           cfg.TempDir,
		PollInterval:      cfg.VideoPollInterval,
		MaxPollWait:       cfg.VideoMaxWait,
		UploadConcurrency: cfg.UploadConcurrency,
	})

	auth, err := api.NewAuthenticator(cfg.JWTSecret, cfg.JWTPublicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure authentication")
	}

	verifier, err := svix.NewWebhook(cfg.WebhookSigningSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure webhook verification")
	}

	handler := api.NewHandler(database, w, cfg.TempDir, cfg.MaxUploadMB)
	webhook := api.NewWebhookHandler(verifier, database, ledger, deduper, reporter)
	router := api.NewRouter(handler, webhook, auth, api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	// No WriteTimeout: video requests stay open until Veo finishes.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
