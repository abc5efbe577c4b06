package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/guardianlink/guardian/internal/ai"
	"github.com/guardianlink/guardian/internal/api"
	"github.com/guardianlink/guardian/internal/circuitbreaker"
	"github.com/guardianlink/guardian/internal/config"
	"github.com/guardianlink/guardian/internal/db"
	"github.com/guardianlink/guardian/internal/dispatch"
	"github.com/guardianlink/guardian/internal/events"
	"github.com/guardianlink/guardian/internal/metrics"
	"github.com/guardianlink/guardian/internal/observ"
	"github.com/guardianlink/guardian/internal/redis"
	"github.com/guardianlink/guardian/internal/sos"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting guardian gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("telephony", cfg.TelephonyConfigured()),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repository
	repo := db.NewRepository(database, logger)

	// Initialize Redis for channel settings, idempotency, and rate limiting
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, settings and idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var stateService *redis.StateService
	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		stateService = redis.NewStateService(redisClient, logger)
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  10,              // 10 triggers
			Window: 1 * time.Minute, // per minute per device
		})
		defer redisClient.Close()
	}

	// Initialize responder feed producer
	var producer *events.Producer
	if cfg.SQSQueueURL != "" {
		producer, err = events.NewProducer(ctx, events.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			logger.Warn("responder feed unavailable, alert events will not be published",
				zap.Error(err),
			)
		} else {
			defer producer.Close()
		}
	}

	// Hosted model behind a circuit breaker. Without an API key the
	// classifier is unavailable and composition uses the fallback template.
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "model",
		MaxFailures:      5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}, logger)

	var modelClient *ai.Client
	if cfg.OpenAIAPIKey != "" {
		modelClient, err = ai.NewClient(ai.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
		}, breaker, logger)
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
	} else {
		logger.Warn("no model API key configured, simulation disabled and composition falls back to template")
	}

	composer := ai.NewComposer(modelClient, logger)
	classifier := ai.NewClassifier(modelClient, logger)

	// Multi-channel dispatcher
	dispatcher := dispatch.New(dispatch.Config{
		Twilio: dispatch.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioPhoneNumber,
		},
		Timeout: time.Duration(cfg.DispatchTimeout) * time.Second,
	}, logger)

	// SOS orchestrator. Interface conversions keep optional deps nil-safe.
	var settings sos.Settings
	if stateService != nil {
		settings = stateService
	}
	var publisher sos.Publisher
	if producer != nil {
		publisher = producer
	}
	sosService := sos.New(repo, settings, dispatcher, composer, classifier, publisher, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var settingsStore api.SettingsStore
	if stateService != nil {
		settingsStore = stateService
	}
	var handler *api.Handler
	if producer != nil {
		handler = api.NewHandlerWithPublisher(logger, repo, sosService, settingsStore, idempotencyService, producer)
	} else {
		handler = api.NewHandler(logger, repo, sosService, settingsStore, idempotencyService)
	}

	r.Route("/v1", func(r chi.Router) {
		// Per-device rate limiting on all API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.DeviceKeyFunc))

		r.Post("/sos", handler.TriggerSOS)
		r.Post("/sos/simulate", handler.SimulateSOS)

		r.Post("/contacts", handler.CreateContact)
		r.Get("/contacts", handler.ListContacts)
		r.Delete("/contacts/{id}", handler.DeleteContact)

		r.Get("/alerts", handler.ListAlerts)
		r.Patch("/alerts/{id}/status", handler.UpdateAlertStatus)

		r.Get("/settings", handler.GetSettings)
		r.Put("/settings", handler.PutSettings)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
