package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/api"
	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/circuitbreaker"
	"github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/notify"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/preference"
	"github.com/lalithlochan/beacon/internal/realtime"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/sns"
	"github.com/lalithlochan/beacon/internal/sqs"
	"github.com/lalithlochan/beacon/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET is empty, tokens are signed with an empty key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs rate limiting, idempotency and cross-instance realtime
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting, idempotency and cross-instance realtime disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	hub := realtime.NewHub()
	var publisher realtime.Publisher = hub
	var rateLimiter *redis.RateLimiter
	handlerOpts := []api.Option{api.WithStackTraces(cfg.Env != "production")}

	if redisClient != nil {
		defer redisClient.Close()

		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
		handlerOpts = append(handlerOpts, api.WithIdempotency(redis.NewIdempotencyService(redisClient, logger)))

		bridge := realtime.NewBridge(redis.NewPubSub(redisClient, cfg.RealtimeChannel, logger), hub, logger)
		publisher = bridge
		go bridge.Run(ctx)
	}

	senders, err := buildSenders(ctx, cfg, repo, logger)
	if err != nil {
		return err
	}
	sender := worker.NewMultiSender(logger, append([]worker.Sender{worker.NewInAppSender(publisher)}, senders...)...)

	prefs := preference.NewStore(repo, cfg.DefaultTimezone, logger)
	service := notify.New(repo, prefs, sender, notify.Config{
		DeliveryTimeout:      cfg.DeliveryTimeout,
		BroadcastConcurrency: cfg.BroadcastConcurrency,
	}, logger)

	sweeper := worker.New(service, worker.Config{Interval: cfg.CleanupInterval}, logger)
	go sweeper.Start(ctx)

	handler := api.NewHandler(logger, service, prefs, handlerOpts...)
	verifier := auth.NewVerifier(cfg.JWTSecret)
	stream := realtime.NewStreamHandler(hub, cfg.CORSOrigins, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.Authenticate(verifier, logger))

		// the stream outlives the request timeout
		r.Get("/notifications/stream", stream.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(api.RateLimitMiddleware(rateLimiter, logger))
			handler.Routes(r, nil)
		})
	})

	r.Get("/health", healthHandler(database, redisClient))
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket streams stay open
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildSenders returns the external channel senders in routing order. The
// SQS producer, when configured, takes every external channel ahead of the
// direct providers.
func buildSenders(ctx context.Context, cfg *config.Config, tokens worker.TokenPruner, logger *zap.Logger) ([]worker.Sender, error) {
	var senders []worker.Sender

	if cfg.DeliveryQueueURL != "" {
		producer, err := sqs.NewProducer(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.DeliveryQueueURL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqs producer: %w", err)
		}
		senders = append(senders, protect("sqs", producer, logger))
		logger.Info("external channels handed to delivery queue", zap.String("queue_url", cfg.DeliveryQueueURL))
	}

	var logChannels []db.Channel

	switch cfg.EmailProvider {
	case "ses":
		ses, err := worker.NewSESSender(ctx, worker.SESConfig{Region: cfg.AWSRegion, FromEmail: cfg.SESFromEmail}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES email sender: %w", err)
		}
		senders = append(senders, protect("ses", ses, logger))
	case "resend":
		senders = append(senders, protect("resend", worker.NewResendSender(cfg.ResendAPIKey, cfg.FromEmail, logger), logger))
	default:
		logChannels = append(logChannels, db.ChannelEmail)
	}

	switch cfg.SMSProvider {
	case "sns":
		snsSender, err := worker.NewSNSSender(ctx, worker.SNSConfig{Region: cfg.SNSRegion}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS sms sender: %w", err)
		}
		senders = append(senders, protect("sns_sms", snsSender, logger))
	default:
		logChannels = append(logChannels, db.ChannelSMS)
	}

	switch cfg.PushProvider {
	case "expo":
		gateway := worker.NewExpoGateway(logger,
			worker.ExpoConfig{URL: cfg.ExpoPushURL, Timeout: cfg.PushTimeout},
			worker.WithTokenPruner(tokens),
		)
		senders = append(senders, protect("expo", worker.NewPushSender(gateway, logger), logger))
	case "sns":
		publisher, err := sns.NewPublisher(ctx, cfg.PushTopicARN, awsconfig.WithRegion(cfg.SNSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to create SNS push publisher: %w", err)
		}
		senders = append(senders, protect("sns_push", worker.NewPushSender(publisher, logger), logger))
	default:
		logChannels = append(logChannels, db.ChannelPush)
	}

	if len(logChannels) > 0 {
		senders = append(senders, worker.NewLogSender(logger, logChannels...))
	}

	logger.Info("delivery providers configured",
		zap.String("email", cfg.EmailProvider),
		zap.String("sms", cfg.SMSProvider),
		zap.String("push", cfg.PushProvider),
		zap.Bool("queue", cfg.DeliveryQueueURL != ""),
	)

	return senders, nil
}

func protect(name string, sender worker.Sender, logger *zap.Logger) worker.Sender {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}, logger)
	return circuitbreaker.NewProtectedSender(sender, breaker, logger)
}

func healthHandler(database *db.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		metrics.SetDBConnections(database.AcquiredConns())

		if err := database.Health(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}
