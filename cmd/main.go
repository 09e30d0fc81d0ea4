/**
 * @description
 * This is the main entry point for the payments-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, provider API clients, message brokers, repositories, the core
 * application services, the cron scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/provider, internal/store: Internal packages.
 * - pkg/atlasclient, pkg/meridianclient: Clients for the payment provider APIs.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/vendora/payments-service/internal/api"
	"github.com/vendora/payments-service/internal/app"
	"github.com/vendora/payments-service/internal/config"
	"github.com/vendora/payments-service/internal/domain"
	"github.com/vendora/payments-service/internal/provider"
	"github.com/vendora/payments-service/internal/store"
	"github.com/vendora/payments-service/pkg/atlasclient"
	"github.com/vendora/payments-service/pkg/meridianclient"
	"github.com/vendora/payments-service/pkg/rabbitmq"
)

func main() {
	// Load the optional .env file before anything reads the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment values\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. A broken
	// broker degrades to a no-op publisher; it never blocks payments.
	var eventProducer rabbitmq.Publisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the payment provider adapters.
	registry := provider.NewRegistry(
		provider.NewAtlasAdapter(atlasclient.NewClient(cfg.AtlasPayAPIBaseURL, cfg.AtlasPayAPIKey)),
		provider.NewMeridianAdapter(meridianclient.NewClient(cfg.MeridianAPIBaseURL, cfg.MeridianAPIKey)),
	)

	// Optional Redis client for contract charge throttling.
	var redisClient *redis.Client
	if cfg.ContractChargeLimitPerMin > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; contract charge rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; contract charge rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient = redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; contract charge rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
					redisClient = nil
				} else {
					defer redisClient.Close()
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	ledger := app.NewService(repository, registry, eventProducer)
	ledger.SetProviderTimeout(time.Duration(cfg.ProviderTimeoutSeconds) * time.Second)

	contracts := app.NewContractManager(repository, registry, ledger, eventProducer)
	if redisClient != nil {
		contracts.SetChargeRateLimiter(
			app.NewRedisChargeRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
			cfg.ContractChargeLimitPerMin,
		)
	}

	ingestor := app.NewWebhookIngestor(ledger)

	// Start the cron scheduler for due-contract charging and card expiry.
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(contracts, slogger, cfg.SchedulerJobBatchSize)
	scheduler := app.NewScheduler(jobs, slogger, cfg.ContractChargeJobSchedule, cfg.CardExpiryJobSchedule)
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers.
	handlers := api.NewPaymentHandlers(ledger, contracts, ingestor, map[domain.Provider]string{
		domain.ProviderAtlasPay: cfg.AtlasPayWebhookSecret,
		domain.ProviderMeridian: cfg.MeridianWebhookSecret,
	})

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(handlers, cfg.JWTSecret, cfg.JWTIssuer))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
