// Package app wires configuration, storage, messaging, and services into
// runnable units for the API server and the worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/vantagecommodities/vantage/adapter/api"
	analyticsApp "github.com/vantagecommodities/vantage/internal/analytics/application"
	analyticsDomain "github.com/vantagecommodities/vantage/internal/analytics/domain"
	analyticsPersistence "github.com/vantagecommodities/vantage/internal/analytics/infrastructure/persistence"
	assistantApp "github.com/vantagecommodities/vantage/internal/assistant/application"
	assistantInfra "github.com/vantagecommodities/vantage/internal/assistant/infrastructure"
	billingApp "github.com/vantagecommodities/vantage/internal/billing/application"
	billingDomain "github.com/vantagecommodities/vantage/internal/billing/domain"
	billingPersistence "github.com/vantagecommodities/vantage/internal/billing/infrastructure/persistence"
	billingStripe "github.com/vantagecommodities/vantage/internal/billing/infrastructure/stripe"
	identityApp "github.com/vantagecommodities/vantage/internal/identity/application"
	identityDomain "github.com/vantagecommodities/vantage/internal/identity/domain"
	identityPersistence "github.com/vantagecommodities/vantage/internal/identity/infrastructure/persistence"
	marketApp "github.com/vantagecommodities/vantage/internal/market/application"
	marketDomain "github.com/vantagecommodities/vantage/internal/market/domain"
	"github.com/vantagecommodities/vantage/internal/market/infrastructure/providers"
	notificationApp "github.com/vantagecommodities/vantage/internal/notification/application"
	notificationDomain "github.com/vantagecommodities/vantage/internal/notification/domain"
	notificationPersistence "github.com/vantagecommodities/vantage/internal/notification/infrastructure/persistence"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/database"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/eventbus"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/migrations"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/outbox"
	"github.com/vantagecommodities/vantage/internal/shared/infrastructure/persistence"
	usageApp "github.com/vantagecommodities/vantage/internal/usage/application"
	usageDomain "github.com/vantagecommodities/vantage/internal/usage/domain"
	usageInfra "github.com/vantagecommodities/vantage/internal/usage/infrastructure"
	"github.com/vantagecommodities/vantage/pkg/config"
)

// Container holds the wired application graph.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DB    *database.Connection
	Redis *redis.Client

	// Repositories
	Users         identityDomain.UserRepository
	Customers     identityDomain.CustomerRepository
	Subscriptions billingDomain.SubscriptionRepository
	Processed     billingDomain.ProcessedEventRepository
	Events        analyticsDomain.EventRepository
	Usage         usageDomain.Repository
	Mail          notificationDomain.Repository
	Outbox        outbox.Repository
	TxManager     persistence.TxManager

	// Services
	Provider   billingDomain.BillingProvider
	Dispatcher *notificationApp.Dispatcher
	Tracker    *usageApp.Tracker
	Recorder   *analyticsApp.Recorder
	Identity   *identityApp.Service
	Webhook    *billingApp.WebhookService
	Lifecycle  *billingApp.LifecycleHandler
	Cleanup    *identityApp.CleanupHandler
	Market     *marketApp.Aggregator
	Assistant  *assistantApp.Assistant

	// Messaging
	WebhookIngress *billingStripe.WebhookHandler
}

// NewInProcessBus builds a synchronous bus with the lifecycle and cleanup
// handlers registered, for single-binary mode.
func (c *Container) NewInProcessBus() *eventbus.InProcessEventBus {
	bus := eventbus.NewInProcessEventBus(c.Logger)
	c.RegisterConsumers(bus)
	return bus
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// New connects storage, runs migrations, and wires the service graph.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	conn, err := database.Connect(ctx, database.Config{
		Driver:     database.DetectDriver(cfg.DatabaseURL),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = conn

	if err := c.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	c.wireRepositories()

	if err := c.wireUsage(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	c.wireServices(ctx)

	return c, nil
}

func (c *Container) migrate(ctx context.Context) error {
	switch c.DB.Driver() {
	case database.DriverPostgres:
		if err := migrations.RunPostgresMigrations(ctx, c.DB.Pool()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	case database.DriverSQLite:
		if err := migrations.RunSQLiteMigrations(ctx, c.DB.DB()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	c.Logger.Info("database ready", "driver", c.DB.Driver())
	return nil
}

func (c *Container) wireRepositories() {
	switch c.DB.Driver() {
	case database.DriverPostgres:
		pool := c.DB.Pool()
		c.Users = identityPersistence.NewPostgresUserRepository(pool)
		c.Customers = identityPersistence.NewPostgresCustomerRepository(pool)
		c.Subscriptions = billingPersistence.NewPostgresSubscriptionRepository(pool)
		c.Processed = billingPersistence.NewPostgresProcessedEventRepository(pool)
		c.Events = analyticsPersistence.NewPostgresEventRepository(pool)
		c.Mail = notificationPersistence.NewPostgresMailRepository(pool)
		c.Outbox = outbox.NewPostgresRepository(pool)
		c.TxManager = persistence.NewPgxTxManager(pool)
	case database.DriverSQLite:
		db := c.DB.DB()
		c.Users = identityPersistence.NewSQLiteUserRepository(db)
		c.Customers = identityPersistence.NewSQLiteCustomerRepository(db)
		c.Subscriptions = billingPersistence.NewSQLiteSubscriptionRepository(db)
		c.Processed = billingPersistence.NewSQLiteProcessedEventRepository(db)
		c.Events = analyticsPersistence.NewSQLiteEventRepository(db)
		c.Mail = notificationPersistence.NewSQLiteMailRepository(db)
		c.Outbox = outbox.NewSQLiteRepository(db)
		c.TxManager = persistence.NewPassthroughTxManager()
	}
}

func (c *Container) wireUsage(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		c.Logger.Info("no Redis configured, using in-memory usage counters")
		c.Usage = usageInfra.NewMemoryRepository()
		return nil
	}

	opts, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	c.Redis = client
	c.Usage = usageInfra.NewRedisRepository(client)
	return nil
}

func (c *Container) wireServices(ctx context.Context) {
	cfg := c.Config

	c.Provider = billingStripe.NewClient(cfg.StripeAPIKey)
	c.Dispatcher = notificationApp.NewDispatcher(c.Mail, cfg.BillingPortalURL, c.Logger)
	c.Tracker = usageApp.NewTracker(c.Usage, c.Logger)
	c.Recorder = analyticsApp.NewRecorder(c.Events, c.Logger)
	c.Identity = identityApp.NewService(c.Users, c.Outbox, c.TxManager, c.Logger)
	c.Webhook = billingApp.NewWebhookService(
		c.Subscriptions, c.Customers, c.Processed, c.Outbox, c.Recorder, c.TxManager, c.Logger)
	c.WebhookIngress = billingStripe.NewWebhookHandler(c.Webhook, cfg.StripeWebhookSecret, c.Logger)

	c.Lifecycle = billingApp.NewLifecycleHandler(
		c.Users, c.Processed, c.Provider, c.Dispatcher, c.Tracker, c.Recorder, c.Logger)
	c.Cleanup = identityApp.NewCleanupHandler(
		c.Users, c.Customers, c.Subscriptions, c.Provider, c.Tracker, c.Dispatcher, c.Logger)

	c.Market = marketApp.NewAggregator(c.marketProviders(), c.Logger)

	var llm assistantApp.ChatClient
	if cfg.GeminiAPIKey != "" {
		gemini, err := assistantInfra.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			c.Logger.Warn("assistant LLM unavailable, chat will degrade", "error", err)
		} else {
			llm = gemini
		}
	} else {
		c.Logger.Info("no Gemini key configured, chat will degrade")
	}
	c.Assistant = assistantApp.NewAssistant(llm, c.Market, c.Logger)
}

// marketProviders builds the fallback chain: live providers behind circuit
// breakers, with static reference prices last.
func (c *Container) marketProviders() []marketDomain.Provider {
	var chain []marketDomain.Provider
	if key := c.Config.TwelveDataAPIKey; key != "" {
		chain = append(chain, providers.NewBreakerProvider(providers.NewTwelveDataProvider(key), c.Logger))
	}
	if key := c.Config.FinnhubAPIKey; key != "" {
		chain = append(chain, providers.NewBreakerProvider(providers.NewFinnhubProvider(key), c.Logger))
	}
	chain = append(chain, providers.NewReferenceProvider())
	return chain
}

// APIServer builds the HTTP server around the wired services.
func (c *Container) APIServer() *api.Server {
	handler := api.NewHandler(
		c.Assistant, c.Market, c.WebhookIngress, c.Tracker, c.Recorder, c.Identity, c.Logger)
	auth := api.NewAuthMiddleware(c.Users, c.Logger)
	limiter := api.NewRateLimiter(c.Config.RateLimitPerSecond, c.Config.RateLimitBurst)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = c.Config.HTTPAddr

	return api.NewServer(serverCfg, handler, auth, limiter, c.Logger)
}

// RegisterConsumers attaches the lifecycle and cleanup handlers to a bus.
func (c *Container) RegisterConsumers(bus interface{ RegisterConsumer(eventbus.EventConsumer) }) {
	bus.RegisterConsumer(c.Lifecycle)
	bus.RegisterConsumer(c.Cleanup)
}

// Close releases held connections.
func (c *Container) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
