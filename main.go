// Package main provides the main entry point for the group-buy campaign engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/taleroad/groupbuy-engine/app/handlers"
	"github.com/taleroad/groupbuy-engine/app/router"
	"github.com/taleroad/groupbuy-engine/app/scheduler"
	"github.com/taleroad/groupbuy-engine/app/services"
	businessflow "github.com/taleroad/groupbuy-engine/business_flow"
	"github.com/taleroad/groupbuy-engine/config"
	"github.com/taleroad/groupbuy-engine/repository"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.Config
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting group-buy engine...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if client == nil {
		return cancel
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializePaymentGateway selects the payment gateway implementation from config
func initializePaymentGateway(cfg config.PaymentConfig) services.PaymentGateway {
	if cfg.UseMock {
		log.Println("Payment gateway running in mock mode")
		return services.NewMockPaymentGateway()
	}
	return services.NewMidtransGateway(cfg.ServerKey, cfg.UseProduction)
}

// initializeOrderService selects the order service implementation from config
func initializeOrderService(cfg config.OrdersConfig) services.OrderService {
	if cfg.UseMock {
		log.Println("Order service running in mock mode")
		return services.NewMockOrderService()
	}
	return services.NewHTTPOrderClient(cfg.BaseURL, cfg.APIKey, cfg.Timeout)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.Config) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	cancel := startCacheHealthMonitor(context.Background(), rc, 30*time.Second)
	stopFuncs = append(stopFuncs, cancel)

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	commitmentRepo := repository.NewCommitmentRepository(db)
	runRepo := repository.NewFulfillmentRunRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)

	// Initialize services
	gateway := initializePaymentGateway(cfg.Payment)
	orderService := initializeOrderService(cfg.Orders)
	notificationService := services.NewNotificationService(
		services.NewMockMessageSender(),
		cfg.Notifications.RatePerSecond,
		cfg.Notifications.Burst,
	)

	// Initialize flows
	campaignFlow := businessflow.NewCampaignFlow(
		campaignRepo,
		commitmentRepo,
		auditRepo,
		gateway,
		notificationService,
		rc,
		&cfg.Cache,
		db,
	)

	commitmentFlow := businessflow.NewCommitmentFlow(
		campaignRepo,
		commitmentRepo,
		auditRepo,
		gateway,
		notificationService,
		db,
	)

	fulfillmentFlow := businessflow.NewFulfillmentFlow(
		campaignRepo,
		commitmentRepo,
		runRepo,
		auditRepo,
		orderService,
		gateway,
		notificationService,
		db,
	)

	// Background workers. Both loops stay reachable through the admin
	// trigger endpoints even when their tickers are disabled.
	processor := scheduler.NewFulfillmentProcessor(fulfillmentFlow, rc, cfg.Scheduler, cfg.Logging)
	sweeper := scheduler.NewExpirySweeper(fulfillmentFlow, rc, cfg.Scheduler, cfg.Logging)

	if cfg.Scheduler.FulfillmentEnabled {
		stopFuncs = append(stopFuncs, processor.Start(context.Background()))
	}
	if cfg.Scheduler.SweepEnabled {
		stopFuncs = append(stopFuncs, sweeper.Start(context.Background()))
	}

	// Initialize handlers
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)
	commitmentHandler := handlers.NewCommitmentHandler(commitmentFlow)
	adminHandler := handlers.NewAdminHandler(processor, sweeper)

	// Initialize router
	appRouter := router.NewFiberRouter(campaignHandler, commitmentHandler, adminHandler, cfg)

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
