package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ramppool/ramp-api/internal/aggregator"
	"github.com/ramppool/ramp-api/internal/auth"
	"github.com/ramppool/ramp-api/internal/config"
	"github.com/ramppool/ramp-api/internal/database"
	"github.com/ramppool/ramp-api/internal/execution"
	"github.com/ramppool/ramp-api/internal/gateway"
	"github.com/ramppool/ramp-api/internal/ledger"
	"github.com/ramppool/ramp-api/internal/orders"
	"github.com/ramppool/ramp-api/internal/pricing"
	"github.com/ramppool/ramp-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the ramp API server with graceful shutdown
// support. It wires the pool settlement stack bottom-up: ledger,
// pricing, gateway, execution engine, order queue.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize chain gateway. Without a hot wallet key the server can
	// still serve quotes and order intake; execution will fail orders.
	chainGateway, err := gateway.NewEVMGateway(cfg.ChainRPCs, cfg.HotWalletKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize chain gateway")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterAPICredentials(cfg.OperatorAPIKey, cfg.OperatorAPISecret)

	ledgerService := ledger.NewService(db, chainGateway)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	pricingService := pricing.NewService(
		pricing.NewHTTPRateProvider(cfg.RateAPIBaseURL),
		cfg.OnRampMarkup, cfg.OffRampDiscount, cfg.QuoteTTL)
	pricingHandlers := pricing.NewGinHandlers(pricingService)

	engine := execution.NewEngine(ledgerService, chainGateway, aggregator.NewUnavailable(), cfg.ConfirmTimeout)

	orderService := orders.NewService(db, engine)
	orderHandlers := orders.NewGinHandlers(orderService)

	// Create and start the background order processor
	orderProcessor := orders.NewProcessor(orderService, cfg.ProcessInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go orderProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, orderHandlers, ledgerHandlers, pricingHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order and balance routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	pricingHandlers *pricing.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.GET("/:order_id/attempts", orderHandlers.GetAttemptsHandler())
		}

		// Pool balance routes
		balanceGroup := v1.Group("/balances")
		balanceGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			balanceGroup.GET("", ledgerHandlers.GetBalancesHandler())
		}

		// Pricing routes
		priceGroup := v1.Group("/prices")
		priceGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			priceGroup.POST("/:direction", pricingHandlers.QuoteHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/orders/:order_id/process", orderHandlers.ProcessOrderHandler())
			internal.POST("/orders/:order_id/retry", orderHandlers.RetryOrderHandler())
			internal.POST("/payments/confirm", orderHandlers.PaymentWebhookHandler())
			internal.POST("/balances/sync", ledgerHandlers.SyncBalancesHandler())
			internal.POST("/balances/track", ledgerHandlers.TrackTokenHandler())
			internal.POST("/pricing/markup", pricingHandlers.UpdateMarkupHandler())
		}
	}
}
