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

	"github.com/creatorhub/token-market/internal/auth"
	"github.com/creatorhub/token-market/internal/database"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/orderbook"
	"github.com/creatorhub/token-market/internal/settlement"
	"github.com/creatorhub/token-market/internal/token"
	"github.com/creatorhub/token-market/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const jwtSecret = "token-market-secret-key"

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

// main initializes and runs the token market API server with graceful
// shutdown support
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	tokenService := token.NewService(db)
	tokenHandlers := token.NewGinHandlers(tokenService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	settlementService := settlement.NewService(db)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	bookService := orderbook.NewService(db, tokenService, settlementService)
	bookHandlers := orderbook.NewGinHandlers(bookService)

	// Create and start the mark-to-market price processor
	priceProcessor := token.NewProcessor(tokenService.GetDB())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go priceProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, tokenHandlers, bookHandlers, ledgerHandlers, settlementHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
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
// - Market routes: Public read-only token, book and trade data
// - Order and balance routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tokenHandlers *token.GinHandlers,
	bookHandlers *orderbook.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Market data routes (public)
		tokens := v1.Group("/tokens")
		{
			tokens.GET("", tokenHandlers.ListTokensHandler())
			tokens.GET("/:token_id", tokenHandlers.GetTokenHandler())
			tokens.GET("/:token_id/book", bookHandlers.BookHandler())
			tokens.GET("/:token_id/price", tokenHandlers.GetPriceHandler())
			tokens.GET("/:token_id/trades", settlementHandlers.GetTokenTradesHandler())
		}

		// Trade lookup (public)
		v1.GET("/trades/:trade_id", settlementHandlers.GetTradeHandler())

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(jwtSecret))
		{
			orders.POST("", bookHandlers.CreateOrderHandler())
			orders.GET("/:order_id", bookHandlers.GetOrderHandler())
			orders.GET("/:order_id/trade", settlementHandlers.GetOrderTradeHandler())
			orders.POST("/:order_id/take", bookHandlers.TakeOrderHandler())
		}

		// Account routes
		account := v1.Group("/account")
		account.Use(middleware.JWTAuth(jwtSecret))
		{
			account.GET("/balances/:token_id", ledgerHandlers.GetBalanceHandler())
			account.GET("/cash", ledgerHandlers.GetCashHandler())
			account.GET("/trades", settlementHandlers.GetUserTradesHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/tokens", tokenHandlers.CreateTokenHandler())
			internal.POST("/balances/deposit", ledgerHandlers.DepositHandler())
			internal.POST("/cash/deposit", ledgerHandlers.DepositCashHandler())
		}
	}
}
