package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/creatorhub/token-market/internal/auth"
	"github.com/creatorhub/token-market/internal/database"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/orderbook"
	"github.com/creatorhub/token-market/internal/settlement"
	"github.com/creatorhub/token-market/internal/token"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/creatorhub/token-market/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	numMakers      = 5
	numTakers      = 5
	ordersPerMaker = 10
	serverAddress  = "http://localhost:8080"
	jwtSecret      = "token-market-secret-key"
	simAPISecret   = "sim-api-secret"
	tokenSalePrice = 100
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationStats is the shared per-route performance table
var simulationStats = map[string]*routeStats{
	"auth":    {name: "Authentication"},
	"create":  {name: "Create Order"},
	"book":    {name: "Order Book"},
	"take":    {name: "Take Order"},
	"deposit": {name: "Deposits"},
	"listing": {name: "Token Listing"},
}

// simulationClient handles HTTP communication with the market API on behalf
// of one simulated user
type simulationClient struct {
	baseURL   string
	userID    string
	authToken string
	client    *http.Client
}

// newSimulationClient authenticates one simulated user against the API
func newSimulationClient(apiKey, apiSecret string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		userID:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate %s: %w", apiKey, err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		simulationStats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// doJSON sends an authenticated request and decodes the response envelope
// into out. Idempotent mutations get a fresh idempotency key.
func (sc *simulationClient) doJSON(method, path string, payload interface{}, withIdempotency bool, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withIdempotency {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// createToken lists a new creator token through the internal API
func (sc *simulationClient) createToken(symbol, name string, price decimal.Decimal) (*types.Token, error) {
	start := time.Now()
	defer func() {
		simulationStats["listing"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"symbol":        symbol,
		"name":          name,
		"creator_id":    sc.userID,
		"current_price": price,
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Token `json:"data"`
	}
	if err := sc.doJSON("POST", "/api/v1/internal/tokens", payload, false, &result); err != nil {
		simulationStats["listing"].addFailure()
		return nil, err
	}
	return &result.Data, nil
}

// deposit credits token balance to a simulated user through the internal API
func (sc *simulationClient) deposit(userID, tokenID string, amount decimal.Decimal) error {
	start := time.Now()
	defer func() {
		simulationStats["deposit"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"user_id":  userID,
		"token_id": tokenID,
		"amount":   amount,
	}
	if err := sc.doJSON("POST", "/api/v1/internal/balances/deposit", payload, false, nil); err != nil {
		simulationStats["deposit"].addFailure()
		return err
	}
	return nil
}

// depositCash credits settlement currency to a simulated user
func (sc *simulationClient) depositCash(userID string, amount decimal.Decimal) error {
	start := time.Now()
	defer func() {
		simulationStats["deposit"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"user_id": userID,
		"amount":  amount,
	}
	if err := sc.doJSON("POST", "/api/v1/internal/cash/deposit", payload, false, nil); err != nil {
		simulationStats["deposit"].addFailure()
		return err
	}
	return nil
}

// createOrder submits a new sell order and returns it
func (sc *simulationClient) createOrder(tokenID string, amount, price decimal.Decimal) (*types.Order, error) {
	start := time.Now()
	defer func() {
		simulationStats["create"].addDuration(time.Since(start))
	}()

	payload := map[string]interface{}{
		"token_id": tokenID,
		"amount":   amount,
		"price":    price,
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := sc.doJSON("POST", "/api/v1/orders", payload, true, &result); err != nil {
		simulationStats["create"].addFailure()
		return nil, err
	}
	if result.Data.OrderID == "" {
		simulationStats["create"].addFailure()
		return nil, fmt.Errorf("no order ID in response")
	}
	return &result.Data, nil
}

// getBook fetches the current best bids for a token
func (sc *simulationClient) getBook(tokenID string, limit int) ([]types.BookEntry, error) {
	start := time.Now()
	defer func() {
		simulationStats["book"].addDuration(time.Since(start))
	}()

	var result struct {
		Success bool              `json:"success"`
		Data    []types.BookEntry `json:"data"`
	}
	path := fmt.Sprintf("/api/v1/tokens/%s/book?limit=%d", tokenID, limit)
	if err := sc.doJSON("GET", path, nil, false, &result); err != nil {
		simulationStats["book"].addFailure()
		return nil, err
	}
	return result.Data, nil
}

// takeOrder attempts to fill an open order. A conflict means another taker
// won the race; that is reported distinctly so the caller can retry.
func (sc *simulationClient) takeOrder(orderID string) (*types.Order, bool, error) {
	start := time.Now()
	defer func() {
		simulationStats["take"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders/%s/take", sc.baseURL, orderID),
		nil,
	)
	if err != nil {
		return nil, false, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return nil, true, nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		simulationStats["take"].addFailure()
		return nil, false, fmt.Errorf("take order failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool        `json:"success"`
		Data    types.Order `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, false, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range simulationStats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the market simulation: one creator token, a pool of makers
// posting sell orders below the sale price, and a pool of takers racing to
// fill the best bids until the book is empty
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// The admin client drives the internal endpoints
	admin, err := newSimulationClient(auth.TestAPIKey, auth.TestAPISecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize admin client")
	}

	creatorToken, err := admin.createToken("CREATOR", "Creator Coin", decimal.NewFromInt(tokenSalePrice))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list token")
	}
	log.Info().
		Str("token_id", creatorToken.TokenID).
		Str("symbol", creatorToken.Symbol).
		Str("current_price", creatorToken.CurrentPrice.String()).
		Msg("Token listed")

	// Fund and authenticate makers and takers
	makers := make([]*simulationClient, 0, numMakers)
	for i := 0; i < numMakers; i++ {
		key := fmt.Sprintf("maker-%d", i)
		if err := admin.deposit(key, creatorToken.TokenID, decimal.NewFromInt(1000)); err != nil {
			log.Fatal().Err(err).Str("user_id", key).Msg("Failed to fund maker")
		}
		client, err := newSimulationClient(key, simAPISecret)
		if err != nil {
			log.Fatal().Err(err).Str("user_id", key).Msg("Failed to authenticate maker")
		}
		makers = append(makers, client)
	}

	takers := make([]*simulationClient, 0, numTakers)
	for i := 0; i < numTakers; i++ {
		key := fmt.Sprintf("taker-%d", i)
		if err := admin.depositCash(key, decimal.NewFromInt(100000)); err != nil {
			log.Fatal().Err(err).Str("user_id", key).Msg("Failed to fund taker")
		}
		client, err := newSimulationClient(key, simAPISecret)
		if err != nil {
			log.Fatal().Err(err).Str("user_id", key).Msg("Failed to authenticate taker")
		}
		takers = append(takers, client)
	}

	stats := struct {
		mu            sync.Mutex
		OrdersCreated int
		OrdersFailed  int
		OrdersTaken   int
		TakeConflicts int
		TotalValue    decimal.Decimal
		OrdersByMaker map[string]int
		StartTime     time.Time
	}{
		TotalValue:    decimal.Zero,
		OrdersByMaker: make(map[string]int),
		StartTime:     time.Now(),
	}

	// Phase one: makers post sell orders below the sale price
	var makerWG sync.WaitGroup
	for _, maker := range makers {
		makerWG.Add(1)
		go func(mc *simulationClient) {
			defer makerWG.Done()
			for i := 0; i < ordersPerMaker; i++ {
				amount := decimal.NewFromInt(int64(rand.Intn(10) + 1))
				price := decimal.NewFromInt(int64(rand.Intn(tokenSalePrice-1) + 1))

				order, err := mc.createOrder(creatorToken.TokenID, amount, price)
				if err != nil {
					log.Error().Err(err).Str("maker_id", mc.userID).Msg("Failed to create order")
					stats.mu.Lock()
					stats.OrdersFailed++
					stats.mu.Unlock()
					continue
				}

				stats.mu.Lock()
				stats.OrdersCreated++
				stats.OrdersByMaker[mc.userID]++
				stats.mu.Unlock()

				log.Info().
					Str("maker_id", mc.userID).
					Str("order_id", order.OrderID).
					Str("amount", order.Amount.String()).
					Str("price", order.Price.String()).
					Msg("Order created")

				// Random sleep between orders
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(maker)
	}
	makerWG.Wait()
	log.Info().Int("orders_created", stats.OrdersCreated).Msg("All orders created")

	// Phase two: takers race over the best bids until the book drains
	var takerWG sync.WaitGroup
	for _, taker := range takers {
		takerWG.Add(1)
		go func(tc *simulationClient) {
			defer takerWG.Done()
			for {
				book, err := tc.getBook(creatorToken.TokenID, 1)
				if err != nil {
					log.Error().Err(err).Str("taker_id", tc.userID).Msg("Failed to fetch book")
					return
				}
				if len(book) == 0 {
					return
				}

				order, conflict, err := tc.takeOrder(book[0].OrderID)
				if conflict {
					stats.mu.Lock()
					stats.TakeConflicts++
					stats.mu.Unlock()
					continue
				}
				if err != nil {
					log.Error().Err(err).Str("taker_id", tc.userID).Msg("Failed to take order")
					return
				}

				stats.mu.Lock()
				stats.OrdersTaken++
				stats.TotalValue = stats.TotalValue.Add(order.Price.Mul(order.Amount))
				stats.mu.Unlock()

				log.Info().
					Str("taker_id", tc.userID).
					Str("order_id", order.OrderID).
					Str("price", order.Price.String()).
					Str("amount", order.Amount.String()).
					Msg("Order taken")
			}
		}(taker)
	}
	takerWG.Wait()

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("MARKET SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Orders Created:   %d
Orders Failed:    %d
Orders Taken:     %d
Take Conflicts:   %d
Total Value:      $%s
Duration:         %v

Maker Distribution
------------------
`, stats.OrdersCreated, stats.OrdersFailed, stats.OrdersTaken, stats.TakeConflicts,
		stats.TotalValue.StringFixed(2), duration.Round(time.Millisecond))

	// Print maker distribution with simple ASCII bar chart
	maxMakerCount := 0
	for _, count := range stats.OrdersByMaker {
		if count > maxMakerCount {
			maxMakerCount = count
		}
	}

	for maker, count := range stats.OrdersByMaker {
		barLength := int(float64(count) / float64(maxMakerCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-10s: %s (%d)\n", maker, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("orders_created", stats.OrdersCreated).
		Int("orders_taken", stats.OrdersTaken).
		Int("take_conflicts", stats.TakeConflicts).
		Str("total_value", stats.TotalValue.String()).
		Dur("duration", duration).
		Msg("Simulation completed")

	printPerformanceStats()
}

// startServer initializes and starts the market API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret)
	tokenService := token.NewService(db)
	ledgerService := ledger.NewService(db)
	settlementService := settlement.NewService(db)
	bookService := orderbook.NewService(db, tokenService, settlementService)

	// Register simulated user credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	for i := 0; i < numMakers; i++ {
		authService.RegisterAPICredentials(fmt.Sprintf("maker-%d", i), simAPISecret)
	}
	for i := 0; i < numTakers; i++ {
		authService.RegisterAPICredentials(fmt.Sprintf("taker-%d", i), simAPISecret)
	}

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	tokenHandlers := token.NewGinHandlers(tokenService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	settlementHandlers := settlement.NewGinHandlers(settlementService)
	bookHandlers := orderbook.NewGinHandlers(bookService)

	// Setup routes
	setupRoutes(router, authHandlers, tokenHandlers, bookHandlers, ledgerHandlers, settlementHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Mirrors the server binary so the simulation exercises the same surface
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
