package orderbook

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/creatorhub/token-market/internal/auth"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/settlement"
	"github.com/creatorhub/token-market/internal/token"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/creatorhub/token-market/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the single-sided order book: makers post sell orders below the
// token's current price, the full amount is escrowed on creation, and takers
// fill the best (lowest-price, oldest) open order in one settled transaction.
type Service struct {
	gormDB *gorm.DB
	db     *Database
	tokens *token.Service
	trades *settlement.Service
}

// NewService creates a new order book service with the given database
// connection and collaborators
func NewService(gormDB *gorm.DB, tokens *token.Service, trades *settlement.Service) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
		tokens: tokens,
		trades: trades,
	}
}

// CreateOrder validates and posts a new sell order, escrowing the maker's
// tokens atomically with the order row. Idempotency keys make retries return
// the originally created order.
func (s *Service) CreateOrder(tokenID, makerID string, amount, price decimal.Decimal, idempotencyKey string) (*types.Order, error) {
	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.New("order not found for idempotency key")
		}
		return existing, nil
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}

	tok, err := s.tokens.GetToken(tokenID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrInvalidToken
	}

	// Sell orders must undercut the current sale price; checked once at
	// creation, never re-checked afterwards.
	if price.GreaterThanOrEqual(tok.CurrentPrice) {
		return nil, ErrInvalidPrice
	}

	order := &types.Order{
		OrderID:   uuid.New().String(),
		TokenID:   tokenID,
		MakerID:   makerID,
		Amount:    amount,
		Price:     price,
		Status:    types.OrderStatusOpen,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	// Escrow and order row land together or not at all.
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := ledger.Reserve(tx, makerID, tokenID, amount); err != nil {
			return err
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		return createIdempotencyRecord(tx, idempotencyKey, order.OrderID, "order")
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("token_id", tokenID).
		Str("maker_id", makerID).
		Str("amount", amount.String()).
		Str("price", price.String()).
		Msg("order created")

	return order, nil
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(orderID string) (*types.Order, error) {
	return s.db.GetOrder(orderID)
}

// GetUserOrders retrieves all orders created by the maker
func (s *Service) GetUserOrders(makerID string) ([]types.Order, error) {
	return s.db.GetUserOrders(makerID)
}

// BestBids returns up to limit open orders for the token, best-first.
func (s *Service) BestBids(tokenID string, limit int) ([]types.Order, error) {
	return s.db.BestBids(tokenID, limit)
}

// IsTakeable reports whether the order is the single best bid for its token
// right now. Concurrent takers can invalidate the answer immediately, so Take
// is the only authority on who wins the order.
func (s *Service) IsTakeable(order *types.Order) (bool, error) {
	bids, err := s.db.BestBids(order.TokenID, 1)
	if err != nil {
		return false, err
	}
	return len(bids) == 1 && bids[0].OrderID == order.OrderID, nil
}

// Take fills an open order for the taker: the claim, the settlement transfer
// and the idempotency marker commit as one transaction. Losing the claim race
// returns ErrOrderAlreadyTaken; a settlement rejection returns
// ErrSettlementFailed with everything rolled back and the order still open.
//
// Taking your own order is allowed.
func (s *Service) Take(orderID, takerID string, idempotencyKey string) (*types.Order, error) {
	// Check for existing idempotency record
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record.ExpiresAt.After(time.Now()) {
		return s.db.GetOrder(record.ResourceID)
	}

	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, gorm.ErrRecordNotFound
	}

	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := claimOrder(tx, orderID, takerID); err != nil {
			return err
		}

		if _, err := s.trades.Sell(tx, orderID, order.TokenID, order.MakerID, takerID, order.Price, order.Amount); err != nil {
			return fmt.Errorf("%w: %w", ErrSettlementFailed, err)
		}

		return createIdempotencyRecord(tx, idempotencyKey, orderID, "take")
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("order_id", orderID).
		Str("taker_id", takerID).
		Str("maker_id", order.MakerID).
		Str("amount", order.Amount.String()).
		Str("price", order.Price.String()).
		Msg("order taken")

	return s.db.GetOrder(orderID)
}

// GinHandlers contains HTTP handlers for order book endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order book endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

type createOrderRequest struct {
	TokenID string          `json:"token_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Price   decimal.Decimal `json:"price" binding:"required"`
}

// CreateOrderHandler handles POST requests to create new sell orders
// Requires a valid JWT token and idempotency key in headers; the maker is
// the authenticated user
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		makerID := auth.GetUserID(claims)
		if makerID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(req.TokenID, makerID, req.Amount, req.Price, idempotencyKey)
		if err != nil {
			handleOrderError(c, err)
			return
		}

		response.Success(c, order)
	}
}

// GetOrderHandler handles GET requests to retrieve an order
// Requires a valid JWT token
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// BookHandler handles GET requests for a token's open order book
// URL parameter: token_id; query parameter: limit
func (h *GinHandlers) BookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID := c.Param("token_id")

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				response.BadRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = parsed
		}

		bids, err := h.service.BestBids(tokenID, limit)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		entries := make([]types.BookEntry, len(bids))
		for i, bid := range bids {
			entries[i] = types.BookEntry{
				OrderID:   bid.OrderID,
				TokenID:   bid.TokenID,
				MakerID:   bid.MakerID,
				Amount:    bid.Amount,
				Price:     bid.Price,
				CreatedAt: bid.CreatedAt,
				Takeable:  i == 0,
			}
		}

		response.Success(c, entries)
	}
}

// TakeOrderHandler handles POST requests to fill an open order
// Requires a valid JWT token and idempotency key; the taker is the
// authenticated user
// URL parameter: order_id
func (h *GinHandlers) TakeOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get idempotency key from header
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}
		takerID := auth.GetUserID(claims)
		if takerID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		orderID := c.Param("order_id")

		order, err := h.service.Take(orderID, takerID, idempotencyKey)
		if err != nil {
			handleOrderError(c, err)
			return
		}

		response.Success(c, order)
	}
}

// handleOrderError maps order book failures onto HTTP rejections.
func handleOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidPrice),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ledger.ErrInsufficientBalance):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrOrderAlreadyTaken):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrSettlementFailed):
		response.UnprocessableEntity(c, err.Error())
	default:
		response.Handle(c, nil, err)
	}
}
