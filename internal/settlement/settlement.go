package settlement

import (
	"fmt"
	"time"

	"github.com/creatorhub/token-market/internal/auth"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/creatorhub/token-market/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultTradeHistoryLimit = 50

// Service is the settlement recorder: the authoritative transfer of tokens
// and funds between maker and taker when an order is filled.
type Service struct {
	db *Database
}

// NewService creates a new settlement service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Sell settles a filled order inside the caller's transaction: the escrowed
// tokens move from the seller's pending balance to the buyer's available
// balance, the buyer pays price * amount into the seller's cash account, and
// a Trade row records the transfer. Any failure is returned to the caller so
// the enclosing transaction (including the order claim) rolls back as a unit.
func (s *Service) Sell(tx *gorm.DB, orderID, tokenID, sellerID, buyerID string, price, amount decimal.Decimal) (*types.Trade, error) {
	total := price.Mul(amount)

	logger := log.With().
		Str("order_id", orderID).
		Str("token_id", tokenID).
		Str("seller_id", sellerID).
		Str("buyer_id", buyerID).
		Str("service", "settlement").
		Logger()

	logger.Info().
		Str("amount", amount.String()).
		Str("price", price.String()).
		Str("total", total.String()).
		Msg("settling trade")

	if err := ledger.ConsumePending(tx, sellerID, tokenID, amount); err != nil {
		logger.Error().Err(err).Msg("failed to release seller escrow")
		return nil, err
	}

	if err := ledger.CreditToken(tx, buyerID, tokenID, amount); err != nil {
		logger.Error().Err(err).Msg("failed to credit buyer token balance")
		return nil, err
	}

	if err := ledger.TransferCash(tx, buyerID, sellerID, total); err != nil {
		logger.Warn().Err(err).Msg("cash transfer rejected")
		return nil, err
	}

	trade := &types.Trade{
		TradeID:   "TRD_" + uuid.New().String(),
		OrderID:   orderID,
		TokenID:   tokenID,
		SellerID:  sellerID,
		BuyerID:   buyerID,
		Price:     price,
		Amount:    amount,
		Total:     total,
		CreatedAt: time.Now(),
	}

	if err := tx.Create(trade).Error; err != nil {
		logger.Error().Err(err).Msg("failed to record trade")
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	logger.Info().
		Str("trade_id", trade.TradeID).
		Str("total", trade.Total.String()).
		Msg("trade settled")

	return trade, nil
}

// GetTrade retrieves a trade by ID, returning nil when it does not exist
func (s *Service) GetTrade(tradeID string) (*types.Trade, error) {
	return s.db.GetTrade(tradeID)
}

// GetOrderTrade returns the settlement for a filled order, or nil when the
// order has not settled.
func (s *Service) GetOrderTrade(orderID string) (*types.Trade, error) {
	return s.db.GetTradeByOrderID(orderID)
}

// GetTokenTrades returns the most recent trades for a token
func (s *Service) GetTokenTrades(tokenID string, limit int) ([]types.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeHistoryLimit
	}
	return s.db.GetTokenTrades(tokenID, limit)
}

// GetUserTrades returns all trades where the user was buyer or seller
func (s *Service) GetUserTrades(userID string) ([]types.Trade, error) {
	return s.db.GetUserTrades(userID)
}

// GinHandlers contains HTTP handlers for trade history endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetTradeHandler handles GET requests for a single trade
// URL parameter: trade_id
func (h *GinHandlers) GetTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID := c.Param("trade_id")

		trade, err := h.service.GetTrade(tradeID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if trade == nil {
			response.NotFound(c, "Trade not found")
			return
		}

		response.Success(c, trade)
	}
}

// GetOrderTradeHandler handles GET requests for a filled order's settlement
// Requires a valid JWT token
// URL parameter: order_id
func (h *GinHandlers) GetOrderTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		trade, err := h.service.GetOrderTrade(orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if trade == nil {
			response.NotFound(c, "Order has not settled")
			return
		}

		response.Success(c, trade)
	}
}

// GetTokenTradesHandler handles GET requests for a token's trade history
// URL parameter: token_id
func (h *GinHandlers) GetTokenTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID := c.Param("token_id")

		trades, err := h.service.GetTokenTrades(tokenID, 0)
		response.Handle(c, trades, err)
	}
}

// GetUserTradesHandler handles GET requests for the authenticated user's trades
// Requires a valid JWT token
func (h *GinHandlers) GetUserTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		userID := auth.GetUserID(claims)
		if userID == "" {
			response.Unauthorized(c, "Invalid user ID in token")
			return
		}

		trades, err := h.service.GetUserTrades(userID)
		response.Handle(c, trades, err)
	}
}
