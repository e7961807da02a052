package token

import (
	"errors"
	"time"

	"github.com/creatorhub/token-market/internal/types"
	"github.com/creatorhub/token-market/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidSymbol   = errors.New("token symbol is required")
	ErrInvalidPrice    = errors.New("token price must be greater than zero")
	ErrDuplicateSymbol = errors.New("token symbol already listed")
)

// Service is the token registry. It owns each token's reference price, which
// order validation reads at creation time.
type Service struct {
	db *Database
}

// NewService creates a new token service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateToken lists a new creator token at the given reference price.
func (s *Service) CreateToken(symbol, name, creatorID string, currentPrice decimal.Decimal) (*types.Token, error) {
	if symbol == "" {
		return nil, ErrInvalidSymbol
	}
	if currentPrice.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}

	existing, err := s.db.GetTokenBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateSymbol
	}

	token := &types.Token{
		TokenID:      uuid.New().String(),
		Symbol:       symbol,
		Name:         name,
		CreatorID:    creatorID,
		CurrentPrice: currentPrice,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.db.CreateToken(token); err != nil {
		return nil, err
	}

	log.Info().
		Str("token_id", token.TokenID).
		Str("symbol", token.Symbol).
		Str("creator_id", token.CreatorID).
		Str("current_price", token.CurrentPrice.String()).
		Msg("token listed")

	return token, nil
}

// GetToken retrieves a token by its ID, returning nil when it does not exist
func (s *Service) GetToken(tokenID string) (*types.Token, error) {
	return s.db.GetToken(tokenID)
}

// ListTokens returns all listed tokens
func (s *Service) ListTokens() ([]types.Token, error) {
	return s.db.ListTokens()
}

// GetCurrentPrice returns the token's current reference price.
func (s *Service) GetCurrentPrice(tokenID string) (decimal.Decimal, error) {
	token, err := s.db.GetToken(tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	if token == nil {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	return token.CurrentPrice, nil
}

// GetDB exposes the repository for the price processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for token endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListTokensHandler handles GET requests for the token listing
func (h *GinHandlers) ListTokensHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens, err := h.service.ListTokens()
		response.Handle(c, tokens, err)
	}
}

// GetTokenHandler handles GET requests for a single token
// URL parameter: token_id
func (h *GinHandlers) GetTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID := c.Param("token_id")

		token, err := h.service.GetToken(tokenID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if token == nil {
			response.NotFound(c, "Token not found")
			return
		}

		response.Success(c, token)
	}
}

// GetPriceHandler handles GET requests for a token's current reference price
// URL parameter: token_id
func (h *GinHandlers) GetPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID := c.Param("token_id")

		token, err := h.service.GetToken(tokenID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if token == nil {
			response.NotFound(c, "Token not found")
			return
		}

		response.Success(c, types.PriceResponse{
			TokenID:      token.TokenID,
			Symbol:       token.Symbol,
			CurrentPrice: token.CurrentPrice,
			UpdatedAt:    token.UpdatedAt,
		})
	}
}

type createTokenRequest struct {
	Symbol       string          `json:"symbol" binding:"required"`
	Name         string          `json:"name"`
	CreatorID    string          `json:"creator_id" binding:"required"`
	CurrentPrice decimal.Decimal `json:"current_price" binding:"required"`
}

// CreateTokenHandler handles POST requests to list new tokens
// Requires internal authentication
func (h *GinHandlers) CreateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		token, err := h.service.CreateToken(req.Symbol, req.Name, req.CreatorID, req.CurrentPrice)
		if errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrInvalidPrice) {
			response.BadRequest(c, err.Error())
			return
		}
		if errors.Is(err, ErrDuplicateSymbol) {
			response.Conflict(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
