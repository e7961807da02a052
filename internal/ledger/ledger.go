package ledger

import (
	"errors"

	"github.com/creatorhub/token-market/internal/auth"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/creatorhub/token-market/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidDeposit = errors.New("deposit amount must be greater than zero")

// Service is the user-token balance store: per-(user, token) available and
// pending balances plus cash accounts for settlement.
type Service struct {
	gormDB *gorm.DB
	db     *Database
}

// NewService creates a new ledger service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		gormDB: gormDB,
		db:     NewDatabase(gormDB),
	}
}

// GetBalance returns the user's position in one token, or nil when the user
// has never held it.
func (s *Service) GetBalance(userID, tokenID string) (*types.UserTokenBalance, error) {
	return s.db.GetBalance(userID, tokenID)
}

// GetCashAccount returns the user's cash account, or nil when none exists.
func (s *Service) GetCashAccount(userID string) (*types.CashAccount, error) {
	return s.db.GetCashAccount(userID)
}

// GetUserBalances returns every token position the user holds.
func (s *Service) GetUserBalances(userID string) ([]types.UserTokenBalance, error) {
	return s.db.GetUserBalances(userID)
}

// Deposit credits tokens to the user's available balance.
func (s *Service) Deposit(userID, tokenID string, amount decimal.Decimal) (*types.UserTokenBalance, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidDeposit
	}

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return CreditToken(tx, userID, tokenID, amount)
	})
	if err != nil {
		return nil, err
	}

	return s.db.GetBalance(userID, tokenID)
}

// DepositCash credits settlement currency to the user's cash account.
func (s *Service) DepositCash(userID string, amount decimal.Decimal) (*types.CashAccount, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidDeposit
	}

	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		return CreditCash(tx, userID, amount)
	})
	if err != nil {
		return nil, err
	}

	return s.db.GetCashAccount(userID)
}

// GinHandlers contains HTTP handlers for balance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetBalanceHandler handles GET requests for the authenticated user's balance
// in one token. Requires a valid JWT token.
// URL parameter: token_id
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
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

		tokenID := c.Param("token_id")
		balance, err := h.service.GetBalance(userID, tokenID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if balance == nil {
			response.NotFound(c, "No balance for token")
			return
		}

		response.Success(c, types.BalanceResponse{
			UserID:         balance.UserID,
			TokenID:        balance.TokenID,
			Balance:        balance.Balance,
			PendingBalance: balance.PendingBalance,
		})
	}
}

// GetCashHandler handles GET requests for the authenticated user's cash account
func (h *GinHandlers) GetCashHandler() gin.HandlerFunc {
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

		account, err := h.service.GetCashAccount(userID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "No cash account")
			return
		}

		response.Success(c, account)
	}
}

type depositRequest struct {
	UserID  string          `json:"user_id" binding:"required"`
	TokenID string          `json:"token_id"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

// DepositHandler handles POST requests to credit token balances.
// Requires internal authentication.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.TokenID == "" {
			response.BadRequest(c, "token_id is required")
			return
		}

		balance, err := h.service.Deposit(req.UserID, req.TokenID, req.Amount)
		if errors.Is(err, ErrInvalidDeposit) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, balance, err)
	}
}

// DepositCashHandler handles POST requests to credit cash accounts.
// Requires internal authentication.
func (h *GinHandlers) DepositCashHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.DepositCash(req.UserID, req.Amount)
		if errors.Is(err, ErrInvalidDeposit) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, account, err)
	}
}
