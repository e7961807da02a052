package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookEntry is one row of the open order book as returned to API clients.
// Takeable is set on the single best bid only.
type BookEntry struct {
	OrderID   string          `json:"order_id"`
	TokenID   string          `json:"token_id"`
	MakerID   string          `json:"maker_id"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	Takeable  bool            `json:"takeable"`
}

// BalanceResponse reports a user's position in one token.
type BalanceResponse struct {
	UserID         string          `json:"user_id"`
	TokenID        string          `json:"token_id"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pending_balance"`
}

// PriceResponse reports a token's current reference price.
type PriceResponse struct {
	TokenID      string          `json:"token_id"`
	Symbol       string          `json:"symbol"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
