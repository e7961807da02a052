package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	OrderStatusOpen   = "OPEN"
	OrderStatusFilled = "FILLED"
)

// Token is a creator token listed on the market. CurrentPrice is the
// reference sale price; sell orders must be priced strictly below it.
type Token struct {
	gorm.Model   `json:"-"`
	TokenID      string          `gorm:"uniqueIndex" json:"token_id"`
	Symbol       string          `gorm:"uniqueIndex" json:"symbol"`
	Name         string          `json:"name"`
	CreatorID    string          `json:"creator_id"`
	CurrentPrice decimal.Decimal `gorm:"type:decimal(32,18)" json:"current_price"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Order is a standing offer by the maker to sell Amount tokens at Price each.
// TakerID stays null while the order is open; once set the order is filled and
// terminal. The full amount trades at once, there are no partial fills.
type Order struct {
	gorm.Model `json:"-"`
	OrderID    string          `gorm:"uniqueIndex" json:"order_id"`
	TokenID    string          `gorm:"index" json:"token_id"`
	MakerID    string          `gorm:"index" json:"maker_id"`
	TakerID    *string         `gorm:"index" json:"taker_id,omitempty"`
	Amount     decimal.Decimal `gorm:"type:decimal(32,18)" json:"amount"`
	Price      decimal.Decimal `gorm:"type:decimal(32,18)" json:"price"`
	Status     string          `json:"status"` // OPEN, FILLED
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Open reports whether the order is still on the book.
func (o *Order) Open() bool {
	return o.TakerID == nil
}

// UserTokenBalance holds one user's position in one token. Balance is freely
// spendable; PendingBalance is escrowed by open sell orders.
type UserTokenBalance struct {
	gorm.Model     `json:"-"`
	UserID         string          `gorm:"uniqueIndex:idx_user_token" json:"user_id"`
	TokenID        string          `gorm:"uniqueIndex:idx_user_token" json:"token_id"`
	Balance        decimal.Decimal `gorm:"type:decimal(32,18)" json:"balance"`
	PendingBalance decimal.Decimal `gorm:"type:decimal(32,18)" json:"pending_balance"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CashAccount holds a user's settlement currency balance.
type CashAccount struct {
	gorm.Model `json:"-"`
	UserID     string          `gorm:"uniqueIndex" json:"user_id"`
	Balance    decimal.Decimal `gorm:"type:decimal(32,18)" json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Trade is the settlement record written when an order is taken.
type Trade struct {
	gorm.Model `json:"-"`
	TradeID    string          `gorm:"uniqueIndex" json:"trade_id"`
	OrderID    string          `gorm:"index" json:"order_id"`
	TokenID    string          `gorm:"index" json:"token_id"`
	SellerID   string          `json:"seller_id"`
	BuyerID    string          `json:"buyer_id"`
	Price      decimal.Decimal `gorm:"type:decimal(32,18)" json:"price"`
	Amount     decimal.Decimal `gorm:"type:decimal(32,18)" json:"amount"`
	Total      decimal.Decimal `gorm:"type:decimal(32,18)" json:"total"`
	CreatedAt  time.Time       `json:"created_at"`
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
