package settlement

import (
	"path/filepath"
	"testing"

	"github.com/creatorhub/token-market/internal/database"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

// escrow stages seller tokens as if an open order had reserved them.
func escrow(t *testing.T, db *gorm.DB, sellerID, tokenID string, amount int64) {
	t.Helper()
	ledgerService := ledger.NewService(db)
	_, err := ledgerService.Deposit(sellerID, tokenID, decimal.NewFromInt(amount))
	require.NoError(t, err)
	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, sellerID, tokenID, decimal.NewFromInt(amount))
	})
	require.NoError(t, err)
}

func TestSell(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	ledgerService := ledger.NewService(db)

	escrow(t, db, "seller", "token-1", 10)
	_, err := ledgerService.DepositCash("buyer", decimal.NewFromInt(100))
	require.NoError(t, err)

	var trade *types.Trade
	err = db.Transaction(func(tx *gorm.DB) error {
		trade, err = service.Sell(tx, "order-1", "token-1", "seller", "buyer",
			decimal.NewFromInt(5), decimal.NewFromInt(10))
		return err
	})
	require.NoError(t, err)

	assert.NotEmpty(t, trade.TradeID)
	assert.True(t, trade.Total.Equal(decimal.NewFromInt(50)))

	// Seller escrow consumed, buyer holds the tokens
	sellerBalance, err := ledgerService.GetBalance("seller", "token-1")
	require.NoError(t, err)
	assert.True(t, sellerBalance.PendingBalance.IsZero())

	buyerBalance, err := ledgerService.GetBalance("buyer", "token-1")
	require.NoError(t, err)
	require.NotNil(t, buyerBalance)
	assert.True(t, buyerBalance.Balance.Equal(decimal.NewFromInt(10)))

	// Buyer paid the seller
	buyerCash, err := ledgerService.GetCashAccount("buyer")
	require.NoError(t, err)
	assert.True(t, buyerCash.Balance.Equal(decimal.NewFromInt(50)))

	sellerCash, err := ledgerService.GetCashAccount("seller")
	require.NoError(t, err)
	require.NotNil(t, sellerCash)
	assert.True(t, sellerCash.Balance.Equal(decimal.NewFromInt(50)))

	// The trade is queryable afterwards
	found, err := service.GetTrade(trade.TradeID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "order-1", found.OrderID)
}

func TestSellBuyerCannotPay(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	ledgerService := ledger.NewService(db)

	escrow(t, db, "seller", "token-1", 10)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := service.Sell(tx, "order-1", "token-1", "seller", "buyer",
			decimal.NewFromInt(5), decimal.NewFromInt(10))
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// The whole transfer rolled back with the transaction
	sellerBalance, err := ledgerService.GetBalance("seller", "token-1")
	require.NoError(t, err)
	assert.True(t, sellerBalance.PendingBalance.Equal(decimal.NewFromInt(10)))

	buyerBalance, err := ledgerService.GetBalance("buyer", "token-1")
	require.NoError(t, err)
	assert.Nil(t, buyerBalance)

	var count int64
	require.NoError(t, db.Model(&types.Trade{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestTradeQueries(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)
	ledgerService := ledger.NewService(db)

	escrow(t, db, "seller", "token-1", 10)
	_, err := ledgerService.DepositCash("buyer", decimal.NewFromInt(100))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		err = db.Transaction(func(tx *gorm.DB) error {
			_, err := service.Sell(tx, "order-1", "token-1", "seller", "buyer",
				decimal.NewFromInt(2), decimal.NewFromInt(1))
			return err
		})
		require.NoError(t, err)
	}

	trades, err := service.GetTokenTrades("token-1", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 3)

	limited, err := service.GetTokenTrades("token-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Both sides of a trade see it in their history
	buyerTrades, err := service.GetUserTrades("buyer")
	require.NoError(t, err)
	assert.Len(t, buyerTrades, 3)

	sellerTrades, err := service.GetUserTrades("seller")
	require.NoError(t, err)
	assert.Len(t, sellerTrades, 3)

	none, err := service.GetUserTrades("stranger")
	require.NoError(t, err)
	assert.Empty(t, none)

	missing, err := service.GetTrade("no-such-trade")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
