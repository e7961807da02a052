package orderbook

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/creatorhub/token-market/internal/database"
	"github.com/creatorhub/token-market/internal/ledger"
	"github.com/creatorhub/token-market/internal/settlement"
	"github.com/creatorhub/token-market/internal/token"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type bookFixture struct {
	db     *gorm.DB
	book   *Service
	ledger *ledger.Service
	token  *types.Token
}

// newBookFixture builds a fresh market around one token priced at 100.
func newBookFixture(t *testing.T) *bookFixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)

	tokenService := token.NewService(db)
	settlementService := settlement.NewService(db)

	tok, err := tokenService.CreateToken("CRTR", "Creator Coin", "creator-1", decimal.NewFromInt(100))
	require.NoError(t, err)

	return &bookFixture{
		db:     db,
		book:   NewService(db, tokenService, settlementService),
		ledger: ledger.NewService(db),
		token:  tok,
	}
}

func (f *bookFixture) fundTokens(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.ledger.Deposit(userID, f.token.TokenID, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func (f *bookFixture) fundCash(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := f.ledger.DepositCash(userID, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func (f *bookFixture) createOrder(t *testing.T, makerID string, amount, price int64) *types.Order {
	t.Helper()
	order, err := f.book.CreateOrder(
		f.token.TokenID, makerID,
		decimal.NewFromInt(amount), decimal.NewFromInt(price),
		uuid.New().String(),
	)
	require.NoError(t, err)
	return order
}

func (f *bookFixture) tradeCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&types.Trade{}).Count(&count).Error)
	return count
}

func TestCreateOrderEscrowsBalance(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)

	order := f.createOrder(t, "maker-1", 10, 5)

	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, types.OrderStatusOpen, order.Status)
	assert.Nil(t, order.TakerID)
	assert.True(t, order.Open())

	balance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(40)),
		"available balance should drop by the escrowed amount, got %s", balance.Balance)
	assert.True(t, balance.PendingBalance.Equal(decimal.NewFromInt(10)),
		"escrowed amount should sit in pending, got %s", balance.PendingBalance)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 100)

	tests := []struct {
		name    string
		tokenID string
		amount  int64
		price   int64
		wantErr error
	}{
		{"zero amount", f.token.TokenID, 0, 5, ErrInvalidAmount},
		{"negative amount", f.token.TokenID, -1, 5, ErrInvalidAmount},
		{"zero price", f.token.TokenID, 10, 0, ErrInvalidPrice},
		{"price at current price", f.token.TokenID, 10, 100, ErrInvalidPrice},
		{"price above current price", f.token.TokenID, 10, 150, ErrInvalidPrice},
		{"unknown token", "no-such-token", 10, 5, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.book.CreateOrder(
				tt.tokenID, "maker-1",
				decimal.NewFromInt(tt.amount), decimal.NewFromInt(tt.price),
				uuid.New().String(),
			)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Just under the current price is accepted
	order := f.createOrder(t, "maker-1", 10, 99)
	assert.Equal(t, types.OrderStatusOpen, order.Status)
}

func TestCreateOrderInsufficientBalance(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 5)

	_, err := f.book.CreateOrder(
		f.token.TokenID, "maker-1",
		decimal.NewFromInt(10), decimal.NewFromInt(5),
		uuid.New().String(),
	)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// A maker with no balance row at all is also rejected
	_, err = f.book.CreateOrder(
		f.token.TokenID, "maker-2",
		decimal.NewFromInt(1), decimal.NewFromInt(5),
		uuid.New().String(),
	)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// The whole balance can be escrowed
	f.createOrder(t, "maker-1", 5, 5)
	balance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.IsZero())
	assert.True(t, balance.PendingBalance.Equal(decimal.NewFromInt(5)))
}

func TestCreateOrderIdempotency(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)

	key := uuid.New().String()
	first, err := f.book.CreateOrder(
		f.token.TokenID, "maker-1",
		decimal.NewFromInt(10), decimal.NewFromInt(5), key,
	)
	require.NoError(t, err)

	second, err := f.book.CreateOrder(
		f.token.TokenID, "maker-1",
		decimal.NewFromInt(10), decimal.NewFromInt(5), key,
	)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	// The retry must not escrow a second time
	balance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(40)))
	assert.True(t, balance.PendingBalance.Equal(decimal.NewFromInt(10)))
}

func TestBestBidsOrdering(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 100)

	// B and A share a price, B is older; C has the best price but is newest
	orderB := f.createOrder(t, "maker-1", 1, 10)
	time.Sleep(10 * time.Millisecond)
	orderA := f.createOrder(t, "maker-1", 1, 10)
	time.Sleep(10 * time.Millisecond)
	orderC := f.createOrder(t, "maker-1", 1, 5)

	bids, err := f.book.BestBids(f.token.TokenID, 0)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	assert.Equal(t, orderC.OrderID, bids[0].OrderID, "lowest price ranks first")
	assert.Equal(t, orderB.OrderID, bids[1].OrderID, "ties break by age")
	assert.Equal(t, orderA.OrderID, bids[2].OrderID)

	limited, err := f.book.BestBids(f.token.TokenID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, orderC.OrderID, limited[0].OrderID)
}

func TestIsTakeable(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 100)

	best := f.createOrder(t, "maker-1", 1, 5)
	worse := f.createOrder(t, "maker-1", 1, 10)

	takeable, err := f.book.IsTakeable(best)
	require.NoError(t, err)
	assert.True(t, takeable)

	takeable, err = f.book.IsTakeable(worse)
	require.NoError(t, err)
	assert.False(t, takeable, "only the best bid is takeable")
}

func TestTakeSettlesOrder(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)
	f.fundCash(t, "taker-1", 1000)

	order := f.createOrder(t, "maker-1", 10, 5)

	filled, err := f.book.Take(order.OrderID, "taker-1", uuid.New().String())
	require.NoError(t, err)
	require.NotNil(t, filled.TakerID)
	assert.Equal(t, "taker-1", *filled.TakerID)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)
	assert.False(t, filled.Open())

	// Off the book
	bids, err := f.book.BestBids(f.token.TokenID, 0)
	require.NoError(t, err)
	assert.Empty(t, bids)

	// Tokens moved from the maker's escrow to the taker
	makerBalance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	assert.True(t, makerBalance.Balance.Equal(decimal.NewFromInt(40)))
	assert.True(t, makerBalance.PendingBalance.IsZero())

	takerBalance, err := f.ledger.GetBalance("taker-1", f.token.TokenID)
	require.NoError(t, err)
	require.NotNil(t, takerBalance)
	assert.True(t, takerBalance.Balance.Equal(decimal.NewFromInt(10)))

	// Cash moved from the taker to the maker: 10 * 5 = 50
	takerCash, err := f.ledger.GetCashAccount("taker-1")
	require.NoError(t, err)
	assert.True(t, takerCash.Balance.Equal(decimal.NewFromInt(950)))

	makerCash, err := f.ledger.GetCashAccount("maker-1")
	require.NoError(t, err)
	require.NotNil(t, makerCash)
	assert.True(t, makerCash.Balance.Equal(decimal.NewFromInt(50)))

	// One trade recorded the transfer
	var trade types.Trade
	require.NoError(t, f.db.Where("order_id = ?", order.OrderID).First(&trade).Error)
	assert.Equal(t, "maker-1", trade.SellerID)
	assert.Equal(t, "taker-1", trade.BuyerID)
	assert.True(t, trade.Total.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(1), f.tradeCount(t))
}

func TestTakeTwiceConflicts(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)
	f.fundCash(t, "taker-1", 1000)
	f.fundCash(t, "taker-2", 1000)

	order := f.createOrder(t, "maker-1", 10, 5)

	_, err := f.book.Take(order.OrderID, "taker-1", uuid.New().String())
	require.NoError(t, err)

	_, err = f.book.Take(order.OrderID, "taker-2", uuid.New().String())
	assert.ErrorIs(t, err, ErrOrderAlreadyTaken)

	// The loser's funds are untouched
	cash, err := f.ledger.GetCashAccount("taker-2")
	require.NoError(t, err)
	assert.True(t, cash.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(1), f.tradeCount(t))
}

func TestTakeIdempotentRetry(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)
	f.fundCash(t, "taker-1", 1000)

	order := f.createOrder(t, "maker-1", 10, 5)

	key := uuid.New().String()
	first, err := f.book.Take(order.OrderID, "taker-1", key)
	require.NoError(t, err)

	second, err := f.book.Take(order.OrderID, "taker-1", key)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, types.OrderStatusFilled, second.Status)

	// The retry must not settle a second time
	cash, err := f.ledger.GetCashAccount("taker-1")
	require.NoError(t, err)
	assert.True(t, cash.Balance.Equal(decimal.NewFromInt(950)))
	assert.Equal(t, int64(1), f.tradeCount(t))
}

func TestConcurrentTakeSingleWinner(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)
	f.fundCash(t, "taker-1", 1000)
	f.fundCash(t, "taker-2", 1000)

	order := f.createOrder(t, "maker-1", 10, 5)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, takerID := range []string{"taker-1", "taker-2"} {
		wg.Add(1)
		go func(i int, takerID string) {
			defer wg.Done()
			_, results[i] = f.book.Take(order.OrderID, takerID, uuid.New().String())
		}(i, takerID)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrOrderAlreadyTaken)
		}
	}
	assert.Equal(t, 1, winners, "exactly one taker wins the race")
	assert.Equal(t, int64(1), f.tradeCount(t))

	filled, err := f.book.GetOrder(order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, filled.TakerID)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)
}

func TestTakeSettlementFailureRollsBack(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)

	order := f.createOrder(t, "maker-1", 10, 5)

	// The taker has no cash account, so settlement must reject the fill
	_, err := f.book.Take(order.OrderID, "broke-taker", uuid.New().String())
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// Everything rolled back: the order is still open and escrow is intact
	open, err := f.book.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Nil(t, open.TakerID)
	assert.Equal(t, types.OrderStatusOpen, open.Status)

	bids, err := f.book.BestBids(f.token.TokenID, 0)
	require.NoError(t, err)
	require.Len(t, bids, 1)

	balance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	assert.True(t, balance.PendingBalance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), f.tradeCount(t))

	// Once funded, the same taker can fill the order
	f.fundCash(t, "broke-taker", 100)
	filled, err := f.book.Take(order.OrderID, "broke-taker", uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)
}

func TestTakeOwnOrder(t *testing.T) {
	f := newBookFixture(t)
	f.fundTokens(t, "maker-1", 50)
	f.fundCash(t, "maker-1", 1000)

	order := f.createOrder(t, "maker-1", 10, 5)

	filled, err := f.book.Take(order.OrderID, "maker-1", uuid.New().String())
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)

	// The tokens come straight back and the cash payment nets to zero
	balance, err := f.ledger.GetBalance("maker-1", f.token.TokenID)
	require.NoError(t, err)
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, balance.PendingBalance.IsZero())

	cash, err := f.ledger.GetCashAccount("maker-1")
	require.NoError(t, err)
	assert.True(t, cash.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestTakeUnknownOrder(t *testing.T) {
	f := newBookFixture(t)

	_, err := f.book.Take("no-such-order", "taker-1", uuid.New().String())
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
