package ledger

import (
	"errors"

	"github.com/creatorhub/token-market/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetBalance(userID, tokenID string) (*types.UserTokenBalance, error) {
	var balance types.UserTokenBalance
	if err := d.db.Where("user_id = ? AND token_id = ?", userID, tokenID).First(&balance).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (d *Database) GetCashAccount(userID string) (*types.CashAccount, error) {
	var account types.CashAccount
	if err := d.db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetUserBalances(userID string) ([]types.UserTokenBalance, error) {
	var balances []types.UserTokenBalance
	if err := d.db.Where("user_id = ?", userID).Order("token_id ASC").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}
