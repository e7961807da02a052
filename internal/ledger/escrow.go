package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/creatorhub/token-market/internal/database"
	"github.com/creatorhub/token-market/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// The functions below are the transaction-scoped ledger primitives. Each one
// must run inside the caller's transaction and holds the row lock for the full
// read-modify-write, so two concurrent orders from the same maker cannot both
// reserve the same tokens.

// Reserve escrows amount for an open order: it moves amount from the user's
// available balance into pending. Fails with ErrInsufficientBalance when the
// user holds no balance row for the token or the available balance is short.
func Reserve(tx *gorm.DB, userID, tokenID string, amount decimal.Decimal) error {
	var balance types.UserTokenBalance
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientBalance
		}
		return err
	}

	if balance.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	balance.Balance = balance.Balance.Sub(amount)
	balance.PendingBalance = balance.PendingBalance.Add(amount)
	balance.UpdatedAt = time.Now()
	return tx.Save(&balance).Error
}

// ConsumePending removes amount from the user's pending balance once the
// escrowed tokens have been sold. A shortfall here means the escrow invariant
// was broken upstream, so it is reported as a plain error, not a rejection.
func ConsumePending(tx *gorm.DB, userID, tokenID string, amount decimal.Decimal) error {
	var balance types.UserTokenBalance
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		First(&balance).Error
	if err != nil {
		return fmt.Errorf("missing escrow row for user %s token %s: %w", userID, tokenID, err)
	}

	if balance.PendingBalance.LessThan(amount) {
		return fmt.Errorf("pending balance %s below escrowed amount %s for user %s",
			balance.PendingBalance, amount, userID)
	}

	balance.PendingBalance = balance.PendingBalance.Sub(amount)
	balance.UpdatedAt = time.Now()
	return tx.Save(&balance).Error
}

// CreditToken adds amount to the user's available balance, creating the row
// when the user has never held the token before.
func CreditToken(tx *gorm.DB, userID, tokenID string, amount decimal.Decimal) error {
	var balance types.UserTokenBalance
	err := database.LockForUpdate(tx).
		Where("user_id = ? AND token_id = ?", userID, tokenID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			balance = types.UserTokenBalance{
				UserID:    userID,
				TokenID:   tokenID,
				Balance:   amount,
				UpdatedAt: time.Now(),
			}
			return tx.Create(&balance).Error
		}
		return err
	}

	balance.Balance = balance.Balance.Add(amount)
	balance.UpdatedAt = time.Now()
	return tx.Save(&balance).Error
}

// CreditCash adds total to the user's cash account, creating it when absent.
func CreditCash(tx *gorm.DB, userID string, total decimal.Decimal) error {
	var account types.CashAccount
	err := database.LockForUpdate(tx).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account = types.CashAccount{
				UserID:    userID,
				Balance:   total,
				UpdatedAt: time.Now(),
			}
			return tx.Create(&account).Error
		}
		return err
	}

	account.Balance = account.Balance.Add(total)
	account.UpdatedAt = time.Now()
	return tx.Save(&account).Error
}

// TransferCash moves total from one cash account to another. Fails with
// ErrInsufficientFunds when the payer's account is missing or short. A
// self-transfer reads the payer's row back after the debit, so it nets to
// zero rather than corrupting the account.
func TransferCash(tx *gorm.DB, fromUserID, toUserID string, total decimal.Decimal) error {
	var from types.CashAccount
	err := database.LockForUpdate(tx).
		Where("user_id = ?", fromUserID).
		First(&from).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInsufficientFunds
		}
		return err
	}

	if from.Balance.LessThan(total) {
		return ErrInsufficientFunds
	}

	from.Balance = from.Balance.Sub(total)
	from.UpdatedAt = time.Now()
	if err := tx.Save(&from).Error; err != nil {
		return err
	}

	return CreditCash(tx, toUserID, total)
}
