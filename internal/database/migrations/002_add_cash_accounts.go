package migrations

import (
	"github.com/creatorhub/token-market/internal/types"
	"gorm.io/gorm"
)

func AddCashAccounts(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.CashAccount{}); err != nil {
		return err
	}

	return db.AutoMigrate(&types.UserTokenBalance{})
}
