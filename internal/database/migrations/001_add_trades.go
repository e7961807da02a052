package migrations

import (
	"github.com/creatorhub/token-market/internal/types"
	"gorm.io/gorm"
)

func AddTrades(db *gorm.DB) error {
	return db.AutoMigrate(&types.Trade{})
}
