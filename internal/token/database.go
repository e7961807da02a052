package token

import (
	"errors"
	"time"

	"github.com/creatorhub/token-market/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateToken(token *types.Token) error {
	return d.db.Create(token).Error
}

func (d *Database) GetToken(tokenID string) (*types.Token, error) {
	var token types.Token
	if err := d.db.Where("token_id = ?", tokenID).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (d *Database) GetTokenBySymbol(symbol string) (*types.Token, error) {
	var token types.Token
	if err := d.db.Where("symbol = ?", symbol).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (d *Database) ListTokens() ([]types.Token, error) {
	var tokens []types.Token
	if err := d.db.Order("symbol ASC").Find(&tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (d *Database) UpdateCurrentPrice(tokenID string, price decimal.Decimal) error {
	result := d.db.Model(&types.Token{}).
		Where("token_id = ?", tokenID).
		Updates(map[string]interface{}{
			"current_price": price,
			"updated_at":    time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return errors.New("token not found")
	}

	return nil
}

// GetLatestTrade returns the most recent settlement for the token, or nil
// when it has never traded.
func (d *Database) GetLatestTrade(tokenID string) (*types.Trade, error) {
	var trade types.Trade
	err := d.db.Where("token_id = ?", tokenID).
		Order("created_at DESC").
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}
