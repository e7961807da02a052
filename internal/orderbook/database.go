package orderbook

import (
	"errors"
	"time"

	"github.com/creatorhub/token-market/internal/types"
	"gorm.io/gorm"
)

// DefaultBookDepth bounds best-bid listings when the caller gives no limit.
const DefaultBookDepth = 10

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetUserOrders(makerID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("maker_id = ?", makerID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// BestBids returns the open orders for a token ranked best-first: lowest
// price, then earliest creation among equal prices.
func (d *Database) BestBids(tokenID string, limit int) ([]types.Order, error) {
	if limit <= 0 {
		limit = DefaultBookDepth
	}

	var orders []types.Order
	err := d.db.Where("token_id = ? AND taker_id IS NULL", tokenID).
		Order("price ASC, created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// claimOrder assigns the taker through an atomic conditional write, so at
// most one concurrent caller can win the order. Zero rows affected means
// another taker got there first.
func claimOrder(tx *gorm.DB, orderID, takerID string) error {
	result := tx.Model(&types.Order{}).
		Where("order_id = ? AND taker_id IS NULL", orderID).
		Updates(map[string]interface{}{
			"taker_id":   takerID,
			"status":     types.OrderStatusFilled,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOrderAlreadyTaken
	}

	return nil
}

// GetIdempotencyRecord retrieves an idempotency record by key
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &record, nil
		}
		return nil, err
	}
	return &record, nil
}

// createIdempotencyRecord writes the idempotency marker inside the same
// transaction as the operation it guards.
func createIdempotencyRecord(tx *gorm.DB, key, resourceID, resourceType string) error {
	record := types.IdempotencyRecord{
		IdempotencyKey: key,
		ResourceID:     resourceID,
		ResourceType:   resourceType,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	return tx.Create(&record).Error
}
