package orderbook

import "errors"

var (
	// ErrInvalidAmount rejects non-positive order amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidPrice rejects non-positive prices and prices at or above the
	// token's current sale price.
	ErrInvalidPrice = errors.New("price must be positive and below the token's current price")
	// ErrInvalidToken rejects orders against tokens that do not exist.
	ErrInvalidToken = errors.New("unknown token")
	// ErrOrderAlreadyTaken is the conditional-write conflict: another taker
	// claimed the order first. The order is terminal for this caller; retry
	// against a fresh best-bid lookup.
	ErrOrderAlreadyTaken = errors.New("order has already been taken")
	// ErrSettlementFailed wraps a settlement rejection inside Take. The whole
	// take transaction has been rolled back and the order remains open.
	ErrSettlementFailed = errors.New("settlement failed")
)
