package token

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor keeps token reference prices marked to market: each token's
// current price follows its most recent trade.
type Processor struct {
	db           *Database
	refreshDelay time.Duration // Time between price refresh passes
}

func NewProcessor(db *Database) *Processor {
	return &Processor{
		db:           db,
		refreshDelay: time.Minute,
	}
}

// Start begins the price refresh loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "price_processor").Logger()
	logger.Info().Msg("starting price processor")

	ticker := time.NewTicker(p.refreshDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price processor")
			return
		case <-ticker.C:
			if err := p.refreshPrices(); err != nil {
				logger.Error().Err(err).Msg("failed to refresh token prices")
			}
		}
	}
}

func (p *Processor) refreshPrices() error {
	logger := log.With().Str("component", "price_processor").Logger()

	tokens, err := p.db.ListTokens()
	if err != nil {
		return err
	}

	for _, token := range tokens {
		trade, err := p.db.GetLatestTrade(token.TokenID)
		if err != nil {
			logger.Error().
				Err(err).
				Str("token_id", token.TokenID).
				Msg("failed to fetch latest trade")
			continue
		}
		if trade == nil || trade.Price.Equal(token.CurrentPrice) {
			continue
		}

		if err := p.db.UpdateCurrentPrice(token.TokenID, trade.Price); err != nil {
			logger.Error().
				Err(err).
				Str("token_id", token.TokenID).
				Msg("failed to update token price")
			continue
		}

		logger.Info().
			Str("token_id", token.TokenID).
			Str("symbol", token.Symbol).
			Str("previous_price", token.CurrentPrice.String()).
			Str("current_price", trade.Price.String()).
			Msg("token price refreshed from last trade")
	}

	return nil
}
