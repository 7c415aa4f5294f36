package service

import (
	"FixedTime/internal/domain/models"
)

// ProviderContext is the per-tick context handed to providers.
type ProviderContext struct {
	Product   string
	Timeframe int
	PayoutPct float64
}

// StrategyProvider turns recent candles into a vote. Implementations must be
// stateless and free of I/O. A nil vote means "no opinion".
type StrategyProvider interface {
	ID() int
	WarmupBars() int
	Evaluate(candles []models.Candle, feats models.Features, pctx ProviderContext) (*models.ProviderVote, error)
}
