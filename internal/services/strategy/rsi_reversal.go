package strategy

import (
	"fmt"
	"math"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/service"
	"FixedTime/internal/services/features"
)

const IDRSIReversal = 7

func rsiReversalDefaults() map[string]float64 {
	return map[string]float64{"period": 14, "oversold": 30, "overbought": 70}
}

// RSIReversal calls oversold markets and puts overbought ones.
type RSIReversal struct {
	id                   int
	period               int
	oversold, overbought float64
}

func NewRSIReversal(id int, p map[string]float64) (service.StrategyProvider, error) {
	s := &RSIReversal{
		id:         id,
		period:     intParam(p, "period", 14),
		oversold:   param(p, "oversold", 30),
		overbought: param(p, "overbought", 70),
	}
	if s.period <= 0 || s.oversold <= 0 || s.overbought >= 100 || s.oversold >= s.overbought {
		return nil, fmt.Errorf("rsi_reversal: invalid params")
	}
	return s, nil
}

func (s *RSIReversal) ID() int { return s.id }

func (s *RSIReversal) WarmupBars() int { return s.period + 1 }

func (s *RSIReversal) Evaluate(candles []models.Candle, _ models.Features, _ service.ProviderContext) (*models.ProviderVote, error) {
	if len(candles) < s.WarmupBars() {
		return nil, nil
	}
	r := features.RSI(features.Closes(candles), s.period)
	rsi := r[len(r)-1]
	if math.IsNaN(rsi) {
		return nil, nil
	}

	v := &models.ProviderVote{ProviderID: s.id, Meta: map[string]any{"rsi": rsi}}
	switch {
	case rsi < s.oversold:
		v.Vote = 1
		v.Score = (s.oversold - rsi) / s.oversold
	case rsi > s.overbought:
		v.Vote = -1
		v.Score = (rsi - s.overbought) / (100 - s.overbought)
	}
	return v, nil
}
