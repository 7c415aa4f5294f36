package strategy

import (
	"fmt"
	"math"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/service"
	"FixedTime/internal/services/features"
)

const IDEMACrossover = 14

func emaCrossoverDefaults() map[string]float64 {
	return map[string]float64{"fast": 9, "slow": 21, "confirm": 1}
}

// EMACrossover votes in the direction of a fast/slow EMA cross that happened within the last
// confirm bars and still holds. Score is the absolute fast-EMA slope relative to price.
type EMACrossover struct {
	id      int
	fast    int
	slow    int
	confirm int
}

func NewEMACrossover(id int, p map[string]float64) (service.StrategyProvider, error) {
	s := &EMACrossover{
		id:      id,
		fast:    intParam(p, "fast", 9),
		slow:    intParam(p, "slow", 21),
		confirm: intParam(p, "confirm", 1),
	}
	if s.fast <= 0 || s.slow <= s.fast || s.confirm < 1 {
		return nil, fmt.Errorf("ema_crossover: invalid params fast=%d slow=%d confirm=%d", s.fast, s.slow, s.confirm)
	}
	return s, nil
}

func (s *EMACrossover) ID() int { return s.id }

func (s *EMACrossover) WarmupBars() int { return s.slow + s.confirm + 1 }

func (s *EMACrossover) Evaluate(candles []models.Candle, _ models.Features, _ service.ProviderContext) (*models.ProviderVote, error) {
	if len(candles) < s.WarmupBars() {
		return nil, nil
	}
	closes := features.Closes(candles)
	fast := features.EMA(closes, s.fast)
	slow := features.EMA(closes, s.slow)
	last := len(closes) - 1

	vote := 0
	for k := 0; k < s.confirm; k++ {
		i := last - k
		prev := fast[i-1] - slow[i-1]
		cur := fast[i] - slow[i]
		switch {
		case prev <= 0 && cur > 0:
			vote = 1
		case prev >= 0 && cur < 0:
			vote = -1
		default:
			continue
		}
		break
	}
	// the cross must still hold on the latest bar
	diff := fast[last] - slow[last]
	if (vote > 0 && diff <= 0) || (vote < 0 && diff >= 0) {
		vote = 0
	}

	score := 0.0
	if vote != 0 && closes[last] != 0 {
		score = math.Abs(fast[last]-fast[last-1]) / math.Abs(closes[last])
	}
	return &models.ProviderVote{
		ProviderID: s.id,
		Vote:       vote,
		Score:      score,
		Meta:       map[string]any{"ema_fast": fast[last], "ema_slow": slow[last]},
	}, nil
}
