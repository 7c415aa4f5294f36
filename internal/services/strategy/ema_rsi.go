package strategy

import (
	"fmt"
	"math"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/service"
	"FixedTime/internal/services/features"
)

const IDEMARSI = 5

func emaRSIDefaults() map[string]float64 {
	return map[string]float64{"ema_fast": 9, "ema_slow": 21, "rsi_len": 7, "rsi_up": 55, "rsi_dn": 45, "w1": 1.0, "w2": 0.7}
}

// EMARSI votes with the EMA trend only when RSI confirms it.
type EMARSI struct {
	id           int
	fast, slow   int
	rsiLen       int
	rsiUp, rsiDn float64
	w1, w2       float64
}

func NewEMARSI(id int, p map[string]float64) (service.StrategyProvider, error) {
	s := &EMARSI{
		id:     id,
		fast:   intParam(p, "ema_fast", 9),
		slow:   intParam(p, "ema_slow", 21),
		rsiLen: intParam(p, "rsi_len", 7),
		rsiUp:  param(p, "rsi_up", 55),
		rsiDn:  param(p, "rsi_dn", 45),
		w1:     param(p, "w1", 1.0),
		w2:     param(p, "w2", 0.7),
	}
	if s.fast <= 0 || s.slow <= s.fast || s.rsiLen <= 0 || s.rsiDn > s.rsiUp {
		return nil, fmt.Errorf("ema_rsi: invalid params")
	}
	return s, nil
}

func (s *EMARSI) ID() int { return s.id }

func (s *EMARSI) WarmupBars() int { return max(s.slow, s.rsiLen) + 5 }

func (s *EMARSI) Evaluate(candles []models.Candle, _ models.Features, _ service.ProviderContext) (*models.ProviderVote, error) {
	if len(candles) < s.WarmupBars() {
		return nil, nil
	}
	closes := features.Closes(candles)
	fast := features.EMA(closes, s.fast)
	slow := features.EMA(closes, s.slow)
	r := features.RSI(closes, s.rsiLen)
	last := len(closes) - 1
	rsi := r[last]
	if math.IsNaN(rsi) {
		return nil, nil
	}

	vote := 0
	switch {
	case fast[last] > slow[last] && rsi > s.rsiUp:
		vote = 1
	case fast[last] < slow[last] && rsi < s.rsiDn:
		vote = -1
	}
	if vote == 0 {
		return &models.ProviderVote{ProviderID: s.id, Meta: map[string]any{"reason": "no_trend"}}, nil
	}

	slope := relChange(fast[last-2], fast[last])
	score := math.Abs(s.w1*slope + s.w2*(rsi-50)/50)
	return &models.ProviderVote{
		ProviderID: s.id,
		Vote:       vote,
		Score:      score,
		Meta:       map[string]any{"ema_fast": fast[last], "ema_slow": slow[last], "rsi": rsi},
	}, nil
}

func relChange(x0, x1 float64) float64 {
	d := x0
	if math.Abs(d) < 1e-9 {
		d = math.Copysign(1e-9, x0)
	}
	return (x1 - x0) / d
}
