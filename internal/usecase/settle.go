package usecase

import (
	"context"
	"fmt"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
)

// RiskGate is the part of the risk engine the execution path depends on.
type RiskGate interface {
	EnterAllowed(tc models.TradeContext) (bool, string)
	ReleaseTrial(tc models.TradeContext)
	ComputeAmount(tc models.TradeContext) float64
	OnResult(tc models.TradeContext, pnl float64, isWin bool)
}

// ConnectorSource hands out the venue session for an account.
type ConnectorSource interface {
	Get(ctx context.Context, account string) (repository.Connector, error)
}

// EventSink receives decision events. The event pipeline is the usual implementation.
type EventSink interface {
	Publish(ctx context.Context, ev models.DecisionEvent) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, models.DecisionEvent) error { return nil }

// settler books a terminal confirmation. The executor and the reconciler share it
// so an order settles the same way whichever path observes the outcome.
type settler struct {
	store           repository.Store
	risk            RiskGate
	metrics         repository.Metrics
	pushCountsAsWin bool
	now             func() time.Time
}

// settle upserts the result and marks the order SETTLED. Only the caller whose
// status update changed the row feeds the outcome to risk, so an executor and a
// reconciler racing on one order book it once. booked reports whether risk saw it.
func (s settler) settle(ctx context.Context, o models.Order, conf models.Confirmation, latencyMs int64) (res models.Result, booked bool, err error) {
	prev, err := s.store.GetOrder(ctx, o.ID)
	if err != nil {
		return models.Result{}, false, fmt.Errorf("load order: %w", err)
	}

	closeMs := conf.TsCloseMs
	if closeMs == 0 {
		closeMs = s.now().UnixMilli()
	}
	res = models.Result{
		OrderID:    o.ID,
		TsCloseMs:  closeMs,
		Status:     conf.Status,
		PnL:        conf.PnL,
		DurationMs: max(0, closeMs-prev.TsOpenMs),
		LatencyMs:  latencyMs,
	}
	if err := s.store.SaveResult(ctx, res); err != nil {
		return res, false, err
	}
	changed, err := s.store.UpdateOrderStatus(ctx, o.ID, models.OrderSettled)
	if err != nil || !changed {
		return res, false, err
	}

	s.risk.OnResult(tradeContextOf(prev), conf.PnL, conf.Status.CountsAsWin(s.pushCountsAsWin))
	s.metrics.RecordOrder(string(conf.Status))
	return res, true, nil
}

func tradeContextOf(o models.Order) models.TradeContext {
	return models.TradeContext{
		TradeID:   o.ClientReqID,
		Account:   o.Account,
		Product:   o.Product,
		Timeframe: o.Timeframe,
		Direction: o.Direction,
		PayoutPct: o.PayoutPct,
	}
}
