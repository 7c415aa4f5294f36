package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/services/risk"
	"FixedTime/pkg/logger"

	"github.com/shopspring/decimal"
)

// ErrInvalidBacktest marks a backtest request that cannot be replayed.
var ErrInvalidBacktest = errors.New("invalid backtest request")

// defaultBacktestBars is fetched when a request names neither candles nor bars.
const defaultBacktestBars = 500

// RiskFactory builds an isolated risk engine driven by now. Backtests never
// touch the live engine.
type RiskFactory func(now func() time.Time) *risk.Engine

// BacktestTrade is one simulated entry and its settlement one bar later.
type BacktestTrade struct {
	TradeID    string              `json:"trade_id"`
	EntryTsMs  int64               `json:"entry_ts_ms"`
	ExitTsMs   int64               `json:"exit_ts_ms"`
	Direction  models.Direction    `json:"direction"`
	EntryPrice float64             `json:"entry_price"`
	ExitPrice  float64             `json:"exit_price"`
	Amount     float64             `json:"amount"`
	PayoutPct  float64             `json:"payout_pct"`
	Confidence float64             `json:"confidence"`
	ProbWin    float64             `json:"prob_win"`
	Status     models.ResultStatus `json:"status"`
	PnL        float64             `json:"pnl"`
}

// EquityPoint is the cumulative PnL after a settlement.
type EquityPoint struct {
	TsMs   int64   `json:"ts_ms"`
	Equity float64 `json:"equity"`
}

// BacktestReport summarizes a replay. WinRate counts pushes as wins only when
// PushCountsAsWin is set. ProfitFactor is nil when no trade lost money.
type BacktestReport struct {
	Account         string  `json:"account"`
	Product         string  `json:"product"`
	Timeframe       int     `json:"timeframe"`
	Bars            int     `json:"bars"`
	PayoutPct       float64 `json:"payout_pct"`
	PushCountsAsWin bool    `json:"push_counts_as_win"`

	TotalTrades  int      `json:"total_trades"`
	Wins         int      `json:"wins"`
	Losses       int      `json:"losses"`
	Pushes       int      `json:"pushes"`
	WinRate      float64  `json:"win_rate"`
	TotalPnL     float64  `json:"total_pnl"`
	GrossProfit  float64  `json:"gross_profit"`
	GrossLoss    float64  `json:"gross_loss"`
	ProfitFactor *float64 `json:"profit_factor"`
	Expectancy   float64  `json:"expectancy"`
	MaxDrawdown  float64  `json:"max_drawdown"`

	Skips       map[string]int  `json:"skips"`
	EquityCurve []EquityPoint   `json:"equity_curve"`
	Trades      []BacktestTrade `json:"trades"`
}

// Backtester replays a worker's decision path bar by bar over historical
// candles. Entries go through a fresh risk engine whose clock follows the
// candles, and settle at the close of the next bar.
type Backtester struct {
	workers         WorkerFactory
	connectors      ConnectorSource
	newRisk         RiskFactory
	pushCountsAsWin bool
	maxBars         int
	log             *logger.Logger
}

func NewBacktester(workers WorkerFactory, connectors ConnectorSource, newRisk RiskFactory, pushCountsAsWin bool, maxBars int, log *logger.Logger) *Backtester {
	if maxBars <= 0 {
		maxBars = 5000
	}
	return &Backtester{
		workers:         workers,
		connectors:      connectors,
		newRisk:         newRisk,
		pushCountsAsWin: pushCountsAsWin,
		maxBars:         maxBars,
		log:             log,
	}
}

// Run resolves candles and payout for req, then replays them.
func (b *Backtester) Run(ctx context.Context, req models.BacktestRequest) (BacktestReport, error) {
	key := WorkerKey{Account: req.Account, Product: req.Product, Timeframe: req.Timeframe}
	if key.Account == "" || key.Product == "" {
		return BacktestReport{}, fmt.Errorf("%w: account and product are required", ErrInvalidBacktest)
	}
	if !repository.IsValidTimeframe(key.Timeframe) {
		return BacktestReport{}, fmt.Errorf("backtest %s: %w", key, repository.ErrInvalidTimeframe)
	}
	if len(req.Candles) > b.maxBars || req.Bars > b.maxBars {
		return BacktestReport{}, fmt.Errorf("%w: at most %d bars", ErrInvalidBacktest, b.maxBars)
	}

	w, err := b.workers(key)
	if err != nil {
		return BacktestReport{}, fmt.Errorf("backtest %s: %w", key, err)
	}

	candles, payout := req.Candles, req.PayoutPct
	if len(candles) == 0 || payout <= 0 {
		conn, err := b.connectors.Get(ctx, key.Account)
		if err != nil {
			return BacktestReport{}, fmt.Errorf("backtest %s: %w", key, err)
		}
		if len(candles) == 0 {
			bars := req.Bars
			if bars <= 0 {
				bars = defaultBacktestBars
			}
			if candles, err = conn.GetCandles(ctx, key.Product, key.Timeframe, bars); err != nil {
				return BacktestReport{}, fmt.Errorf("backtest %s candles: %w", key, err)
			}
		}
		if payout <= 0 {
			if payout, err = conn.GetCurrentWinRate(ctx, key.Product); err != nil {
				return BacktestReport{}, fmt.Errorf("backtest %s payout: %w", key, err)
			}
		}
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].TsMs <= candles[i-1].TsMs {
			return BacktestReport{}, fmt.Errorf("%w: candles must be strictly ascending at index %d", ErrInvalidBacktest, i)
		}
	}

	rep := b.replay(w, candles, payout)
	b.log.Info("backtest finished",
		logger.String("worker", key.String()),
		logger.Int("bars", rep.Bars),
		logger.Int("trades", rep.TotalTrades),
		logger.Float64("win_rate", rep.WinRate),
		logger.Float64("total_pnl", rep.TotalPnL))
	return rep, nil
}

type openTrade struct {
	tc    models.TradeContext
	trade BacktestTrade
	exit  int
}

// replay walks the candles once. The decision at bar i only sees bars up to i.
func (b *Backtester) replay(w *Worker, candles []models.Candle, payout float64) BacktestReport {
	var clock time.Time
	engine := b.newRisk(func() time.Time { return clock })

	rep := BacktestReport{
		Account:         w.key.Account,
		Product:         w.key.Product,
		Timeframe:       w.key.Timeframe,
		Bars:            len(candles),
		PayoutPct:       payout,
		PushCountsAsWin: b.pushCountsAsWin,
		Skips:           make(map[string]int),
		EquityCurve:     []EquityPoint{},
		Trades:          []BacktestTrade{},
	}
	var (
		open                   *openTrade
		equity, peak, drawdown decimal.Decimal
		grossProfit, grossLoss decimal.Decimal
		bookedWins             int
	)

	for i, c := range candles {
		clock = time.UnixMilli(c.TsMs)

		if open != nil && i >= open.exit {
			t := open.trade
			t.ExitTsMs, t.ExitPrice = c.TsMs, c.Close
			t.Status = fixedTimeOutcome(t.Direction, t.EntryPrice, t.ExitPrice)
			pnl := backtestPnL(t.Status, t.Amount, t.PayoutPct)
			t.PnL = pnl.InexactFloat64()

			isWin := t.Status.CountsAsWin(b.pushCountsAsWin)
			engine.OnResult(open.tc, t.PnL, isWin)
			open = nil

			switch t.Status {
			case models.ResultWin:
				rep.Wins++
				grossProfit = grossProfit.Add(pnl)
			case models.ResultLose:
				rep.Losses++
				grossLoss = grossLoss.Sub(pnl)
			default:
				rep.Pushes++
			}
			if isWin {
				bookedWins++
			}
			equity = equity.Add(pnl)
			peak = decimal.Max(peak, equity)
			drawdown = decimal.Max(drawdown, peak.Sub(equity))
			rep.Trades = append(rep.Trades, t)
			rep.EquityCurve = append(rep.EquityCurve, EquityPoint{TsMs: t.ExitTsMs, Equity: equity.InexactFloat64()})
		}

		// An entry on the last bar could never settle.
		if i == len(candles)-1 {
			break
		}
		lo := 0
		if w.cfg.Lookback > 0 && i+1 > w.cfg.Lookback {
			lo = i + 1 - w.cfg.Lookback
		}
		tc, decision, reason := w.decide(candles[lo:i+1], payout)
		if reason == ReasonInsufficientData {
			continue
		}
		if reason != "" {
			rep.Skips[reason]++
			continue
		}
		tc.ConcurrencyBlocked = open != nil
		tc.TradeID = ClientReqID(tc, repository.SlotStart(c.TsMs, tc.Timeframe), "bt"+strconv.Itoa(i))
		if ok, reason := engine.EnterAllowed(tc); !ok {
			rep.Skips[reason]++
			continue
		}
		amount := engine.ComputeAmount(tc)
		open = &openTrade{
			tc:   tc,
			exit: i + 1,
			trade: BacktestTrade{
				TradeID:    tc.TradeID,
				EntryTsMs:  c.TsMs,
				Direction:  tc.Direction,
				EntryPrice: c.Close,
				Amount:     amount,
				PayoutPct:  payout,
				Confidence: decision.Confidence,
				ProbWin:    decision.PHat,
			},
		}
	}

	rep.TotalTrades = len(rep.Trades)
	rep.TotalPnL = equity.InexactFloat64()
	rep.GrossProfit = grossProfit.InexactFloat64()
	rep.GrossLoss = grossLoss.InexactFloat64()
	rep.MaxDrawdown = drawdown.InexactFloat64()
	if rep.TotalTrades > 0 {
		n := decimal.NewFromInt(int64(rep.TotalTrades))
		rep.WinRate = float64(bookedWins) / float64(rep.TotalTrades)
		rep.Expectancy = equity.Div(n).InexactFloat64()
	}
	if grossLoss.IsPositive() {
		pf := grossProfit.Div(grossLoss).InexactFloat64()
		rep.ProfitFactor = &pf
	}
	return rep
}

// fixedTimeOutcome settles a fixed-time option: a call wins above the entry
// price, a put below it, and an unchanged price is a push.
func fixedTimeOutcome(dir models.Direction, entry, exit float64) models.ResultStatus {
	switch {
	case exit == entry:
		return models.ResultPush
	case (exit > entry) == (dir == models.DirectionCall):
		return models.ResultWin
	default:
		return models.ResultLose
	}
}

// backtestPnL pays amount·payout on a win, loses the stake on a loss and refunds a push.
func backtestPnL(status models.ResultStatus, amount, payoutPct float64) decimal.Decimal {
	stake := decimal.NewFromFloat(amount)
	switch status {
	case models.ResultWin:
		return stake.Mul(decimal.NewFromFloat(payoutPct)).Div(decimal.NewFromInt(100)).Round(2)
	case models.ResultLose:
		return stake.Neg()
	default:
		return decimal.Zero
	}
}
