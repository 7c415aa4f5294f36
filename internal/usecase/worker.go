package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/internal/domain/service"
	"FixedTime/internal/services/ensemble"
	"FixedTime/internal/services/features"
	"FixedTime/pkg/logger"
)

// Worker states reported by State.
const (
	WorkerIdle    = "idle"
	WorkerRunning = "running"
	WorkerStopped = "stopped"
)

// Decision reasons produced before the executor is reached.
const (
	ReasonNoDirection      = "no_direction"
	ReasonInsufficientData = "insufficient_data"
)

// WorkerKey identifies one trading loop.
type WorkerKey struct {
	Account   string `json:"account"`
	Product   string `json:"product"`
	Timeframe int    `json:"timeframe"`
}

func (k WorkerKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Account, k.Product, k.Timeframe)
}

type WorkerConfig struct {
	Lookback     int
	TickInterval time.Duration
	Grace        time.Duration
	Jitter       time.Duration
	MinCandles   int

	WinThreshold float64
	PermitMin    float64
	PermitMax    float64
	Balance      float64

	// AutoThreshold lifts WinThreshold to the payout breakeven plus ThresholdMargin.
	AutoThreshold   bool
	ThresholdMargin float64
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Lookback:     300,
		TickInterval: 250 * time.Millisecond,
		Grace:        500 * time.Millisecond,
		Jitter:       100 * time.Millisecond,
		MinCandles:   30,
		WinThreshold: 0.70,
		PermitMin:    89,
		PermitMax:    93,
		Balance:      1000,
	}
}

// TradeExecutor is the part of Executor the worker needs.
type TradeExecutor interface {
	Execute(ctx context.Context, tc models.TradeContext) models.ExecResult
}

// Combiner fuses provider votes into one decision.
type Combiner interface {
	Combine(votes []models.ProviderVote) models.EnsembleResult
}

// Worker drives the decision pipeline for a single key, once per timeframe slot.
type Worker struct {
	key        WorkerKey
	cfg        WorkerConfig
	connectors ConnectorSource
	providers  []service.StrategyProvider
	ensemble   Combiner
	exec       TradeExecutor
	events     EventSink
	metrics    repository.Metrics
	log        *logger.Logger
	now        func() time.Time

	mu         sync.Mutex
	state      string
	lastSlot   int64
	processed  int64
	lastResult models.ExecResult
	hasResult  bool
}

type WorkerOption func(*Worker)

func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func WithWorkerEvents(s EventSink) WorkerOption {
	return func(w *Worker) {
		if s != nil {
			w.events = s
		}
	}
}

func NewWorker(
	key WorkerKey,
	cfg WorkerConfig,
	connectors ConnectorSource,
	providers []service.StrategyProvider,
	ens Combiner,
	exec TradeExecutor,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...WorkerOption,
) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MinCandles <= 0 {
		cfg.MinCandles = def.MinCandles
	}

	w := &Worker{
		key:        key,
		cfg:        cfg,
		connectors: connectors,
		providers:  providers,
		ensemble:   ens,
		exec:       exec,
		events:     nopSink{},
		metrics:    metrics,
		log:        log.With(logger.String("worker", key.String())),
		now:        time.Now,
		state:      WorkerIdle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Key() WorkerKey { return w.key }

// Run ticks until ctx is cancelled. Pipeline errors are logged and never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	w.setState(WorkerRunning)
	defer w.setState(WorkerStopped)

	w.log.Info("worker started", logger.Int("providers", len(w.providers)))
	defer func() {
		w.log.Info("worker stopped", logger.Int64("processed_slots", w.ProcessedSlots()))
	}()

	for {
		w.Tick(ctx)

		wait := w.cfg.TickInterval
		if w.cfg.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(w.cfg.Jitter)))
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Tick runs the pipeline when the slot has advanced since the previous tick. The first
// tick only records the slot. It reports whether the pipeline ran.
func (w *Worker) Tick(ctx context.Context) bool {
	slot := repository.SlotStart(w.now().Add(-w.cfg.Grace).UnixMilli(), w.key.Timeframe)

	w.mu.Lock()
	switch {
	case w.lastSlot == 0:
		w.lastSlot = slot
		w.mu.Unlock()
		return false
	case slot <= w.lastSlot:
		w.mu.Unlock()
		return false
	}
	w.lastSlot = slot
	w.processed++
	w.mu.Unlock()

	w.process(ctx)
	return true
}

func (w *Worker) ProcessedSlots() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// LastResult returns the most recent execution outcome, if any.
func (w *Worker) LastResult() (models.ExecResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult, w.hasResult
}

func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s string) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) setResult(res models.ExecResult) {
	w.mu.Lock()
	w.lastResult = res
	w.hasResult = true
	w.mu.Unlock()
}

func (w *Worker) process(ctx context.Context) {
	start := w.now()
	defer func() {
		w.metrics.RecordLatency("pipeline", w.now().Sub(start).Seconds())
	}()

	conn, err := w.connectors.Get(ctx, w.key.Account)
	if err != nil {
		w.connectorError("connector", err)
		return
	}
	candles, err := conn.GetCandles(ctx, w.key.Product, w.key.Timeframe, w.cfg.Lookback)
	if err != nil {
		w.connectorError("candles", err)
		return
	}
	payout, err := conn.GetCurrentWinRate(ctx, w.key.Product)
	if err != nil {
		w.connectorError("payout", err)
		return
	}
	tc, decision, reason := w.decide(candles, payout)
	if reason != ReasonInsufficientData {
		w.metrics.RecordConfidence(decision.Confidence)
	}
	if reason != "" {
		w.skip(ctx, reason, decision, payout)
		return
	}
	w.setResult(w.exec.Execute(ctx, tc))
}

// decide runs features, providers and the ensemble over candles, oldest first.
// An empty reason means tc is ready for the executor.
func (w *Worker) decide(candles []models.Candle, payout float64) (models.TradeContext, models.EnsembleResult, string) {
	if len(candles) < w.cfg.MinCandles {
		return models.TradeContext{}, models.EnsembleResult{}, ReasonInsufficientData
	}

	feats := features.Build(candles, w.key.Timeframe)
	votes := w.evaluate(candles, feats, service.ProviderContext{
		Product:   w.key.Product,
		Timeframe: w.key.Timeframe,
		PayoutPct: payout,
	})

	decision := w.ensemble.Combine(votes)
	if decision.Direction == 0 {
		return models.TradeContext{}, decision, ReasonNoDirection
	}

	threshold := w.cfg.WinThreshold
	if w.cfg.AutoThreshold {
		threshold = ensemble.SuggestThreshold(payout, threshold, w.cfg.ThresholdMargin)
	}
	return models.TradeContext{
		Account:      w.key.Account,
		Product:      w.key.Product,
		Timeframe:    w.key.Timeframe,
		Direction:    models.DirectionFromSign(decision.Direction),
		PayoutPct:    payout,
		Confidence:   decision.Confidence,
		ProbWin:      decision.PHat,
		Balance:      w.cfg.Balance,
		PermitMin:    w.cfg.PermitMin,
		PermitMax:    w.cfg.PermitMax,
		WinThreshold: threshold,
	}, decision, ""
}

// evaluate collects votes. A failing or panicking provider is dropped for this tick only.
func (w *Worker) evaluate(candles []models.Candle, feats models.Features, pctx service.ProviderContext) []models.ProviderVote {
	votes := make([]models.ProviderVote, 0, len(w.providers))
	for _, p := range w.providers {
		if p.WarmupBars() > len(candles) {
			continue
		}
		v, err := safeEvaluate(p, candles, feats, pctx)
		if err != nil {
			w.metrics.RecordError("provider")
			w.log.Warn("provider evaluation failed", logger.Int("provider_id", p.ID()), logger.Error(err))
			continue
		}
		if v != nil {
			votes = append(votes, *v)
		}
	}
	return votes
}

func safeEvaluate(p service.StrategyProvider, candles []models.Candle, feats models.Features, pctx service.ProviderContext) (v *models.ProviderVote, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("provider %d panicked: %v", p.ID(), r)
		}
	}()
	return p.Evaluate(candles, feats, pctx)
}

func (w *Worker) connectorError(stage string, err error) {
	w.metrics.RecordError(stage)
	w.log.Warn("tick skipped", logger.String("stage", stage), logger.Error(err))
}

func (w *Worker) skip(ctx context.Context, reason string, d models.EnsembleResult, payout float64) {
	res := models.ExecResult{Status: models.ExecSkipped, Reason: reason}
	w.setResult(res)
	w.metrics.RecordDecision(string(res.Status), reason)
	w.log.Debug("no trade",
		logger.String("reason", reason),
		logger.Float64("s", d.S),
		logger.Float64("payout_pct", payout))

	ev := models.DecisionEvent{
		Kind:       models.EventDecision,
		TsMs:       w.now().UnixMilli(),
		Account:    w.key.Account,
		Product:    w.key.Product,
		Timeframe:  w.key.Timeframe,
		Status:     string(res.Status),
		Reason:     reason,
		Confidence: d.Confidence,
		ProbWin:    d.PHat,
		PayoutPct:  payout,
	}
	if err := w.events.Publish(ctx, ev); err != nil {
		w.log.Debug("decision event dropped", logger.Error(err))
	}
}
