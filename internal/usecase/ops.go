package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/services/ensemble"
	"FixedTime/internal/services/risk"
	"FixedTime/internal/services/strategy"
	"FixedTime/pkg/logger"
)

// StatusReport is the engine-wide view served to operators.
type StatusReport struct {
	KillSwitch     bool                   `json:"kill_switch"`
	Breakers       []risk.BreakerInfo     `json:"breakers"`
	Accounts       []risk.AccountSnapshot `json:"accounts"`
	Ensemble       ensemble.Snapshot      `json:"ensemble"`
	RunningWorkers int                    `json:"running_workers"`
	GeneratedAt    time.Time              `json:"generated_at"`
}

// ErrInsufficientSamples is returned when a calibration batch is too small to fit.
var ErrInsufficientSamples = errors.New("not enough calibration samples")

// ErrBacktestDisabled is returned by Backtest when no backtester is wired.
var ErrBacktestDisabled = errors.New("backtesting is not enabled")

// CalibrationReport describes a calibration run. Brier scores are measured on
// the submitted batch before and after the fit.
type CalibrationReport struct {
	A           float64 `json:"a"`
	B           float64 `json:"b"`
	Samples     int     `json:"samples"`
	BrierBefore float64 `json:"brier_before"`
	BrierAfter  float64 `json:"brier_after"`
}

// OpsOption configures an OpsService.
type OpsOption func(*OpsService)

// WithMinCalibrationSamples sets the smallest batch Calibrate accepts.
func WithMinCalibrationSamples(n int) OpsOption {
	return func(o *OpsService) { o.minSamples = n }
}

// WithBacktester enables Backtest.
func WithBacktester(b *Backtester) OpsOption {
	return func(o *OpsService) { o.backtester = b }
}

// OpsService is the operator surface shared by the HTTP API and the command consumer.
type OpsService struct {
	scheduler *Scheduler
	risk      *risk.Engine
	ensemble  *ensemble.Ensemble
	registry  *strategy.Registry
	log       *logger.Logger
	now       func() time.Time

	minSamples int
	backtester *Backtester
}

func NewOpsService(scheduler *Scheduler, engine *risk.Engine, ens *ensemble.Ensemble, registry *strategy.Registry, log *logger.Logger, opts ...OpsOption) *OpsService {
	o := &OpsService{
		scheduler:  scheduler,
		risk:       engine,
		ensemble:   ens,
		registry:   registry,
		log:        log,
		now:        time.Now,
		minSamples: 10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OpsService) Workers() []WorkerInfo { return o.scheduler.List() }

func (o *OpsService) StartWorker(key WorkerKey) error {
	if err := o.scheduler.StartWorker(key); err != nil {
		return err
	}
	o.log.Info("worker start requested", logger.String("worker", key.String()))
	return nil
}

func (o *OpsService) StopWorker(key WorkerKey) error {
	if err := o.scheduler.StopWorker(key); err != nil {
		return err
	}
	o.log.Info("worker stop requested", logger.String("worker", key.String()))
	return nil
}

func (o *OpsService) SetKillSwitch(on bool, reason string) {
	o.risk.Guardrails().SetKillSwitch(on)
	o.log.Warn("kill switch changed", logger.Bool("enabled", on), logger.String("reason", reason))
}

// ResetDaily clears the daily PnL of account, or of every account when empty.
func (o *OpsService) ResetDaily(account string) {
	o.risk.ResetDaily(account)
	o.log.Info("daily pnl reset", logger.String("account", account))
}

func (o *OpsService) Status() StatusReport {
	running := 0
	for _, w := range o.scheduler.List() {
		if w.Running {
			running++
		}
	}
	g := o.risk.Guardrails()
	return StatusReport{
		KillSwitch:     g.KillSwitch(),
		Breakers:       g.Breakers(),
		Accounts:       o.risk.Snapshot(),
		Ensemble:       o.ensemble.Snapshot(),
		RunningWorkers: running,
		GeneratedAt:    o.now().UTC(),
	}
}

func (o *OpsService) Strategies() []strategy.Metadata { return o.registry.Metadata() }

// Calibrate refits the ensemble's Platt parameters on scored outcomes (1 win,
// 0 otherwise), starting from the parameters currently in use. The ensemble is
// left untouched when the batch is too small.
func (o *OpsService) Calibrate(scores, outcomes []float64) (CalibrationReport, error) {
	if len(scores) != len(outcomes) {
		return CalibrationReport{}, fmt.Errorf("calibrate: %d scores for %d outcomes", len(scores), len(outcomes))
	}
	c := ensemble.NewCalibrator(o.minSamples)
	c.A, c.B = o.ensemble.Calibration()
	before := ensemble.BrierScore(predictAll(c, scores), outcomes)

	if !c.Fit(scores, outcomes) {
		return CalibrationReport{}, fmt.Errorf("calibrate with %d samples: %w", len(scores), ErrInsufficientSamples)
	}
	c.Apply(o.ensemble)

	rep := CalibrationReport{
		A:           c.A,
		B:           c.B,
		Samples:     len(scores),
		BrierBefore: before,
		BrierAfter:  ensemble.BrierScore(predictAll(c, scores), outcomes),
	}
	o.log.Info("ensemble recalibrated",
		logger.Float64("a", rep.A),
		logger.Float64("b", rep.B),
		logger.Int("samples", rep.Samples),
		logger.Float64("brier", rep.BrierAfter))
	return rep, nil
}

// Backtest replays the live decision path over historical candles on an
// isolated risk engine. Live risk state is never touched.
func (o *OpsService) Backtest(ctx context.Context, req models.BacktestRequest) (BacktestReport, error) {
	if o.backtester == nil {
		return BacktestReport{}, ErrBacktestDisabled
	}
	return o.backtester.Run(ctx, req)
}

func predictAll(c *ensemble.Calibrator, scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = c.Predict(s)
	}
	return out
}
