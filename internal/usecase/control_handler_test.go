package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"FixedTime/internal/services/ensemble"
	"FixedTime/internal/services/risk"
	"FixedTime/internal/services/strategy"
	"FixedTime/pkg/kafka"
	"FixedTime/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOps(t *testing.T) (*OpsService, *Scheduler, *risk.Engine) {
	t.Helper()
	sched, _, _ := newTestScheduler(t)
	engine := risk.NewEngine(risk.Limits{MaxDailyLoss: 100}, risk.Sizing{Mode: risk.ModeFixed, FixedAmount: 1}, nil)
	ops := NewOpsService(sched, engine, ensemble.New(), strategy.NewDefaultRegistry(), logger.Nop())
	return ops, sched, engine
}

func TestControlHandlerKillSwitch(t *testing.T) {
	ops, _, engine := newTestOps(t)
	h := NewControlHandler("fixedtime.commands", ops, logger.Nop())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte(`{"cmd":"killswitch","enabled":true,"reason":"venue outage"}`)))
	assert.True(t, engine.Guardrails().KillSwitch())
	assert.True(t, ops.Status().KillSwitch)

	require.NoError(t, h.Handle(ctx, []byte(`{"cmd":"killswitch","enabled":false}`)))
	assert.False(t, engine.Guardrails().KillSwitch())
}

func TestControlHandlerWorkerLifecycle(t *testing.T) {
	ops, sched, _ := newTestOps(t)
	h := NewControlHandler("fixedtime.commands", ops, logger.Nop())
	ctx := context.Background()
	key := WorkerKey{Account: "acc-1", Product: "EURUSD", Timeframe: 5}

	require.NoError(t, h.Handle(ctx, []byte(`{"cmd":"start_worker","account":"acc-1","product":"EURUSD","timeframe":5}`)))
	assert.True(t, sched.IsRunning(key))

	require.NoError(t, h.Handle(ctx, []byte(`{"cmd":"stop_worker","account":"acc-1","product":"EURUSD","timeframe":5}`)))
	assert.False(t, sched.IsRunning(key))

	err := h.Handle(ctx, []byte(`{"cmd":"stop_worker","account":"acc-1","product":"EURUSD","timeframe":5}`))
	assert.True(t, kafka.IsPermanent(err))
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestControlHandlerResetDaily(t *testing.T) {
	ops, _, engine := newTestOps(t)
	h := NewControlHandler("fixedtime.commands", ops, logger.Nop())
	engine.Hydrate("acc-1", -42, 0)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"cmd":"reset_daily","account":"acc-1"}`)))

	assert.Zero(t, engine.DailyPnL("acc-1"))
}

func TestControlHandlerRejectsBadCommands(t *testing.T) {
	ops, _, _ := newTestOps(t)
	h := NewControlHandler("fixedtime.commands", ops, logger.Nop())
	ctx := context.Background()

	for name, raw := range map[string]string{
		"not json":          `{"cmd":`,
		"unknown command":   `{"cmd":"liquidate"}`,
		"missing enabled":   `{"cmd":"killswitch"}`,
		"missing product":   `{"cmd":"start_worker","account":"acc-1"}`,
		"invalid timeframe": `{"cmd":"start_worker","account":"acc-1","product":"EURUSD","timeframe":7}`,
		"short calibration": `{"cmd":"calibrate","scores":[1,-1],"outcomes":[1,0]}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := h.Handle(ctx, []byte(raw))
			require.Error(t, err)
			assert.True(t, kafka.IsPermanent(err))
		})
	}
}

func TestOpsCalibrate(t *testing.T) {
	ops, _, _ := newTestOps(t)

	var scores, outcomes []float64
	for i := 0; i < 10; i++ {
		scores = append(scores, 1, -1)
		outcomes = append(outcomes, 1, 0)
	}

	_, err := ops.Calibrate(scores[:4], outcomes[:4])
	assert.ErrorIs(t, err, ErrInsufficientSamples)
	_, err = ops.Calibrate(scores, outcomes[:3])
	assert.Error(t, err)
	a, b := ops.ensemble.Calibration()
	assert.Equal(t, 1.0, a)
	assert.Equal(t, 0.0, b)

	rep, err := ops.Calibrate(scores, outcomes)
	require.NoError(t, err)
	assert.Equal(t, 20, rep.Samples)
	assert.Greater(t, rep.A, 1.0)
	assert.InDelta(t, 0, rep.B, 1e-6)
	assert.Less(t, rep.BrierAfter, rep.BrierBefore)

	a, b = ops.ensemble.Calibration()
	assert.Equal(t, rep.A, a)
	assert.Equal(t, rep.B, b)
}

func TestControlHandlerCalibrate(t *testing.T) {
	ops, _, _ := newTestOps(t)
	h := NewControlHandler("fixedtime.commands", ops, logger.Nop())

	var scores, outcomes []float64
	for i := 0; i < 6; i++ {
		scores = append(scores, 0.8, -0.8)
		outcomes = append(outcomes, 1, 0)
	}
	raw, err := json.Marshal(ControlCommand{Cmd: CmdCalibrate, Scores: scores, Outcomes: outcomes})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), raw))
	a, _ := ops.ensemble.Calibration()
	assert.Greater(t, a, 1.0)
}
