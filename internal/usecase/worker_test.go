package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/service"
	"FixedTime/internal/service/connector"
	"FixedTime/internal/services/ensemble"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExecutor struct {
	mu    sync.Mutex
	calls []models.TradeContext
}

func (c *countingExecutor) Execute(_ context.Context, tc models.TradeContext) models.ExecResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, tc)
	return models.ExecResult{Status: models.ExecSettled, Reason: "win"}
}

func (c *countingExecutor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fixedVoter struct {
	id     int
	vote   int
	warmup int
	err    error
	panics bool
}

func (f fixedVoter) ID() int         { return f.id }
func (f fixedVoter) WarmupBars() int { return f.warmup }

func (f fixedVoter) Evaluate([]models.Candle, models.Features, service.ProviderContext) (*models.ProviderVote, error) {
	if f.panics {
		panic("index out of range")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProviderVote{ProviderID: f.id, Vote: f.vote, Score: 1}, nil
}

type steppingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppingClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *steppingClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWorker(providers []service.StrategyProvider, exec TradeExecutor, clock *steppingClock, opts ...WorkerOption) *Worker {
	mock := connector.NewMock(connector.WithFixedPayout(90), connector.WithMockClock(clock.now))
	cfg := DefaultWorkerConfig()
	all := append([]WorkerOption{WithWorkerClock(clock.now)}, opts...)
	return NewWorker(
		WorkerKey{Account: "acc-1", Product: "EURUSD", Timeframe: 1},
		cfg,
		staticSource{conn: mock},
		providers,
		ensemble.New(),
		exec,
		metrics.Nop{},
		logger.Nop(),
		all...,
	)
}

func TestWorkerRunsOncePerSlot(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	w := newTestWorker([]service.StrategyProvider{fixedVoter{id: 1, vote: 1}}, exec, clock)
	ctx := context.Background()

	assert.False(t, w.Tick(ctx), "first tick only records the slot")
	for i := 0; i < 40; i++ {
		clock.advance(250 * time.Millisecond)
		w.Tick(ctx)
	}
	assert.Zero(t, exec.count(), "still inside the first slot")

	clock.t = time.Date(2026, 3, 2, 12, 1, 0, 0, time.UTC)
	assert.False(t, w.Tick(ctx), "grace period not over yet")

	clock.advance(600 * time.Millisecond)
	assert.True(t, w.Tick(ctx))
	for i := 0; i < 100; i++ {
		clock.advance(250 * time.Millisecond)
		w.Tick(ctx)
	}
	assert.Equal(t, 1, exec.count())
	assert.Equal(t, int64(1), w.ProcessedSlots())

	clock.t = time.Date(2026, 3, 2, 12, 2, 1, 0, time.UTC)
	w.Tick(ctx)
	w.Tick(ctx)
	assert.Equal(t, 2, exec.count())
	assert.Equal(t, int64(2), w.ProcessedSlots())
}

func TestWorkerBuildsTradeContextFromDecision(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	w := newTestWorker([]service.StrategyProvider{fixedVoter{id: 1, vote: -1}}, exec, clock)
	ctx := context.Background()

	w.Tick(ctx)
	clock.advance(time.Minute)
	require.True(t, w.Tick(ctx))
	require.Equal(t, 1, exec.count())

	tc := exec.calls[0]
	assert.Equal(t, models.DirectionPut, tc.Direction)
	assert.Equal(t, "acc-1", tc.Account)
	assert.InDelta(t, 90, tc.PayoutPct, 1e-9)
	assert.InDelta(t, 0.7616, tc.Confidence, 1e-3)
	assert.InDelta(t, 0.70, tc.WinThreshold, 1e-9)
	assert.InDelta(t, 1000, tc.Balance, 1e-9)

	res, ok := w.LastResult()
	require.True(t, ok)
	assert.Equal(t, models.ExecSettled, res.Status)
}

func TestWorkerIsolatesFailingProviders(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	w := newTestWorker([]service.StrategyProvider{
		fixedVoter{id: 1, panics: true},
		fixedVoter{id: 2, err: errors.New("nan in features")},
		fixedVoter{id: 3, vote: -1, warmup: 10_000},
		fixedVoter{id: 4, vote: 1},
	}, exec, clock)
	ctx := context.Background()

	w.Tick(ctx)
	clock.advance(time.Minute)
	require.True(t, w.Tick(ctx))

	require.Equal(t, 1, exec.count())
	assert.Equal(t, models.DirectionCall, exec.calls[0].Direction)
}

func TestWorkerNoDirectionSkipsExecution(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	events := &recordingSink{}
	w := newTestWorker([]service.StrategyProvider{
		fixedVoter{id: 1, vote: 1},
		fixedVoter{id: 2, vote: -1},
	}, exec, clock, WithWorkerEvents(events))
	ctx := context.Background()

	w.Tick(ctx)
	clock.advance(time.Minute)
	require.True(t, w.Tick(ctx))

	assert.Zero(t, exec.count())
	res, ok := w.LastResult()
	require.True(t, ok)
	assert.Equal(t, ReasonNoDirection, res.Reason)

	ev := events.last()
	assert.Equal(t, models.EventDecision, ev.Kind)
	assert.Equal(t, ReasonNoDirection, ev.Reason)
}

func TestWorkerSurvivesConnectorErrors(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	mock := connector.NewMock(
		connector.WithMockClock(clock.now),
		connector.WithFailurePlan(connector.FailurePlan{CandleErr: errors.New("feed down")}),
	)
	w := NewWorker(WorkerKey{Account: "acc-1", Product: "EURUSD", Timeframe: 1}, DefaultWorkerConfig(),
		staticSource{conn: mock}, []service.StrategyProvider{fixedVoter{id: 1, vote: 1}},
		ensemble.New(), exec, metrics.Nop{}, logger.Nop(), WithWorkerClock(clock.now))
	ctx := context.Background()

	w.Tick(ctx)
	clock.advance(time.Minute)
	assert.True(t, w.Tick(ctx))
	assert.Zero(t, exec.count())

	mock.SetFailurePlan(connector.FailurePlan{})
	clock.advance(time.Minute)
	assert.True(t, w.Tick(ctx))
	assert.Equal(t, 1, exec.count())
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	clock := &steppingClock{t: time.Now()}
	w := newTestWorker(nil, &countingExecutor{}, clock)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return w.State() == WorkerRunning }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, WorkerStopped, w.State())
}

func TestWorkerAutoThresholdRaisesToBreakeven(t *testing.T) {
	clock := &steppingClock{t: time.Date(2026, 3, 2, 12, 0, 10, 0, time.UTC)}
	exec := &countingExecutor{}
	mock := connector.NewMock(connector.WithFixedPayout(90), connector.WithMockClock(clock.now))
	cfg := DefaultWorkerConfig()
	cfg.AutoThreshold = true
	cfg.ThresholdMargin = 0.3
	w := NewWorker(WorkerKey{Account: "acc-1", Product: "EURUSD", Timeframe: 1}, cfg,
		staticSource{conn: mock}, []service.StrategyProvider{fixedVoter{id: 1, vote: 1}},
		ensemble.New(), exec, metrics.Nop{}, logger.Nop(), WithWorkerClock(clock.now))
	ctx := context.Background()

	w.Tick(ctx)
	clock.advance(time.Minute)
	require.True(t, w.Tick(ctx))

	require.Equal(t, 1, exec.count())
	assert.InDelta(t, 1/1.9+0.3, exec.calls[0].WinThreshold, 1e-9)
}
