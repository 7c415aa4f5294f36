package risk

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"FixedTime/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func defaultLimits() Limits {
	return Limits{
		MaxDailyLoss:         5,
		MaxConsecutiveLosses: 3,
		CooldownBase:         30 * time.Second,
		CooldownCap:          5 * time.Minute,
	}
}

func fixedSizing() Sizing {
	return Sizing{Mode: ModeFixed, FixedAmount: 1, Fraction: 0.02, KellyScale: 0.2, AMin: 1, ACap: 10}
}

func newEngine(clk *testClock, limits Limits, sizing Sizing) *Engine {
	g := NewGuardrails(WithBreakerThreshold(10), WithGuardrailsClock(clk.Now))
	return NewEngine(limits, sizing, g, WithClock(clk.Now))
}

func baseCtx() models.TradeContext {
	return models.TradeContext{
		Account:      "acc1",
		Product:      "EURUSD",
		Timeframe:    1,
		Direction:    models.DirectionCall,
		PayoutPct:    90,
		Confidence:   0.75,
		ProbWin:      0.6,
		Balance:      1000,
		PermitMin:    85,
		PermitMax:    95,
		WinThreshold: 0.70,
	}
}

func TestEnterAllowedPermitWindowScenario(t *testing.T) {
	e := newEngine(newTestClock(), defaultLimits(), fixedSizing())

	ok, reason := e.EnterAllowed(baseCtx())
	assert.True(t, ok)
	assert.Empty(t, reason)

	tc := baseCtx()
	tc.PayoutPct = 96
	ok, reason = e.EnterAllowed(tc)
	assert.False(t, ok)
	assert.Equal(t, ReasonPermitWindow, reason)
}

func TestEnterAllowedCheckOrder(t *testing.T) {
	e := newEngine(newTestClock(), defaultLimits(), fixedSizing())
	e.Guardrails().SetKillSwitch(true)

	tc := baseCtx()
	tc.Confidence = 0.5
	tc.ConcurrencyBlocked = true

	_, reason := e.EnterAllowed(tc)
	assert.Equal(t, ReasonThreshold, reason)

	tc.Confidence = 0.9
	_, reason = e.EnterAllowed(tc)
	assert.Equal(t, ReasonConcurrency, reason)

	tc.ConcurrencyBlocked = false
	_, reason = e.EnterAllowed(tc)
	assert.Equal(t, ReasonKillSwitch, reason)
}

func TestComputeAmountFixedIgnoresBalance(t *testing.T) {
	e := newEngine(newTestClock(), defaultLimits(), fixedSizing())
	for _, bal := range []float64{0, 1, 50, 1000, 1e9, -10} {
		tc := baseCtx()
		tc.Balance = bal
		assert.Equal(t, 1.0, e.ComputeAmount(tc))
	}
}

func TestComputeAmountKellyLite(t *testing.T) {
	s := fixedSizing()
	s.Mode = ModeKellyLite
	e := newEngine(newTestClock(), defaultLimits(), s)

	tc := baseCtx()
	tc.Balance = 100
	// f* = (0.6*1.9-1)/0.9 = 0.1556, scaled by 0.2 -> 3.11
	assert.Equal(t, 3.11, e.ComputeAmount(tc))

	tc.ProbWin = 0.4
	assert.Equal(t, 1.0, e.ComputeAmount(tc), "negative edge floors at zero then clamps to AMin")

	tc.ProbWin = 0.99
	tc.Balance = 1e6
	assert.Equal(t, 10.0, e.ComputeAmount(tc))
}

func TestComputeAmountAlwaysWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	modes := []string{ModeFixed, ModeFraction, ModeKellyLite, "unknown"}

	for i := 0; i < 5000; i++ {
		s := Sizing{
			Mode:        modes[rng.Intn(len(modes))],
			FixedAmount: rng.Float64() * 50,
			Fraction:    rng.Float64(),
			KellyScale:  rng.Float64(),
			AMin:        1,
			ACap:        10,
		}
		e := newEngine(newTestClock(), defaultLimits(), s)

		tc := baseCtx()
		tc.Balance = (rng.Float64() - 0.2) * 1e5
		tc.ProbWin = rng.Float64()*1.4 - 0.2
		tc.PayoutPct = rng.Float64() * 120

		amt := e.ComputeAmount(tc)
		require.GreaterOrEqual(t, amt, 1.0)
		require.LessOrEqual(t, amt, 10.0)
	}
}

func TestLossStreakBlocksUntilWin(t *testing.T) {
	clk := newTestClock()
	e := newEngine(clk, defaultLimits(), fixedSizing())
	tc := baseCtx()

	for i := 0; i < 3; i++ {
		e.OnResult(tc, -1, false)
	}
	clk.Advance(time.Hour)

	ok, reason := e.EnterAllowed(tc)
	assert.False(t, ok)
	assert.Equal(t, ReasonLossStreak, reason)
	assert.Equal(t, 3, e.LossStreak("acc1"))

	e.OnResult(tc, 0.9, true)
	assert.Equal(t, 0, e.LossStreak("acc1"))

	ok, reason = e.EnterAllowed(tc)
	assert.True(t, ok, reason)
}

func TestCooldownEscalatesAndWinClearsIt(t *testing.T) {
	clk := newTestClock()
	e := newEngine(clk, defaultLimits(), fixedSizing())
	tc := baseCtx()

	e.OnResult(tc, -1, false)
	_, reason := e.EnterAllowed(tc)
	assert.Equal(t, ReasonCooldown, reason)

	clk.Advance(30 * time.Second)
	ok, _ := e.EnterAllowed(tc)
	assert.True(t, ok)

	e.OnResult(tc, -1, false)
	clk.Advance(59 * time.Second)
	_, reason = e.EnterAllowed(tc)
	assert.Equal(t, ReasonCooldown, reason, "second loss doubles the cooldown")

	e.OnResult(tc, 1, true)
	ok, _ = e.EnterAllowed(tc)
	assert.True(t, ok)
}

func TestCooldownIsCapped(t *testing.T) {
	e := newEngine(newTestClock(), defaultLimits(), fixedSizing())
	assert.Equal(t, 30*time.Second, e.cooldownFor(1))
	assert.Equal(t, 4*time.Minute, e.cooldownFor(4))
	assert.Equal(t, 5*time.Minute, e.cooldownFor(5))
	assert.Equal(t, 5*time.Minute, e.cooldownFor(100))
}

func TestDailyLossAndReset(t *testing.T) {
	clk := newTestClock()
	e := newEngine(clk, defaultLimits(), fixedSizing())
	tc := baseCtx()

	e.OnResult(tc, -6, false)
	clk.Advance(time.Minute)

	_, reason := e.EnterAllowed(tc)
	assert.Equal(t, ReasonDailyLoss, reason)
	assert.Equal(t, -6.0, e.DailyPnL("acc1"))

	e.ResetDaily("")
	ok, _ := e.EnterAllowed(tc)
	assert.True(t, ok)
	assert.Equal(t, 0.0, e.DailyPnL("acc1"))
}

func TestDailyPnLRollsAtUTCMidnight(t *testing.T) {
	clk := newTestClock()
	e := newEngine(clk, defaultLimits(), fixedSizing())

	e.OnResult(baseCtx(), 0.1, true)
	e.OnResult(baseCtx(), 0.2, true)
	assert.Equal(t, 0.3, e.DailyPnL("acc1"))

	clk.Advance(12 * time.Hour)
	assert.Equal(t, 0.0, e.DailyPnL("acc1"))
}

func TestHydrateAndSnapshot(t *testing.T) {
	e := newEngine(newTestClock(), defaultLimits(), fixedSizing())
	e.Hydrate("b", -2.5, 2)
	e.Hydrate("a", 1, 0)

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Account)
	assert.Equal(t, -2.5, snap[1].DailyPnL)
	assert.Equal(t, 2, snap[1].LossStreak)
}

func TestOnResultFeedsBreakers(t *testing.T) {
	clk := newTestClock()
	limits := defaultLimits()
	limits.MaxConsecutiveLosses = 100
	limits.MaxDailyLoss = 1000
	limits.CooldownBase = 0
	g := NewGuardrails(WithBreakerThreshold(5), WithGuardrailsClock(clk.Now))
	e := NewEngine(limits, fixedSizing(), g, WithClock(clk.Now))

	tc := baseCtx()
	for i := 0; i < 5; i++ {
		e.OnResult(tc, -1, false)
	}

	_, reason := e.EnterAllowed(tc)
	assert.Equal(t, ReasonBreakerOpen, reason)

	other := baseCtx()
	other.Account = "acc2"
	_, reason = e.EnterAllowed(other)
	assert.Equal(t, ReasonGlobalBreakerOpen, reason)
}
