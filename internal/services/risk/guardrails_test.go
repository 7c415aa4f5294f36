package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBreaker(g *Guardrails, scope string, n int) {
	for i := 0; i < n; i++ {
		g.RecordResult(scope, "", false)
	}
}

func TestBreakerOpensAfterConsecutiveLosses(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(5), WithBreakerCooldown(600*time.Second), WithGuardrailsClock(clk.Now))

	openBreaker(g, "acc1", 4)
	ok, _ := g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)

	g.RecordResult("acc1", "trial", false)
	ok, reason := g.PreTradeCheck("acc1", "trial")
	assert.False(t, ok)
	assert.Equal(t, ReasonBreakerOpen, reason)
	assert.Equal(t, StateOpen, g.State("acc1"))

	clk.Advance(599 * time.Second)
	ok, _ = g.PreTradeCheck("acc1", "trial")
	assert.False(t, ok)
}

func TestBreakerWinResetsLossCount(t *testing.T) {
	g := NewGuardrails(WithBreakerThreshold(3))
	openBreaker(g, "acc1", 2)
	g.RecordResult("acc1", "trial", true)
	openBreaker(g, "acc1", 2)

	assert.Equal(t, StateClosed, g.State("acc1"))
}

func TestHalfOpenAdmitsSingleTrialThenCloses(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(5), WithBreakerCooldown(600*time.Second), WithGuardrailsClock(clk.Now))
	openBreaker(g, "acc1", 5)

	clk.Advance(600 * time.Second)
	assert.Equal(t, StateHalfOpen, g.State("acc1"))

	ok, _ := g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok, "first trial admitted")

	ok, reason := g.PreTradeCheck("acc1", "trial")
	assert.False(t, ok)
	assert.Equal(t, ReasonBreakerHalfOpen, reason)

	g.RecordResult("acc1", "trial", true)
	assert.Equal(t, StateClosed, g.State("acc1"))
	ok, _ = g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
}

func TestHalfOpenTrialLossReopensWithFreshCooldown(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(5), WithBreakerCooldown(600*time.Second), WithGuardrailsClock(clk.Now))
	openBreaker(g, "acc1", 5)
	clk.Advance(600 * time.Second)

	ok, _ := g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
	g.RecordResult("acc1", "trial", false)

	assert.Equal(t, StateOpen, g.State("acc1"))
	clk.Advance(599 * time.Second)
	ok, reason := g.PreTradeCheck("acc1", "trial")
	assert.False(t, ok)
	assert.Equal(t, ReasonBreakerOpen, reason)

	clk.Advance(time.Second)
	ok, _ = g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
}

func TestHalfOpenIgnoresOutcomesOfOtherTrades(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(2), WithBreakerCooldown(time.Minute), WithGuardrailsClock(clk.Now))
	openBreaker(g, "acc1", 2)
	clk.Advance(time.Minute)

	ok, _ := g.PreTradeCheck("acc1", "trial")
	require.True(t, ok)

	g.RecordResult("acc1", "admitted-before-open", false)
	assert.Equal(t, StateHalfOpen, g.State("acc1"), "a late loss must not reopen the breaker")
	g.RecordResult("acc1", "admitted-before-open", true)
	assert.Equal(t, StateHalfOpen, g.State("acc1"), "nor a late win close it")
	g.ReleaseTrial("acc1", "admitted-before-open")
	_, reason := g.PreTradeCheck("acc1", "another")
	assert.Equal(t, ReasonBreakerHalfOpen, reason, "the trial still belongs to its trade")

	g.RecordResult("acc1", "trial", true)
	assert.Equal(t, StateClosed, g.State("acc1"))
}

func TestReleaseTrialFreesSlot(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(1), WithBreakerCooldown(time.Minute), WithGuardrailsClock(clk.Now))
	openBreaker(g, "acc1", 1)
	clk.Advance(time.Minute)

	ok, _ := g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
	g.ReleaseTrial("acc1", "trial")
	ok, _ = g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
}

func TestGlobalBreakerDoesNotConsumeAccountTrial(t *testing.T) {
	clk := newTestClock()
	g := NewGuardrails(WithBreakerThreshold(1), WithBreakerCooldown(time.Minute), WithGuardrailsClock(clk.Now))
	openBreaker(g, "acc1", 1)
	clk.Advance(time.Minute)
	g.Trip(GlobalScope, time.Hour)

	_, reason := g.PreTradeCheck("acc1", "trial")
	assert.Equal(t, ReasonGlobalBreakerOpen, reason)

	g.Reset(GlobalScope)
	ok, _ := g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok, "account trial still available")
}

func TestKillSwitchOverridesEverything(t *testing.T) {
	g := NewGuardrails(WithKillSwitch(true))
	ok, reason := g.PreTradeCheck("acc1", "trial")
	assert.False(t, ok)
	assert.Equal(t, ReasonKillSwitch, reason)

	g.SetKillSwitch(false)
	assert.False(t, g.KillSwitch())
	ok, _ = g.PreTradeCheck("acc1", "trial")
	assert.True(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
