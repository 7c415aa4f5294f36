package risk

import (
	"math"
	"sort"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/pkg/util"

	"github.com/shopspring/decimal"
)

// Reason codes returned when an entry is refused.
const (
	ReasonPermitWindow      = "permit_window"
	ReasonThreshold         = "threshold"
	ReasonConcurrency       = "concurrency"
	ReasonLossStreak        = "loss_streak"
	ReasonDailyLoss         = "daily_loss"
	ReasonCooldown          = "cooldown"
	ReasonKillSwitch        = "killswitch_on"
	ReasonBreakerOpen       = "cb_open"
	ReasonGlobalBreakerOpen = "cb_global_open"
	ReasonBreakerHalfOpen   = "cb_half_open"
)

// Sizing modes.
const (
	ModeFixed     = "fixed"
	ModeFraction  = "fraction"
	ModeKellyLite = "kelly_lite"
)

// Limits are the per-account loss controls.
type Limits struct {
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	CooldownBase         time.Duration
	CooldownCap          time.Duration
}

// Sizing selects how the stake is computed and its hard bounds.
type Sizing struct {
	Mode        string
	FixedAmount float64
	Fraction    float64
	KellyScale  float64
	AMin        float64
	ACap        float64
}

type accountState struct {
	lossStreak    int
	dailyPnL      decimal.Decimal
	day           time.Time
	cooldownUntil time.Time
}

// Engine gates entries and sizes stakes. Counter updates are atomic per call.
type Engine struct {
	mu       sync.Mutex
	limits   Limits
	sizing   Sizing
	guards   *Guardrails
	accounts map[string]*accountState
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates a risk engine. A nil guards gets a default Guardrails sharing the engine clock.
func NewEngine(limits Limits, sizing Sizing, guards *Guardrails, opts ...Option) *Engine {
	e := &Engine{
		limits:   limits,
		sizing:   sizing,
		guards:   guards,
		accounts: make(map[string]*accountState),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.guards == nil {
		e.guards = NewGuardrails(WithGuardrailsClock(e.now))
	}
	return e
}

func (e *Engine) Guardrails() *Guardrails {
	return e.guards
}

// EnterAllowed runs the entry checks in order and returns the first failing reason.
func (e *Engine) EnterAllowed(tc models.TradeContext) (bool, string) {
	if tc.PayoutPct < tc.PermitMin || tc.PayoutPct > tc.PermitMax {
		return false, ReasonPermitWindow
	}
	if tc.Confidence < tc.WinThreshold {
		return false, ReasonThreshold
	}
	if tc.ConcurrencyBlocked {
		return false, ReasonConcurrency
	}

	e.mu.Lock()
	st := e.state(tc.Account)
	switch {
	case e.limits.MaxConsecutiveLosses > 0 && st.lossStreak >= e.limits.MaxConsecutiveLosses:
		e.mu.Unlock()
		return false, ReasonLossStreak
	case e.limits.MaxDailyLoss > 0 && st.dailyPnL.InexactFloat64() <= -e.limits.MaxDailyLoss:
		e.mu.Unlock()
		return false, ReasonDailyLoss
	case e.now().Before(st.cooldownUntil):
		e.mu.Unlock()
		return false, ReasonCooldown
	}
	e.mu.Unlock()

	return e.guards.PreTradeCheck(tc.Account, tc.TradeID)
}

// ReleaseTrial gives back a breaker trial claimed by EnterAllowed when no result will follow.
func (e *Engine) ReleaseTrial(tc models.TradeContext) {
	e.guards.ReleaseTrial(tc.Account, tc.TradeID)
	e.guards.ReleaseTrial(GlobalScope, tc.TradeID)
}

// ComputeAmount sizes the stake, rounds it to cents and clamps it to [AMin, ACap].
func (e *Engine) ComputeAmount(tc models.TradeContext) float64 {
	s := e.sizing

	var raw float64
	switch s.Mode {
	case ModeFraction:
		raw = tc.Balance * s.Fraction
	case ModeKellyLite:
		r := tc.PayoutPct / 100
		p := math.Min(1, math.Max(0, tc.ProbWin))
		f := (p*(r+1) - 1) / math.Max(r, 1e-6)
		if f < 0 {
			f = 0
		}
		raw = tc.Balance * f * s.KellyScale
	default:
		raw = s.FixedAmount
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = s.AMin
	}

	amt := decimal.NewFromFloat(raw).Round(2)
	amt = decimal.Max(amt, decimal.NewFromFloat(s.AMin))
	amt = decimal.Min(amt, decimal.NewFromFloat(s.ACap))
	return amt.InexactFloat64()
}

// OnResult books a settled outcome for tc.Account and forwards it to the breakers.
func (e *Engine) OnResult(tc models.TradeContext, pnl float64, isWin bool) {
	e.mu.Lock()
	st := e.state(tc.Account)
	st.dailyPnL = st.dailyPnL.Add(decimal.NewFromFloat(pnl))
	if isWin {
		st.lossStreak = 0
		st.cooldownUntil = time.Time{}
	} else {
		st.lossStreak++
		st.cooldownUntil = e.now().Add(e.cooldownFor(st.lossStreak))
	}
	e.mu.Unlock()

	e.guards.RecordResult(tc.Account, tc.TradeID, isWin)
	e.guards.RecordResult(GlobalScope, tc.TradeID, isWin)
}

// cooldownFor returns base·2^(streak-1) capped at CooldownCap.
func (e *Engine) cooldownFor(streak int) time.Duration {
	base, limit := e.limits.CooldownBase, e.limits.CooldownCap
	if base <= 0 {
		return 0
	}
	shift := streak - 1
	if shift > 30 {
		return limit
	}
	d := base << uint(shift)
	if limit > 0 && (d > limit || d <= 0) {
		return limit
	}
	return d
}

// ResetDaily zeroes the daily PnL for account, or every account when empty.
func (e *Engine) ResetDaily(account string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, st := range e.accounts {
		if account == "" || id == account {
			st.dailyPnL = decimal.Zero
			st.day = util.StartOfUTCDay(e.now())
		}
	}
}

// Hydrate seeds account state from persisted history.
func (e *Engine) Hydrate(account string, dailyPnL float64, lossStreak int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(account)
	st.dailyPnL = decimal.NewFromFloat(dailyPnL)
	st.lossStreak = lossStreak
}

func (e *Engine) DailyPnL(account string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(account).dailyPnL.InexactFloat64()
}

func (e *Engine) LossStreak(account string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(account).lossStreak
}

// AccountSnapshot is the exported risk state of one account.
type AccountSnapshot struct {
	Account       string    `json:"account"`
	LossStreak    int       `json:"loss_streak"`
	DailyPnL      float64   `json:"daily_pnl"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

func (e *Engine) Snapshot() []AccountSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]AccountSnapshot, 0, len(e.accounts))
	for id := range e.accounts {
		st := e.state(id)
		out = append(out, AccountSnapshot{
			Account:       id,
			LossStreak:    st.lossStreak,
			DailyPnL:      st.dailyPnL.InexactFloat64(),
			CooldownUntil: st.cooldownUntil,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// state returns the account state, rolling the daily PnL at UTC midnight. Caller holds mu.
func (e *Engine) state(account string) *accountState {
	today := util.StartOfUTCDay(e.now())
	st, ok := e.accounts[account]
	if !ok {
		st = &accountState{day: today}
		e.accounts[account] = st
	}
	if !util.SameUTCDay(st.day, today) {
		st.dailyPnL = decimal.Zero
		st.day = today
	}
	return st
}
