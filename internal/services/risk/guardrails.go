package risk

import (
	"sync"
	"time"
)

// GlobalScope is the breaker scope shared by every account.
const GlobalScope = "global"

// BreakerState is the circuit breaker state of one scope.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type breaker struct {
	state         BreakerState
	losses        int
	openUntil     time.Time
	trialInFlight bool
	trialID       string
}

// Guardrails holds the kill switch and per-scope circuit breakers.
type Guardrails struct {
	mu         sync.Mutex
	killSwitch bool
	breakers   map[string]*breaker
	threshold  int
	cooldown   time.Duration
	now        func() time.Time
}

// GuardrailsOption configures Guardrails.
type GuardrailsOption func(*Guardrails)

// WithBreakerThreshold sets the consecutive losses that open a breaker.
func WithBreakerThreshold(n int) GuardrailsOption {
	return func(g *Guardrails) {
		if n > 0 {
			g.threshold = n
		}
	}
}

// WithBreakerCooldown sets how long an opened breaker blocks.
func WithBreakerCooldown(d time.Duration) GuardrailsOption {
	return func(g *Guardrails) {
		if d > 0 {
			g.cooldown = d
		}
	}
}

func WithKillSwitch(on bool) GuardrailsOption {
	return func(g *Guardrails) {
		g.killSwitch = on
	}
}

func WithGuardrailsClock(now func() time.Time) GuardrailsOption {
	return func(g *Guardrails) {
		g.now = now
	}
}

// NewGuardrails opens a breaker after 5 straight losses for 10 minutes unless configured otherwise.
func NewGuardrails(opts ...GuardrailsOption) *Guardrails {
	g := &Guardrails{
		breakers:  make(map[string]*breaker),
		threshold: 5,
		cooldown:  10 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guardrails) SetKillSwitch(on bool) {
	g.mu.Lock()
	g.killSwitch = on
	g.mu.Unlock()
}

func (g *Guardrails) KillSwitch() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitch
}

// State returns the current state of scope, moving OPEN to HALF_OPEN once the cooldown elapsed.
func (g *Guardrails) State(scope string) BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.get(scope).state
}

// Trip forces scope OPEN for cooldown (the configured cooldown when <= 0).
func (g *Guardrails) Trip(scope string, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = g.cooldown
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.get(scope)
	b.state = StateOpen
	b.openUntil = g.now().Add(cooldown)
	b.trialInFlight = false
	b.trialID = ""
}

// Reset closes scope and clears its loss count.
func (g *Guardrails) Reset(scope string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.breakers[scope] = &breaker{}
}

// PreTradeCheck evaluates the kill switch, then the account breaker, then the global breaker.
// A HALF_OPEN breaker admits one trial; the trial slot is claimed for tradeID only when
// every check passes.
func (g *Guardrails) PreTradeCheck(account, tradeID string) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.killSwitch {
		return false, ReasonKillSwitch
	}

	acc := g.get(account)
	if ok, reason := admits(acc, ReasonBreakerOpen); !ok {
		return false, reason
	}
	glob := g.get(GlobalScope)
	if ok, reason := admits(glob, ReasonGlobalBreakerOpen); !ok {
		return false, reason
	}

	for _, b := range []*breaker{acc, glob} {
		if b.state == StateHalfOpen {
			b.trialInFlight = true
			b.trialID = tradeID
		}
	}
	return true, ""
}

// RecordResult feeds the outcome of trade tradeID into the breaker for scope. While
// HALF_OPEN only the trade holding the trial decides the breaker; outcomes of trades
// admitted before it opened are ignored.
func (g *Guardrails) RecordResult(scope, tradeID string, isWin bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.get(scope)
	switch b.state {
	case StateHalfOpen:
		if !b.trialInFlight || b.trialID != tradeID {
			return
		}
		b.trialInFlight = false
		b.trialID = ""
		if isWin {
			b.state = StateClosed
			b.losses = 0
			return
		}
		b.state = StateOpen
		b.openUntil = g.now().Add(g.cooldown)
	case StateOpen:
		if !isWin {
			b.losses++
		}
	default:
		if isWin {
			b.losses = 0
			return
		}
		b.losses++
		if b.losses >= g.threshold {
			b.state = StateOpen
			b.openUntil = g.now().Add(g.cooldown)
			b.losses = 0
		}
	}
}

// ReleaseTrial frees a HALF_OPEN trial slot claimed by tradeID when that trade
// will not produce a result.
func (g *Guardrails) ReleaseTrial(scope, tradeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[scope]; ok && b.state == StateHalfOpen && b.trialID == tradeID {
		b.trialInFlight = false
		b.trialID = ""
	}
}

// BreakerInfo is a read-only view of a breaker.
type BreakerInfo struct {
	Scope     string    `json:"scope"`
	State     string    `json:"state"`
	Losses    int       `json:"losses"`
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// Breakers lists every known scope.
func (g *Guardrails) Breakers() []BreakerInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]BreakerInfo, 0, len(g.breakers))
	for scope := range g.breakers {
		b := g.get(scope)
		out = append(out, BreakerInfo{Scope: scope, State: b.state.String(), Losses: b.losses, OpenUntil: b.openUntil})
	}
	return out
}

func admits(b *breaker, openReason string) (bool, string) {
	switch b.state {
	case StateOpen:
		return false, openReason
	case StateHalfOpen:
		if b.trialInFlight {
			return false, ReasonBreakerHalfOpen
		}
	}
	return true, ""
}

// get returns the breaker for scope after applying cooldown expiry. Caller holds mu.
func (g *Guardrails) get(scope string) *breaker {
	b, ok := g.breakers[scope]
	if !ok {
		b = &breaker{}
		g.breakers[scope] = b
	}
	if b.state == StateOpen && !g.now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.trialInFlight = false
		b.trialID = ""
	}
	return b
}
