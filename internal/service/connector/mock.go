package connector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
)

// FailurePlan scripts mock failures for tests.
type FailurePlan struct {
	// PlaceErrors are returned by successive PlaceOrder calls; a nil entry lets that call succeed.
	PlaceErrors []error
	// PendingPolls is how many ConfirmOrder calls report a non-terminal status first.
	PendingPolls int
	// NeverSettle keeps every order pending.
	NeverSettle bool
	// Outcome forces the settled status when set.
	Outcome models.ResultStatus
	// CandleErr is returned by GetCandles when set.
	CandleErr error
}

type mockOrder struct {
	ack    models.OrderAck
	req    models.PlaceOrderRequest
	payout float64
	polls  int
	conf   *models.Confirmation
}

// Mock is a deterministic in-process venue used for paper trading and tests.
type Mock struct {
	mu         sync.Mutex
	seed       int64
	rng        *rand.Rand
	winProb    float64
	payout     float64
	plan       FailurePlan
	now        func() time.Time
	orders     map[string]*mockOrder
	byClient   map[string]string
	placeCalls int
	loggedIn   bool
}

type MockOption func(*Mock)

func WithSeed(seed int64) MockOption {
	return func(m *Mock) {
		m.seed = seed
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithWinProbability sets the chance that an order settles as a win.
func WithWinProbability(p float64) MockOption {
	return func(m *Mock) {
		m.winProb = p
	}
}

// WithFixedPayout pins GetCurrentWinRate to pct.
func WithFixedPayout(pct float64) MockOption {
	return func(m *Mock) {
		m.payout = pct
	}
}

func WithFailurePlan(plan FailurePlan) MockOption {
	return func(m *Mock) {
		m.plan = plan
	}
}

func WithMockClock(now func() time.Time) MockOption {
	return func(m *Mock) {
		m.now = now
	}
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		seed:     42,
		rng:      rand.New(rand.NewSource(42)),
		winProb:  0.52,
		now:      time.Now,
		orders:   make(map[string]*mockOrder),
		byClient: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) Login(context.Context) error {
	m.mu.Lock()
	m.loggedIn = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) Heartbeat(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return repository.Transient(fmt.Errorf("mock: not logged in"))
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.loggedIn = false
	m.mu.Unlock()
	return nil
}

// GetCandles returns n bars ending at the current slot. The walk is a pure function of
// (seed, product, tf, last slot), so repeated calls within a slot agree.
func (m *Mock) GetCandles(_ context.Context, product string, tf, n int) ([]models.Candle, error) {
	m.mu.Lock()
	candleErr := m.plan.CandleErr
	seed := m.seed
	m.mu.Unlock()

	if candleErr != nil {
		return nil, candleErr
	}
	if n <= 0 {
		return nil, nil
	}
	if !repository.IsValidTimeframe(tf) {
		return nil, repository.Permanent(fmt.Errorf("mock: unsupported timeframe %d", tf))
	}

	step := repository.TimeframeMs(tf)
	last := repository.SlotStart(m.now().UnixMilli(), tf)

	h := fnv.New64a()
	_, _ = h.Write([]byte(product))
	rng := rand.New(rand.NewSource(seed ^ int64(h.Sum64()) ^ int64(tf)<<32 ^ last))

	out := make([]models.Candle, n)
	price := 1.1 + rng.Float64()*0.1
	for i := 0; i < n; i++ {
		open := price
		price *= 1 + rng.NormFloat64()*0.0005
		hi := max(open, price) * (1 + rng.Float64()*0.0002)
		lo := min(open, price) * (1 - rng.Float64()*0.0002)
		out[i] = models.Candle{
			TsMs:   last - int64(n-1-i)*step,
			Open:   open,
			High:   hi,
			Low:    lo,
			Close:  price,
			Volume: float64(100 + rng.Intn(900)),
		}
	}
	return out, nil
}

// GetCurrentWinRate returns a payout percentage in [88, 92].
func (m *Mock) GetCurrentWinRate(context.Context, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.payout > 0 {
		return m.payout, nil
	}
	return 90 + (m.rng.Float64()-0.5)*4, nil
}

// PlaceOrder is idempotent on ClientReqID.
func (m *Mock) PlaceOrder(_ context.Context, req models.PlaceOrderRequest) (models.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.placeCalls
	m.placeCalls++
	if call < len(m.plan.PlaceErrors) && m.plan.PlaceErrors[call] != nil {
		return models.OrderAck{}, m.plan.PlaceErrors[call]
	}
	if req.Amount <= 0 {
		return models.OrderAck{}, repository.Permanent(fmt.Errorf("mock: invalid amount %v", req.Amount))
	}

	if id, ok := m.byClient[req.ClientReqID]; ok {
		return m.orders[id].ack, nil
	}

	sum := sha1.Sum([]byte(req.ClientReqID))
	id := "mock-" + hex.EncodeToString(sum[:])[:12]
	payout := m.payout
	if payout <= 0 {
		payout = 90
	}
	o := &mockOrder{
		ack:    models.OrderAck{OrderID: id, ClientReqID: req.ClientReqID, TsOpenMs: m.now().UnixMilli()},
		req:    req,
		payout: payout,
	}
	m.orders[id] = o
	m.byClient[req.ClientReqID] = id
	return o.ack, nil
}

func (m *Mock) ConfirmOrder(_ context.Context, orderID string) (models.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return models.Confirmation{}, repository.Permanent(fmt.Errorf("mock order %s: %w", orderID, repository.ErrNotFound))
	}
	if o.conf != nil {
		return *o.conf, nil
	}

	o.polls++
	if m.plan.NeverSettle || o.polls <= m.plan.PendingPolls {
		return models.Confirmation{OrderID: orderID}, nil
	}

	status := m.plan.Outcome
	if status == "" {
		status = models.ResultLose
		if m.rng.Float64() < m.winProb {
			status = models.ResultWin
		}
	}
	closeMs := m.now().UnixMilli()
	c := models.Confirmation{
		OrderID:   orderID,
		Status:    status,
		PnL:       settlePnL(status, o.req.Amount, o.payout),
		TsCloseMs: closeMs,
		LatencyMs: closeMs - o.ack.TsOpenMs,
	}
	o.conf = &c
	return c, nil
}

func (m *Mock) CancelOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return repository.Permanent(fmt.Errorf("mock order %s: %w", orderID, repository.ErrNotFound))
	}
	if o.conf == nil {
		o.conf = &models.Confirmation{OrderID: orderID, Status: models.ResultCanceled, TsCloseMs: m.now().UnixMilli()}
	}
	return nil
}

// PlaceCalls returns how many times PlaceOrder was invoked.
func (m *Mock) PlaceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeCalls
}

// SetFailurePlan replaces the plan and resets the call counter.
func (m *Mock) SetFailurePlan(plan FailurePlan) {
	m.mu.Lock()
	m.plan = plan
	m.placeCalls = 0
	m.mu.Unlock()
}

func settlePnL(status models.ResultStatus, amount, payoutPct float64) float64 {
	switch status {
	case models.ResultWin:
		return amount * payoutPct / 100
	case models.ResultLose:
		return -amount
	default:
		return 0
	}
}

var _ repository.Connector = (*Mock)(nil)
