package usecase

import (
	"context"
	"fmt"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/cache"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/util"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Failure reasons reported by the executor. Skips carry the risk engine's reason.
const (
	ReasonSendRejected     = "send_rejected"
	ReasonSendFailed       = "send_failed"
	ReasonConfirmTimeout   = "confirm_timeout"
	ReasonConfirmFailed    = "confirm_failed"
	ReasonConfirmAbandoned = "confirm_abandoned"
	ReasonConnector        = "connector_unavailable"
	ReasonStoreError       = "store_error"
	ReasonInternalError    = "internal_error"
)

type ExecutorConfig struct {
	MaxSendAttempts     int
	SendBaseDelay       time.Duration
	SendMaxDelay        time.Duration
	JitterPercent       uint64
	ConfirmInterval     time.Duration
	ConfirmSlowInterval time.Duration
	ConfirmSlowAfter    int
	ConfirmTimeout      time.Duration
	PushCountsAsWin     bool
	LockTTL             time.Duration
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxSendAttempts:     3,
		SendBaseDelay:       500 * time.Millisecond,
		SendMaxDelay:        8 * time.Second,
		JitterPercent:       15,
		ConfirmInterval:     time.Second,
		ConfirmSlowInterval: 2 * time.Second,
		ConfirmSlowAfter:    10,
		ConfirmTimeout:      120 * time.Second,
		LockTTL:             5 * time.Minute,
	}
}

// Executor runs one trade through PREPARE, SEND, CONFIRM and SETTLED. It never
// returns an error: every outcome is an ExecResult with a reason.
type Executor struct {
	cfg        ExecutorConfig
	risk       RiskGate
	connectors ConnectorSource
	store      repository.Store
	locker     repository.Locker
	jobs       repository.JobQueue
	events     EventSink
	metrics    repository.Metrics
	log        *logger.Logger
	now        func() time.Time
	newID      func() string
	settler    settler
}

type ExecutorOption func(*Executor)

// WithReconcileQueue enqueues a reconcile_order job when CONFIRM gives up.
func WithReconcileQueue(q repository.JobQueue) ExecutorOption {
	return func(x *Executor) { x.jobs = q }
}

func WithEventSink(s EventSink) ExecutorOption {
	return func(x *Executor) {
		if s != nil {
			x.events = s
		}
	}
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) { x.now = now }
}

// WithIDGenerator replaces the random source of the clientReqId suffix.
func WithIDGenerator(f func() string) ExecutorOption {
	return func(x *Executor) { x.newID = f }
}

func NewExecutor(
	cfg ExecutorConfig,
	risk RiskGate,
	connectors ConnectorSource,
	store repository.Store,
	locker repository.Locker,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...ExecutorOption,
) *Executor {
	def := DefaultExecutorConfig()
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = def.MaxSendAttempts
	}
	if cfg.SendBaseDelay <= 0 {
		cfg.SendBaseDelay = def.SendBaseDelay
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = def.ConfirmInterval
	}
	if cfg.ConfirmSlowInterval <= 0 {
		cfg.ConfirmSlowInterval = cfg.ConfirmInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}

	x := &Executor{
		cfg:        cfg,
		risk:       risk,
		connectors: connectors,
		store:      store,
		locker:     locker,
		events:     nopSink{},
		metrics:    metrics,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.settler = settler{store: store, risk: risk, metrics: metrics, pushCountsAsWin: cfg.PushCountsAsWin, now: x.now}
	return x
}

// ClientReqID derives the idempotency key for a trade in slotMs.
func ClientReqID(tc models.TradeContext, slotMs int64, suffix string) string {
	return fmt.Sprintf("%s:%s:%d:%d:%s", tc.Account, tc.Product, tc.Timeframe, slotMs, util.ShortID(suffix, 8))
}

func (x *Executor) Execute(ctx context.Context, tc models.TradeContext) (res models.ExecResult) {
	start := x.now()
	var admitted, booked bool
	var order models.Order

	defer func() {
		if r := recover(); r != nil {
			x.log.Error("executor panic recovered",
				logger.String("account", tc.Account),
				logger.String("product", tc.Product),
				logger.Any("panic", r))
			res = failed(ReasonInternalError, map[string]any{"error": fmt.Sprint(r)})
		}
		if admitted && !booked {
			x.risk.ReleaseTrial(tc)
		}
		x.report(ctx, tc, order, res, start)
	}()

	// PREPARE
	slot := repository.SlotStart(start.UnixMilli(), tc.Timeframe)
	tc.TradeID = ClientReqID(tc, slot, x.newID())
	key := cache.LockKey(tc.Account, tc.Product, tc.Timeframe)
	acquired, err := x.locker.TryLock(ctx, key, x.cfg.LockTTL)
	if err != nil {
		x.log.Warn("lock failed", logger.String("key", key), logger.Error(err))
		x.metrics.RecordError("lock")
	}
	tc.ConcurrencyBlocked = !acquired
	ok, reason := x.risk.EnterAllowed(tc)
	if !ok {
		if acquired {
			x.unlock(ctx, key)
		}
		return skipped(reason)
	}
	admitted = true
	defer x.unlock(ctx, key)

	amount := x.risk.ComputeAmount(tc)
	conn, err := x.connectors.Get(ctx, tc.Account)
	if err != nil {
		return failed(ReasonConnector, map[string]any{"error": err.Error()})
	}

	// SEND
	req := models.PlaceOrderRequest{
		Product:     tc.Product,
		Amount:      amount,
		Direction:   tc.Direction,
		Timeframe:   tc.Timeframe,
		ClientReqID: tc.TradeID,
	}
	sendStart := x.now()
	ack, attempts, err := x.send(ctx, conn, req)
	latencyMs := x.now().Sub(sendStart).Milliseconds()
	x.metrics.RecordLatency("send", float64(latencyMs)/1000)
	if err != nil {
		reason := ReasonSendFailed
		if !repository.IsTransient(err) {
			reason = ReasonSendRejected
		}
		return failed(reason, map[string]any{
			"error":         err.Error(),
			"attempts":      attempts,
			"client_req_id": req.ClientReqID,
		})
	}

	openMs := ack.TsOpenMs
	if openMs == 0 {
		openMs = sendStart.UnixMilli()
	}
	order = models.Order{
		ID:          ack.OrderID,
		ClientReqID: req.ClientReqID,
		TsOpenMs:    openMs,
		Account:     tc.Account,
		Product:     tc.Product,
		Timeframe:   tc.Timeframe,
		Direction:   tc.Direction,
		Amount:      amount,
		PayoutPct:   tc.PayoutPct,
		Status:      models.OrderOpen,
	}
	persistCtx := context.WithoutCancel(ctx)
	inserted, err := x.store.SaveOrder(persistCtx, order)
	if err != nil {
		return failed(ReasonStoreError, map[string]any{"error": err.Error(), "order_id": order.ID})
	}
	if !inserted {
		x.log.Info("duplicate order ignored", logger.String("client_req_id", order.ClientReqID))
	}

	// CONFIRM
	conf, reason, err := x.confirm(ctx, conn, order.ID)
	if reason != "" {
		details := map[string]any{"order_id": order.ID, "client_req_id": order.ClientReqID}
		if err != nil {
			details["error"] = err.Error()
		}
		if reason == ReasonConfirmTimeout || reason == ReasonConfirmAbandoned {
			x.enqueueReconcile(persistCtx, order)
		}
		return failed(reason, details)
	}

	// SETTLED
	result, b, err := x.settler.settle(persistCtx, order, conf, latencyMs)
	booked = b
	if err != nil {
		return failed(ReasonStoreError, map[string]any{"error": err.Error(), "order_id": order.ID})
	}
	return models.ExecResult{
		Status: models.ExecSettled,
		Reason: string(result.Status),
		Details: map[string]any{
			"order_id":      order.ID,
			"client_req_id": order.ClientReqID,
			"pnl":           result.PnL,
			"amount":        amount,
			"latency_ms":    latencyMs,
			"duration_ms":   result.DurationMs,
			"attempts":      attempts,
		},
	}
}

// send places req, retrying transient failures with exponential backoff and jitter.
func (x *Executor) send(ctx context.Context, conn repository.Connector, req models.PlaceOrderRequest) (models.OrderAck, int, error) {
	var b retry.Backoff = retry.NewExponential(x.cfg.SendBaseDelay)
	if x.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(x.cfg.JitterPercent, b)
	}
	if x.cfg.SendMaxDelay > 0 {
		b = retry.WithCappedDuration(x.cfg.SendMaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(x.cfg.MaxSendAttempts-1), b)

	var ack models.OrderAck
	attempts := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		a, err := conn.PlaceOrder(ctx, req)
		if err == nil {
			ack = a
			return nil
		}
		if repository.IsTransient(err) {
			x.metrics.RecordError("send_transient")
			x.log.Warn("send attempt failed",
				logger.String("client_req_id", req.ClientReqID),
				logger.Int("attempt", attempts),
				logger.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	return ack, attempts, err
}

// confirm polls until a terminal status. A non-empty reason means no result.
// Every poll runs under the confirm deadline, so a hung venue call cannot outlast it.
func (x *Executor) confirm(ctx context.Context, conn repository.Connector, orderID string) (models.Confirmation, string, error) {
	pollCtx, cancel := context.WithTimeout(ctx, x.cfg.ConfirmTimeout)
	defer cancel()

	var lastErr error
	for polls := 1; ; polls++ {
		conf, err := conn.ConfirmOrder(pollCtx, orderID)
		switch {
		case err == nil && conf.Status.IsTerminal():
			return conf, "", nil
		case pollCtx.Err() != nil:
			return confirmStopped(ctx, lastErr)
		case err != nil && !repository.IsTransient(err):
			return conf, ReasonConfirmFailed, err
		case err != nil:
			lastErr = err
			x.metrics.RecordError("confirm_transient")
		}

		wait := x.cfg.ConfirmInterval
		if x.cfg.ConfirmSlowAfter > 0 && polls >= x.cfg.ConfirmSlowAfter {
			wait = x.cfg.ConfirmSlowInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-pollCtx.Done():
			t.Stop()
			return confirmStopped(ctx, lastErr)
		case <-t.C:
		}
	}
}

// confirmStopped tells a cancelled caller apart from an expired confirm deadline.
func confirmStopped(ctx context.Context, lastErr error) (models.Confirmation, string, error) {
	if err := ctx.Err(); err != nil {
		return models.Confirmation{}, ReasonConfirmAbandoned, err
	}
	return models.Confirmation{}, ReasonConfirmTimeout, lastErr
}

func (x *Executor) enqueueReconcile(ctx context.Context, o models.Order) {
	if x.jobs == nil {
		return
	}
	payload := ReconcilePayload{OrderID: o.ID, Account: o.Account, ClientReqID: o.ClientReqID}
	if err := x.jobs.PublishMessage(ctx, JobReconcileOrder, payload); err != nil {
		x.log.Warn("enqueue reconcile failed", logger.String("order_id", o.ID), logger.Error(err))
	}
}

func (x *Executor) unlock(ctx context.Context, key string) {
	if err := x.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
		x.log.Warn("unlock failed", logger.String("key", key), logger.Error(err))
	}
}

func (x *Executor) report(ctx context.Context, tc models.TradeContext, o models.Order, res models.ExecResult, start time.Time) {
	x.metrics.RecordDecision(string(res.Status), res.Reason)
	x.metrics.RecordLatency("execute", x.now().Sub(start).Seconds())

	fields := []logger.Field{
		logger.String("account", tc.Account),
		logger.String("product", tc.Product),
		logger.Int("tf", tc.Timeframe),
		logger.String("direction", tc.Direction.String()),
		logger.String("status", string(res.Status)),
		logger.String("reason", res.Reason),
	}
	if o.ID != "" {
		fields = append(fields, logger.String("order_id", o.ID))
	}
	switch res.Status {
	case models.ExecFailed:
		x.log.Warn("trade failed", fields...)
	case models.ExecSkipped:
		x.log.Debug("trade skipped", fields...)
	default:
		x.log.Info("trade settled", fields...)
	}

	ev := models.DecisionEvent{
		Kind:        models.EventOrder,
		TsMs:        x.now().UnixMilli(),
		Account:     tc.Account,
		Product:     tc.Product,
		Timeframe:   tc.Timeframe,
		Direction:   tc.Direction.String(),
		Status:      string(res.Status),
		Reason:      res.Reason,
		Confidence:  tc.Confidence,
		ProbWin:     tc.ProbWin,
		PayoutPct:   tc.PayoutPct,
		Amount:      o.Amount,
		ClientReqID: o.ClientReqID,
		OrderID:     o.ID,
	}
	if res.Status == models.ExecSettled {
		ev.Kind = models.EventResult
		ev.Outcome = res.Reason
		if pnl, ok := res.Details["pnl"].(float64); ok {
			ev.PnL = pnl
		}
	}
	if err := x.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		x.metrics.RecordError("event_publish")
	}
}

func skipped(reason string) models.ExecResult {
	return models.ExecResult{Status: models.ExecSkipped, Reason: reason}
}

func failed(reason string, details map[string]any) models.ExecResult {
	return models.ExecResult{Status: models.ExecFailed, Reason: reason, Details: details}
}
