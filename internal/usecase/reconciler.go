package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/queue"
)

// JobReconcileOrder is the queue message type for a single-order reconciliation.
const JobReconcileOrder = "reconcile_order"

type ReconcilePayload struct {
	OrderID     string `json:"order_id"`
	Account     string `json:"account"`
	ClientReqID string `json:"client_req_id"`
}

// ErrStillOpen is returned when the venue has not settled the order yet. The
// queue retries the job on it.
var ErrStillOpen = errors.New("order still open")

// Reconciler settles orders left OPEN by a confirm timeout or a crash.
type Reconciler struct {
	store      repository.Store
	connectors ConnectorSource
	events     EventSink
	log        *logger.Logger
	settler    settler
}

func NewReconciler(store repository.Store, connectors ConnectorSource, risk RiskGate, metrics repository.Metrics, log *logger.Logger, pushCountsAsWin bool, events EventSink) *Reconciler {
	if events == nil {
		events = nopSink{}
	}
	return &Reconciler{
		store:      store,
		connectors: connectors,
		events:     events,
		log:        log,
		settler:    settler{store: store, risk: risk, metrics: metrics, pushCountsAsWin: pushCountsAsWin, now: time.Now},
	}
}

// ReconcileSummary counts the outcome of one reconciliation pass.
type ReconcileSummary struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Open    int `json:"open"`
	Errors  int `json:"errors"`
}

// ReconcileOpenOrders asks the venue about every PENDING or OPEN order and
// settles those with a terminal status.
func (r *Reconciler) ReconcileOpenOrders(ctx context.Context) (ReconcileSummary, error) {
	var sum ReconcileSummary
	orders, err := r.store.GetOpenOrders(ctx)
	if err != nil {
		return sum, fmt.Errorf("list open orders: %w", err)
	}
	for _, o := range orders {
		sum.Checked++
		err := r.reconcile(ctx, o)
		switch {
		case err == nil:
			sum.Settled++
		case errors.Is(err, ErrStillOpen):
			sum.Open++
		default:
			sum.Errors++
			r.log.Warn("reconcile failed", logger.String("order_id", o.ID), logger.Error(err))
		}
	}
	r.log.Info("reconciliation finished",
		logger.Int("checked", sum.Checked),
		logger.Int("settled", sum.Settled),
		logger.Int("open", sum.Open),
		logger.Int("errors", sum.Errors))
	return sum, nil
}

// ReconcileOrder settles one order by id.
func (r *Reconciler) ReconcileOrder(ctx context.Context, orderID string) error {
	o, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status.IsFinal() {
		return nil
	}
	return r.reconcile(ctx, o)
}

func (r *Reconciler) reconcile(ctx context.Context, o models.Order) error {
	conn, err := r.connectors.Get(ctx, o.Account)
	if err != nil {
		return err
	}
	conf, err := conn.ConfirmOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	if !conf.Status.IsTerminal() {
		return ErrStillOpen
	}
	res, booked, err := r.settler.settle(ctx, o, conf, 0)
	if err != nil {
		return err
	}
	if booked {
		_ = r.events.Publish(ctx, models.DecisionEvent{
			Kind:        models.EventResult,
			TsMs:        res.TsCloseMs,
			Account:     o.Account,
			Product:     o.Product,
			Timeframe:   o.Timeframe,
			Direction:   o.Direction.String(),
			Status:      string(models.ExecSettled),
			Reason:      "reconciled",
			Amount:      o.Amount,
			ClientReqID: o.ClientReqID,
			OrderID:     o.ID,
			Outcome:     string(res.Status),
			PnL:         res.PnL,
		})
	}
	return nil
}

// ReconcileJob runs ReconcileOrder from the job queue.
type ReconcileJob struct {
	r *Reconciler
}

func NewReconcileJob(r *Reconciler) *ReconcileJob { return &ReconcileJob{r: r} }

func (j *ReconcileJob) Name() string { return "reconcile-order" }
func (j *ReconcileJob) Type() string { return JobReconcileOrder }

func (j *ReconcileJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[ReconcilePayload](payload)
	if err != nil {
		return err
	}
	if p.OrderID == "" {
		return errors.New("reconcile: empty order id")
	}
	return j.r.ReconcileOrder(ctx, p.OrderID)
}

var _ queue.Job = (*ReconcileJob)(nil)
