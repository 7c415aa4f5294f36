package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/service/connector"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timedOutOrder(t *testing.T, f *execFixture) string {
	t.Helper()
	res := f.exec.Execute(context.Background(), approvedTrade())
	require.Equal(t, ReasonConfirmTimeout, res.Reason)
	return res.Details["order_id"].(string)
}

func TestReconcileOpenOrdersSettlesTerminalOrders(t *testing.T) {
	f := newExecFixture(t, connector.FailurePlan{NeverSettle: true})
	orderID := timedOutOrder(t, f)
	events := &recordingSink{}
	r := NewReconciler(f.store, staticSource{conn: f.mock}, f.risk, metrics.Nop{}, logger.Nop(), false, events)
	ctx := context.Background()

	sum, err := r.ReconcileOpenOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Checked: 1, Open: 1}, sum)

	f.mock.SetFailurePlan(connector.FailurePlan{Outcome: models.ResultWin})
	sum, err = r.ReconcileOpenOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Checked: 1, Settled: 1}, sum)

	order, err := f.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSettled, order.Status)
	assert.InDelta(t, 0.9, f.risk.DailyPnL("acc-1"), 1e-9)
	require.Len(t, events.events, 1)
	assert.Equal(t, "reconciled", events.events[0].Reason)

	sum, err = r.ReconcileOpenOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Checked)
}

func TestReconcileJobRetriesWhileOpen(t *testing.T) {
	f := newExecFixture(t, connector.FailurePlan{NeverSettle: true})
	orderID := timedOutOrder(t, f)
	job := NewReconcileJob(NewReconciler(f.store, staticSource{conn: f.mock}, f.risk, metrics.Nop{}, logger.Nop(), false, nil))
	ctx := context.Background()

	payload, err := json.Marshal(f.jobs.msgs[0])
	require.NoError(t, err)

	err = job.Handle(ctx, json.RawMessage(payload))
	assert.ErrorIs(t, err, ErrStillOpen)

	f.mock.SetFailurePlan(connector.FailurePlan{Outcome: models.ResultPush})
	require.NoError(t, job.Handle(ctx, json.RawMessage(payload)))
	require.NoError(t, job.Handle(ctx, json.RawMessage(payload)), "settled orders are a no-op")

	order, err := f.store.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSettled, order.Status)
	assert.Equal(t, 1, f.risk.LossStreak("acc-1"), "push counts as a loss unless configured otherwise")
	assert.Equal(t, JobReconcileOrder, job.Type())
}

func TestReconcileJobRejectsEmptyPayload(t *testing.T) {
	job := NewReconcileJob(&Reconciler{})
	assert.Error(t, job.Handle(context.Background(), json.RawMessage(`{}`)))
}
