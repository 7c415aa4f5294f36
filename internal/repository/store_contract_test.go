package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder(id string, tsMs int64) models.Order {
	return models.Order{
		ID:          id,
		ClientReqID: "acc-1:EURUSD:1:" + id,
		TsOpenMs:    tsMs,
		Account:     "acc-1",
		Product:     "EURUSD",
		Timeframe:   1,
		Direction:   models.DirectionCall,
		Amount:      2.5,
		PayoutPct:   91,
		Status:      models.OrderPending,
	}
}

// runStoreContract checks behaviour every Store implementation must share.
// now is the wall clock the store uses for DailyPnL.
func runStoreContract(t *testing.T, store repository.Store, now time.Time) {
	ctx := context.Background()
	base := now.UnixMilli()

	t.Run("duplicate client request id is a no-op", func(t *testing.T) {
		o := sampleOrder("dup-1", base)
		inserted, err := store.SaveOrder(ctx, o)
		require.NoError(t, err)
		assert.True(t, inserted)

		again := o
		again.ID = "dup-2"
		again.Amount = 9
		inserted, err = store.SaveOrder(ctx, again)
		require.NoError(t, err)
		assert.False(t, inserted)

		got, err := store.GetOrder(ctx, "dup-1")
		require.NoError(t, err)
		assert.Equal(t, 2.5, got.Amount)

		_, err = store.GetOrder(ctx, "dup-2")
		assert.True(t, errors.Is(err, repository.ErrNotFound))
	})

	t.Run("result upsert keeps one row", func(t *testing.T) {
		o := sampleOrder("res-1", base)
		_, err := store.SaveOrder(ctx, o)
		require.NoError(t, err)

		require.NoError(t, store.SaveResult(ctx, models.Result{OrderID: "res-1", TsCloseMs: base + 1000, Status: models.ResultLose, PnL: -2.5}))
		require.NoError(t, store.SaveResult(ctx, models.Result{OrderID: "res-1", TsCloseMs: base + 1000, Status: models.ResultWin, PnL: 2.275}))

		pnl, err := store.DailyPnL(ctx, "acc-1")
		require.NoError(t, err)
		assert.InDelta(t, 2.275, pnl, 1e-9)
	})

	t.Run("status never leaves a final state", func(t *testing.T) {
		o := sampleOrder("st-1", base)
		_, err := store.SaveOrder(ctx, o)
		require.NoError(t, err)

		changed, err := store.UpdateOrderStatus(ctx, "st-1", models.OrderOpen)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = store.UpdateOrderStatus(ctx, "st-1", models.OrderSettled)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.UpdateOrderStatus(ctx, "st-1", models.OrderSettled)
		require.NoError(t, err)
		assert.False(t, changed, "a second settle must lose")
		changed, err = store.UpdateOrderStatus(ctx, "st-1", models.OrderOpen)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := store.GetOrder(ctx, "st-1")
		require.NoError(t, err)
		assert.Equal(t, models.OrderSettled, got.Status)

		_, err = store.UpdateOrderStatus(ctx, "missing", models.OrderOpen)
		assert.True(t, errors.Is(err, repository.ErrNotFound))
	})

	t.Run("open orders", func(t *testing.T) {
		open, err := store.GetOpenOrders(ctx)
		require.NoError(t, err)
		ids := make(map[string]bool)
		for _, o := range open {
			ids[o.ID] = true
			assert.False(t, o.Status.IsFinal())
		}
		assert.True(t, ids["dup-1"])
		assert.True(t, ids["res-1"])
		assert.False(t, ids["st-1"])
	})
}

// runStatsContract seeds a separate account with a known outcome sequence.
func runStatsContract(t *testing.T, store repository.Store, now time.Time) {
	ctx := context.Background()
	base := now.UnixMilli()

	// oldest first: win, win, lose, push, lose, lose
	seq := []models.ResultStatus{
		models.ResultWin, models.ResultWin, models.ResultLose,
		models.ResultPush, models.ResultLose, models.ResultLose,
	}
	for i, st := range seq {
		id := fmt.Sprintf("stats-%d", i)
		o := sampleOrder(id, base+int64(i)*60_000)
		o.Account = "acc-stats"
		o.ClientReqID = "acc-stats:" + id
		_, err := store.SaveOrder(ctx, o)
		require.NoError(t, err)

		pnl := 0.0
		switch st {
		case models.ResultWin:
			pnl = 1
		case models.ResultLose:
			pnl = -1
		}
		require.NoError(t, store.SaveResult(ctx, models.Result{
			OrderID:   id,
			TsCloseMs: base + int64(i)*60_000 + 60_000,
			Status:    st,
			PnL:       pnl,
		}))
	}

	rate, err := store.RollingWinRate(ctx, "acc-stats", "EURUSD", 1, 50)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/5.0, rate, 1e-9)

	rate, err = store.RollingWinRate(ctx, "acc-stats", "", 0, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, rate, 1e-9)

	rate, err = store.RollingWinRate(ctx, "acc-stats", "GBPUSD", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	losses, err := store.ConsecutiveLosses(ctx, "acc-stats", "EURUSD", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, losses)

	losses, err = store.ConsecutiveLosses(ctx, "acc-stats", "", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, losses)

	recent, err := store.RecentResults(ctx, "acc-stats", "", 0, 50)
	require.NoError(t, err)
	require.Len(t, recent, 6)
	assert.Equal(t, []models.ResultStatus{models.ResultLose, models.ResultLose, models.ResultPush}, recent[:3])
	assert.Equal(t, 4, models.LossStreak(recent, false))
	assert.Equal(t, 2, models.LossStreak(recent, true))

	pnl, err := store.DailyPnL(ctx, "acc-stats")
	require.NoError(t, err)
	assert.InDelta(t, -1.0, pnl, 1e-9)
}
