package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcilePayload struct {
	OrderID string `json:"order_id"`
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload[reconcilePayload](json.RawMessage(`{"order_id":"o-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", p.OrderID)

	p, err = ParsePayload[reconcilePayload](map[string]interface{}{"order_id": "o-2"})
	require.NoError(t, err)
	assert.Equal(t, "o-2", p.OrderID)

	p, err = ParsePayload[reconcilePayload](reconcilePayload{OrderID: "o-3"})
	require.NoError(t, err)
	assert.Equal(t, "o-3", p.OrderID)

	_, err = ParsePayload[reconcilePayload](42)
	assert.Error(t, err)
}

func TestMemoryQueueDeliversAndRetries(t *testing.T) {
	q := NewMemoryQueue(nil, Config{Workers: 1, RetryLimit: 2, RetryDelay: 10 * time.Millisecond})
	var calls atomic.Int32
	got := make(chan string, 1)
	q.RegisterJob(JobFunc{MsgType: "reconcile_order", Fn: func(_ context.Context, payload interface{}) error {
		if calls.Add(1) < 3 {
			return errors.New("venue busy")
		}
		p, err := ParsePayload[reconcilePayload](payload)
		if err != nil {
			return err
		}
		got <- p.OrderID
		return nil
	}})

	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	require.NoError(t, q.PublishMessage(context.Background(), "reconcile_order", reconcilePayload{OrderID: "o-9"}))
	select {
	case id := <-got:
		assert.Equal(t, "o-9", id)
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Empty(t, q.DeadLetters())
}

func TestMemoryQueueDeadLetters(t *testing.T) {
	q := NewMemoryQueue(nil, Config{Workers: 1, RetryLimit: 1, RetryDelay: 5 * time.Millisecond})
	q.RegisterJob(JobFunc{MsgType: "always_fail", Fn: func(context.Context, interface{}) error {
		return errors.New("nope")
	}})
	require.NoError(t, q.Start(context.Background()))
	defer q.Stop(context.Background())

	require.NoError(t, q.PublishMessage(context.Background(), "always_fail", map[string]string{"k": "v"}))
	assert.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.DeadLetters()[0].Attempts)
}

func TestMemoryQueueRejectsUnknownType(t *testing.T) {
	q := NewMemoryQueue(nil, Config{})
	err := q.PublishMessage(context.Background(), "nope", nil)
	assert.Error(t, err)
}
