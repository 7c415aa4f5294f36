package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"FixedTime/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExec struct {
	mu      sync.Mutex
	queries []string
	args    [][]any
	fail    error
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	return nil, nil
}

func decision(account string, ts int64) models.DecisionEvent {
	return models.DecisionEvent{Kind: models.EventDecision, TsMs: ts, Account: account, Product: "EURUSD", Timeframe: 1, Status: "skipped", Reason: "threshold"}
}

func TestClickHouseJournalFlushesAtBatchSize(t *testing.T) {
	db := &fakeExec{}
	j := NewClickHouseJournal(db, "events", 3)
	ctx := context.Background()

	require.NoError(t, j.Publish(ctx, decision("a", 1)))
	require.NoError(t, j.Publish(ctx, decision("a", 2)))
	assert.Empty(t, db.queries)
	assert.Equal(t, 2, j.Pending())

	require.NoError(t, j.Publish(ctx, decision("b", 3)))
	require.Len(t, db.queries, 1)
	assert.True(t, strings.HasPrefix(db.queries[0], "INSERT INTO events ("))
	assert.Equal(t, 3, strings.Count(db.queries[0], "(?, "))
	assert.Len(t, db.args[0], 3*journalColumns)
	assert.Equal(t, time.UnixMilli(1).UTC(), db.args[0][0])
	assert.Equal(t, 0, j.Pending())
}

func TestClickHouseJournalKeepsEventsOnFailure(t *testing.T) {
	db := &fakeExec{fail: errors.New("connection refused")}
	j := NewClickHouseJournal(db, "", 10)
	ctx := context.Background()

	require.NoError(t, j.Publish(ctx, decision("a", 1)))
	assert.Error(t, j.Flush(ctx))
	assert.Equal(t, 1, j.Pending())

	db.fail = nil
	require.NoError(t, j.Close())
	assert.Equal(t, 0, j.Pending())
	assert.Contains(t, db.queries[0], "decision_events")
}

func TestJournalSchemaUsesMergeTree(t *testing.T) {
	stmts := JournalSchema("decision_events")
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "ENGINE = MergeTree")
	assert.Contains(t, stmts[0], "IF NOT EXISTS decision_events")
}

type fakeProducer struct {
	topic string
	key   string
	value interface{}
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic, f.key, f.value = topic, string(key), value
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func TestKafkaEventPublisherKeysByAccount(t *testing.T) {
	prod := &fakeProducer{}
	p := NewKafkaEventPublisher(prod, "fixedtime.events")
	ev := decision("acc-7", 10)
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, "fixedtime.events", prod.topic)
	assert.Equal(t, "acc-7", prod.key)
	assert.Equal(t, ev, prod.value)

	alerts := NewKafkaAlertPublisher(prod, "fixedtime.alerts")
	require.NoError(t, alerts.PublishMessage(context.Background(), "log_errors", []string{"x"}))
	assert.Equal(t, "log_errors", prod.key)
}
