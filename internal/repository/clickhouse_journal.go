package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const journalColumns = 14

// JournalSchema returns the idempotent DDL for the decision journal table.
func JournalSchema(table string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts             DateTime64(3, 'UTC'),
	kind           LowCardinality(String),
	account        LowCardinality(String),
	product        LowCardinality(String),
	timeframe      UInt8,
	direction      LowCardinality(String),
	status         LowCardinality(String),
	reason         LowCardinality(String),
	confidence     Float64,
	prob_win       Float64,
	amount         Float64,
	client_req_id  String,
	order_id       String,
	pnl            Float64
) ENGINE = MergeTree
PARTITION BY toYYYYMMDD(ts)
ORDER BY (account, product, timeframe, ts)`, table)}
}

// ClickHouseJournal buffers decision events and writes them in multi-row
// inserts. It is an EventPublisher sink.
type ClickHouseJournal struct {
	db        execer
	table     string
	batchSize int

	mu  sync.Mutex
	buf []models.DecisionEvent
}

func NewClickHouseJournal(db execer, table string, batchSize int) *ClickHouseJournal {
	if batchSize <= 0 {
		batchSize = 200
	}
	if table == "" {
		table = "decision_events"
	}
	return &ClickHouseJournal{db: db, table: table, batchSize: batchSize}
}

func (j *ClickHouseJournal) Publish(ctx context.Context, ev models.DecisionEvent) error {
	j.mu.Lock()
	j.buf = append(j.buf, ev)
	full := len(j.buf) >= j.batchSize
	j.mu.Unlock()
	if full {
		return j.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered event. Events are put back on failure.
func (j *ClickHouseJournal) Flush(ctx context.Context) error {
	j.mu.Lock()
	batch := j.buf
	j.buf = nil
	j.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := j.insert(ctx, batch); err != nil {
		j.mu.Lock()
		j.buf = append(batch, j.buf...)
		j.mu.Unlock()
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Run flushes on every tick until ctx is done.
func (j *ClickHouseJournal) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = j.Flush(ctx)
		}
	}
}

func (j *ClickHouseJournal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buf)
}

func (j *ClickHouseJournal) insert(ctx context.Context, batch []models.DecisionEvent) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (ts, kind, account, product, timeframe, direction, status, reason, confidence, prob_win, amount, client_req_id, order_id, pnl) VALUES ", j.table)
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", journalColumns), ", ") + ")"
	args := make([]any, 0, len(batch)*journalColumns)
	for i, ev := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row)
		args = append(args,
			time.UnixMilli(ev.TsMs).UTC(),
			ev.Kind, ev.Account, ev.Product, uint8(ev.Timeframe),
			ev.Direction, ev.Status, ev.Reason,
			ev.Confidence, ev.ProbWin, ev.Amount,
			ev.ClientReqID, ev.OrderID, ev.PnL,
		)
	}
	_, err := j.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (j *ClickHouseJournal) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return j.Flush(ctx)
}

var _ repository.EventPublisher = (*ClickHouseJournal)(nil)
