package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/util"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore is the default order/result log. Idempotency comes from the UNIQUE
// client_req_id column and the results primary key, not from application locks.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens path in WAL mode and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, o models.Order) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, client_req_id, ts_open_ms, account, product, timeframe, direction, amount, payout_pct, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_req_id) DO NOTHING`,
		o.ID, o.ClientReqID, o.TsOpenMs, o.Account, o.Product, o.Timeframe, int(o.Direction), o.Amount, o.PayoutPct, string(o.Status),
	)
	if err != nil {
		return false, fmt.Errorf("save order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save order: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, r models.Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (order_id, ts_close_ms, status, pnl, duration_ms, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			ts_close_ms = excluded.ts_close_ms,
			status      = excluded.status,
			pnl         = excluded.pnl,
			duration_ms = excluded.duration_ms,
			latency_ms  = excluded.latency_ms`,
		r.OrderID, r.TsCloseMs, string(r.Status), r.PnL, r.DurationMs, r.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// UpdateOrderStatus never moves an order out of a final status.
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND status NOT IN ('SETTLED', 'FAILED')`,
		string(status), orderID,
	)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_req_id, ts_open_ms, account, product, timeframe, direction, amount, payout_pct, status
		FROM orders WHERE id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, repository.ErrNotFound)
	}
	return o, err
}

func (s *SQLiteStore) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_req_id, ts_open_ms, account, product, timeframe, direction, amount, payout_pct, status
		FROM orders WHERE status IN ('PENDING', 'OPEN') ORDER BY ts_open_ms`)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RollingWinRate is the win share over the last lastN win/lose results. Empty product
// and zero tf match any.
func (s *SQLiteStore) RollingWinRate(ctx context.Context, account, product string, tf, lastN int) (float64, error) {
	var rate sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(CASE WHEN status = 'win' THEN 1.0 ELSE 0.0 END) FROM (
			SELECT r.status FROM results r JOIN orders o ON o.id = r.order_id
			WHERE o.account = ? AND (? = '' OR o.product = ?) AND (? = 0 OR o.timeframe = ?)
			  AND r.status IN ('win', 'lose')
			ORDER BY r.ts_close_ms DESC LIMIT ?
		)`, account, product, product, tf, tf, lastN).Scan(&rate)
	if err != nil {
		return 0, fmt.Errorf("rolling winrate: %w", err)
	}
	return rate.Float64, nil
}

// ConsecutiveLosses counts 'lose' results from the most recent backwards until the first other status.
func (s *SQLiteStore) ConsecutiveLosses(ctx context.Context, account, product string, tf, lastN int) (int, error) {
	statuses, err := s.RecentResults(ctx, account, product, tf, lastN)
	if err != nil {
		return 0, fmt.Errorf("consecutive losses: %w", err)
	}
	return countLeadingLosses(statuses), nil
}

func (s *SQLiteStore) RecentResults(ctx context.Context, account, product string, tf, lastN int) ([]models.ResultStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.status FROM results r JOIN orders o ON o.id = r.order_id
		WHERE o.account = ? AND (? = '' OR o.product = ?) AND (? = 0 OR o.timeframe = ?)
		ORDER BY r.ts_close_ms DESC LIMIT ?`, account, product, product, tf, tf, lastN)
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	defer rows.Close()

	var statuses []models.ResultStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("recent results: %w", err)
		}
		statuses = append(statuses, models.ResultStatus(st))
	}
	return statuses, rows.Err()
}

// DailyPnL sums realized pnl closed since 00:00 UTC today.
func (s *SQLiteStore) DailyPnL(ctx context.Context, account string) (float64, error) {
	since := util.StartOfUTCDay(s.now()).UnixMilli()
	var pnl float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(r.pnl), 0) FROM results r JOIN orders o ON o.id = r.order_id
		WHERE o.account = ? AND r.ts_close_ms >= ?`, account, since).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (models.Order, error) {
	var o models.Order
	var dir int
	var status string
	if err := r.Scan(&o.ID, &o.ClientReqID, &o.TsOpenMs, &o.Account, &o.Product, &o.Timeframe, &dir, &o.Amount, &o.PayoutPct, &status); err != nil {
		return models.Order{}, err
	}
	o.Direction = models.Direction(dir)
	o.Status = models.OrderStatus(status)
	return o, nil
}

func countLeadingLosses(statuses []models.ResultStatus) int {
	n := 0
	for _, st := range statuses {
		if st != models.ResultLose {
			break
		}
		n++
	}
	return n
}

var _ repository.Store = (*SQLiteStore)(nil)
