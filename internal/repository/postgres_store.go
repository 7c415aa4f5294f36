package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
	"FixedTime/pkg/util"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type orderRow struct {
	ID          string  `gorm:"primaryKey;type:text"`
	ClientReqID string  `gorm:"type:text;uniqueIndex;not null"`
	TsOpenMs    int64   `gorm:"not null"`
	Account     string  `gorm:"type:text;not null;index:idx_orders_key,priority:1"`
	Product     string  `gorm:"type:text;not null;index:idx_orders_key,priority:2"`
	Timeframe   int     `gorm:"not null;index:idx_orders_key,priority:3"`
	Direction   int     `gorm:"not null"`
	Amount      float64 `gorm:"not null"`
	PayoutPct   float64 `gorm:"not null"`
	Status      string  `gorm:"type:text;not null;index"`
}

func (orderRow) TableName() string { return "orders" }

type resultRow struct {
	OrderID    string  `gorm:"primaryKey;type:text"`
	TsCloseMs  int64   `gorm:"not null;index"`
	Status     string  `gorm:"type:text;not null"`
	PnL        float64 `gorm:"column:pnl;not null"`
	DurationMs int64   `gorm:"not null;default:0"`
	LatencyMs  int64   `gorm:"not null;default:0"`
}

func (resultRow) TableName() string { return "results" }

// PostgresConfig is the connection setting for PostgresStore.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.Database, ssl)
}

// PostgresStore implements repository.Store on gorm.
type PostgresStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPostgresStore connects and auto-migrates the orders and results tables.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.AutoMigrate(&orderRow{}, &resultRow{}); err != nil {
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o models.Order) (bool, error) {
	row := toOrderRow(o)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "client_req_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("save order: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, r models.Result) error {
	row := resultRow{
		OrderID:    r.OrderID,
		TsCloseMs:  r.TsCloseMs,
		Status:     string(r.Status),
		PnL:        r.PnL,
		DurationMs: r.DurationMs,
		LatencyMs:  r.LatencyMs,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ? AND status NOT IN ?", orderID, []string{string(models.OrderSettled), string(models.OrderFailed)}).
		Update("status", string(status))
	if res.Error != nil {
		return false, fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (models.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, repository.ErrNotFound)
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(models.OrderPending), string(models.OrderOpen)}).
		Order("ts_open_ms").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	out := make([]models.Order, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) recentStatuses(ctx context.Context, account, product string, tf, lastN int, onlyDecided bool) ([]string, error) {
	q := s.db.WithContext(ctx).Table("results r").
		Select("r.status").
		Joins("JOIN orders o ON o.id = r.order_id").
		Where("o.account = ?", account)
	if product != "" {
		q = q.Where("o.product = ?", product)
	}
	if tf != 0 {
		q = q.Where("o.timeframe = ?", tf)
	}
	if onlyDecided {
		q = q.Where("r.status IN ?", []string{string(models.ResultWin), string(models.ResultLose)})
	}
	var statuses []string
	err := q.Order("r.ts_close_ms DESC").Limit(lastN).Pluck("r.status", &statuses).Error
	return statuses, err
}

func (s *PostgresStore) RollingWinRate(ctx context.Context, account, product string, tf, lastN int) (float64, error) {
	statuses, err := s.recentStatuses(ctx, account, product, tf, lastN, true)
	if err != nil {
		return 0, fmt.Errorf("rolling winrate: %w", err)
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	wins := 0
	for _, st := range statuses {
		if st == string(models.ResultWin) {
			wins++
		}
	}
	return float64(wins) / float64(len(statuses)), nil
}

func (s *PostgresStore) ConsecutiveLosses(ctx context.Context, account, product string, tf, lastN int) (int, error) {
	statuses, err := s.RecentResults(ctx, account, product, tf, lastN)
	if err != nil {
		return 0, fmt.Errorf("consecutive losses: %w", err)
	}
	return countLeadingLosses(statuses), nil
}

func (s *PostgresStore) RecentResults(ctx context.Context, account, product string, tf, lastN int) ([]models.ResultStatus, error) {
	raw, err := s.recentStatuses(ctx, account, product, tf, lastN, false)
	if err != nil {
		return nil, fmt.Errorf("recent results: %w", err)
	}
	out := make([]models.ResultStatus, len(raw))
	for i, st := range raw {
		out[i] = models.ResultStatus(st)
	}
	return out, nil
}

func (s *PostgresStore) DailyPnL(ctx context.Context, account string) (float64, error) {
	since := util.StartOfUTCDay(s.now()).UnixMilli()
	var pnl float64
	err := s.db.WithContext(ctx).Table("results r").
		Select("COALESCE(SUM(r.pnl), 0)").
		Joins("JOIN orders o ON o.id = r.order_id").
		Where("o.account = ? AND r.ts_close_ms >= ?", account, since).
		Scan(&pnl).Error
	if err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toOrderRow(o models.Order) orderRow {
	return orderRow{
		ID:          o.ID,
		ClientReqID: o.ClientReqID,
		TsOpenMs:    o.TsOpenMs,
		Account:     o.Account,
		Product:     o.Product,
		Timeframe:   o.Timeframe,
		Direction:   int(o.Direction),
		Amount:      o.Amount,
		PayoutPct:   o.PayoutPct,
		Status:      string(o.Status),
	}
}

func (r orderRow) toModel() models.Order {
	return models.Order{
		ID:          r.ID,
		ClientReqID: r.ClientReqID,
		TsOpenMs:    r.TsOpenMs,
		Account:     r.Account,
		Product:     r.Product,
		Timeframe:   r.Timeframe,
		Direction:   models.Direction(r.Direction),
		Amount:      r.Amount,
		PayoutPct:   r.PayoutPct,
		Status:      models.OrderStatus(r.Status),
	}
}

var _ repository.Store = (*PostgresStore)(nil)
