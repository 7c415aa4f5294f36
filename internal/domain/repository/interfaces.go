package repository

import (
	"context"
	"time"

	"FixedTime/internal/domain/models"
)

// Connector is the venue session used by workers and the executor.
// Implementations classify failures with ErrTransient or ErrPermanent.
type Connector interface {
	Login(ctx context.Context) error
	Heartbeat(ctx context.Context) error
	Close() error

	GetCandles(ctx context.Context, product string, tf int, n int) ([]models.Candle, error)
	// GetCurrentWinRate returns the payout percentage (0-100) for product.
	GetCurrentWinRate(ctx context.Context, product string) (float64, error)

	PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (models.OrderAck, error)
	ConfirmOrder(ctx context.Context, orderID string) (models.Confirmation, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Store is the idempotent order/result log.
type Store interface {
	// SaveOrder inserts o unless an order with the same ClientReqID exists.
	// inserted is false for the duplicate case, which is not an error.
	SaveOrder(ctx context.Context, o models.Order) (inserted bool, err error)
	// SaveResult upserts r keyed by OrderID.
	SaveResult(ctx context.Context, r models.Result) error
	// UpdateOrderStatus moves a non-final order to status. changed is false when the
	// order was already SETTLED or FAILED, so exactly one of several racing settles wins.
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (changed bool, err error)
	GetOrder(ctx context.Context, orderID string) (models.Order, error)
	GetOpenOrders(ctx context.Context) ([]models.Order, error)

	RollingWinRate(ctx context.Context, account, product string, tf, lastN int) (float64, error)
	ConsecutiveLosses(ctx context.Context, account, product string, tf, lastN int) (int, error)
	DailyPnL(ctx context.Context, account string) (float64, error)
	// RecentResults lists result statuses newest first.
	RecentResults(ctx context.Context, account, product string, tf, lastN int) ([]models.ResultStatus, error)

	Close() error
}

// EventPublisher delivers decision events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.DecisionEvent) error
	Close() error
}

// Locker provides non-blocking exclusive locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// JobQueue enqueues background jobs by type.
type JobQueue interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type Metrics interface {
	RecordDecision(status, reason string)
	RecordOrder(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordConfidence(v float64)
	SetActiveWorkers(n int)
	SetDailyPnL(account string, v float64)
}
