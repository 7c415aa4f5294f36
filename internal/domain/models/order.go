package models

// OrderStatus is the lifecycle status of a persisted order.
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderOpen    OrderStatus = "OPEN"
	OrderSettled OrderStatus = "SETTLED"
	OrderFailed  OrderStatus = "FAILED"
)

// IsFinal reports whether no further status transition is allowed.
func (s OrderStatus) IsFinal() bool {
	return s == OrderSettled || s == OrderFailed
}

// ResultStatus is the venue outcome of an order.
type ResultStatus string

const (
	ResultWin      ResultStatus = "win"
	ResultLose     ResultStatus = "lose"
	ResultPush     ResultStatus = "push"
	ResultAbort    ResultStatus = "abort"
	ResultCanceled ResultStatus = "canceled"
)

// IsTerminal reports whether the status closes the order.
func (s ResultStatus) IsTerminal() bool {
	switch s {
	case ResultWin, ResultLose, ResultPush, ResultAbort, ResultCanceled:
		return true
	default:
		return false
	}
}

// CountsAsWin reports whether the outcome is booked as a win by risk. A push is a
// win only when pushCountsAsWin is set; abort and canceled never are.
func (s ResultStatus) CountsAsWin(pushCountsAsWin bool) bool {
	return s == ResultWin || (s == ResultPush && pushCountsAsWin)
}

// LossStreak counts outcomes from the newest backwards until the first one that
// CountsAsWin. statuses must be ordered newest first.
func LossStreak(statuses []ResultStatus, pushCountsAsWin bool) int {
	n := 0
	for _, st := range statuses {
		if st.CountsAsWin(pushCountsAsWin) {
			break
		}
		n++
	}
	return n
}

// Order is the append-only record of a placed trade, unique by ClientReqID.
type Order struct {
	ID          string      `json:"id"`
	ClientReqID string      `json:"client_req_id"`
	TsOpenMs    int64       `json:"ts_open_ms"`
	Account     string      `json:"account"`
	Product     string      `json:"product"`
	Timeframe   int         `json:"timeframe"`
	Direction   Direction   `json:"direction"`
	Amount      float64     `json:"amount"`
	PayoutPct   float64     `json:"payout_pct"`
	Status      OrderStatus `json:"status"`
}

// Result is the settled outcome of an order, unique by OrderID.
type Result struct {
	OrderID    string       `json:"order_id"`
	TsCloseMs  int64        `json:"ts_close_ms"`
	Status     ResultStatus `json:"status"`
	PnL        float64      `json:"pnl"`
	DurationMs int64        `json:"duration_ms"`
	LatencyMs  int64        `json:"latency_ms"`
}
