package models

// PlaceOrderRequest is sent to the venue. ClientReqID is the idempotency key.
type PlaceOrderRequest struct {
	Product     string    `json:"product"`
	Amount      float64   `json:"amount"`
	Direction   Direction `json:"direction"`
	Timeframe   int       `json:"timeframe"`
	ClientReqID string    `json:"client_req_id"`
}

// OrderAck is the venue acknowledgement of a placed order.
type OrderAck struct {
	OrderID     string `json:"order_id"`
	ClientReqID string `json:"client_req_id"`
	TsOpenMs    int64  `json:"ts_open_ms"`
}

// Confirmation is the venue view of an order. Status is empty while the order is running.
type Confirmation struct {
	OrderID   string       `json:"order_id"`
	Status    ResultStatus `json:"status"`
	PnL       float64      `json:"pnl"`
	TsCloseMs int64        `json:"ts_close_ms"`
	LatencyMs int64        `json:"latency_ms"`
}
