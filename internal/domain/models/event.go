package models

// Event kinds published by the engine.
const (
	EventDecision = "decision"
	EventOrder    = "order"
	EventResult   = "result"
)

// DecisionEvent is the audit record emitted for every decision and trade outcome.
type DecisionEvent struct {
	Kind        string  `json:"kind"`
	TsMs        int64   `json:"ts_ms"`
	Account     string  `json:"account"`
	Product     string  `json:"product"`
	Timeframe   int     `json:"timeframe"`
	Direction   string  `json:"direction,omitempty"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	ProbWin     float64 `json:"prob_win,omitempty"`
	PayoutPct   float64 `json:"payout_pct,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	ClientReqID string  `json:"client_req_id,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
	Outcome     string  `json:"outcome,omitempty"`
	PnL         float64 `json:"pnl,omitempty"`
}
