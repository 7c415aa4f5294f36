package models

// Direction of a fixed-time position.
type Direction int

const (
	DirectionNone Direction = 0
	DirectionCall Direction = 1
	DirectionPut  Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirectionCall:
		return "call"
	case DirectionPut:
		return "put"
	default:
		return "none"
	}
}

// DirectionFromSign maps an ensemble direction to a Direction.
func DirectionFromSign(sign int) Direction {
	switch {
	case sign > 0:
		return DirectionCall
	case sign < 0:
		return DirectionPut
	default:
		return DirectionNone
	}
}

// TradeContext carries everything risk and execution need for one approved tick.
// It is passed by value.
type TradeContext struct {
	// TradeID is the clientReqId of the order this context is for. A breaker
	// trial claimed by EnterAllowed belongs to it.
	TradeID            string    `json:"trade_id,omitempty"`
	Account            string    `json:"account"`
	Product            string    `json:"product"`
	Timeframe          int       `json:"timeframe"`
	Direction          Direction `json:"direction"`
	PayoutPct          float64   `json:"payout_pct"`
	Confidence         float64   `json:"confidence"`
	ProbWin            float64   `json:"prob_win"`
	Balance            float64   `json:"balance"`
	PermitMin          float64   `json:"permit_min"`
	PermitMax          float64   `json:"permit_max"`
	WinThreshold       float64   `json:"win_threshold"`
	ConcurrencyBlocked bool      `json:"concurrency_blocked,omitempty"`
}

// ExecStatus is the top-level outcome of an execution attempt.
type ExecStatus string

const (
	ExecSkipped ExecStatus = "skipped"
	ExecSettled ExecStatus = "settled"
	ExecFailed  ExecStatus = "failed"
)

// ExecResult is returned by the order executor instead of an error.
type ExecResult struct {
	Status  ExecStatus     `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
