package models

// Requests for the ops HTTP endpoints.

type WorkerRequest struct {
	Account   string `json:"account" validate:"required"`
	Product   string `json:"product" validate:"required"`
	Timeframe int    `json:"timeframe" default:"1" validate:"oneof=1 5 15"`
}

type KillSwitchRequest struct {
	Enabled *bool  `json:"enabled" validate:"required"`
	Reason  string `json:"reason"`
}

type ResetDailyRequest struct {
	Account string `json:"account"`
}

type StatsRequest struct {
	Account   string `query:"account" json:"account" validate:"required"`
	Product   string `query:"product" json:"product" validate:"required"`
	Timeframe int    `query:"tf" json:"tf" default:"1" validate:"oneof=1 5 15"`
	LastN     int    `query:"n" json:"n" default:"50" validate:"gte=1,lte=1000"`
}

// CalibrateRequest carries raw ensemble scores and their outcomes (1 win, 0 otherwise).
type CalibrateRequest struct {
	Scores   []float64 `json:"scores" validate:"required"`
	Outcomes []float64 `json:"outcomes" validate:"required,dive,gte=0,lte=1"`
}

// BacktestRequest replays the decision pipeline over historical candles, oldest
// first. Without candles, Bars candles are fetched from the account's venue; a
// zero PayoutPct uses the venue's current payout.
type BacktestRequest struct {
	Account   string   `json:"account" validate:"required"`
	Product   string   `json:"product" validate:"required"`
	Timeframe int      `json:"timeframe" default:"1" validate:"oneof=1 5 15"`
	Candles   []Candle `json:"candles,omitempty"`
	Bars      int      `json:"bars" validate:"gte=0"`
	PayoutPct float64  `json:"payout_pct" validate:"gte=0,lte=100"`
}
