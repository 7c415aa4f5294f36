package models

// ProviderVote is the opinion of one strategy provider for one tick.
// Vote is -1 (put), 0 (neutral) or +1 (call); Score is the raw strength.
type ProviderVote struct {
	ProviderID int            `json:"provider_id"`
	Vote       int            `json:"vote"`
	Score      float64        `json:"score"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// VoteContribution explains how a single vote moved the ensemble score.
type VoteContribution struct {
	ProviderID   int     `json:"provider_id"`
	Vote         int     `json:"vote"`
	Score        float64 `json:"score"`
	Z            float64 `json:"z"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// EnsembleResult is the fused decision for one tick.
type EnsembleResult struct {
	S          float64            `json:"s"`
	Confidence float64            `json:"confidence"`
	PHat       float64            `json:"p_hat"`
	Direction  int                `json:"direction"`
	Breakdown  []VoteContribution `json:"breakdown,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}
