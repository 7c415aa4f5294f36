package ensemble

import (
	"math"
	"sort"
	"sync"

	"FixedTime/internal/domain/models"
)

const (
	zClamp     = 3.0
	logitClamp = 50.0
	minSigma   = 1e-6

	ReasonNoVotes = "no_votes"
)

// ProviderStats is the running normalization state and weight of one provider.
// Weight 0 means unset; Combine then falls back to an equal share.
type ProviderStats struct {
	Mu     float64 `json:"mu"`
	Sigma  float64 `json:"sigma"`
	Weight float64 `json:"weight"`
}

// Ensemble combines provider votes into a single calibrated signal.
// Combine only reads state; updates go through UpdateWeights, UpdateStats and SetCalibration.
type Ensemble struct {
	mu    sync.RWMutex
	stats map[int]ProviderStats
	sCap  float64
	a, b  float64
}

// Option configures an Ensemble.
type Option func(*Ensemble)

// WithSCap bounds each single contribution to ±cap.
func WithSCap(cap float64) Option {
	return func(e *Ensemble) {
		if cap > 0 {
			e.sCap = cap
		}
	}
}

// WithCalibration sets the Platt parameters used for PHat.
func WithCalibration(a, b float64) Option {
	return func(e *Ensemble) {
		e.a, e.b = a, b
	}
}

// New creates an Ensemble with SCap 2.0 and identity calibration (a=1, b=0).
func New(opts ...Option) *Ensemble {
	e := &Ensemble{
		stats: make(map[int]ProviderStats),
		sCap:  2.0,
		a:     1.0,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Combine merges votes into S = tanh(Σ w·vote·z). An empty list is a neutral result, not an error.
// Votes whose normalized score is not finite are left out.
func (e *Ensemble) Combine(votes []models.ProviderVote) models.EnsembleResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	type scored struct {
		v models.ProviderVote
		z float64
		w float64
	}
	valid := make([]scored, 0, len(votes))
	for _, v := range votes {
		st, ok := e.stats[v.ProviderID]
		if !ok {
			st = ProviderStats{Sigma: 1}
		}
		raw := (v.Score - st.Mu) / math.Max(minSigma, st.Sigma)
		if math.IsNaN(raw) || math.IsInf(v.Score, 0) {
			continue
		}
		valid = append(valid, scored{v: v, z: clamp(raw, -zClamp, zClamp), w: st.Weight})
	}
	if len(valid) == 0 {
		return models.EnsembleResult{PHat: 0.5, Reason: ReasonNoVotes}
	}

	defaultWeight := 1.0 / float64(len(valid))
	breakdown := make([]models.VoteContribution, 0, len(valid))
	sum := 0.0

	for _, sv := range valid {
		v, z := sv.v, sv.z
		w := sv.w
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			w = defaultWeight
		}

		c := clamp(w*float64(v.Vote)*z, -e.sCap, e.sCap)
		sum += c

		breakdown = append(breakdown, models.VoteContribution{
			ProviderID:   v.ProviderID,
			Vote:         v.Vote,
			Score:        v.Score,
			Z:            z,
			Weight:       w,
			Contribution: c,
		})
	}

	s := math.Tanh(sum)
	return models.EnsembleResult{
		S:          s,
		Confidence: math.Abs(s),
		PHat:       platt(e.a, e.b, s),
		Direction:  sign(s),
		Breakdown:  breakdown,
	}
}

// UpdateWeights blends softmax(performance), clipped to wMax, into the current weights
// with EMA rate alpha and renormalizes all weights to sum to 1.
func (e *Ensemble) UpdateWeights(performance map[int]float64, alpha, wMax float64) {
	if len(performance) == 0 {
		return
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	if wMax <= 0 {
		wMax = 0.4
	}

	maxPerf := math.Inf(-1)
	for _, p := range performance {
		maxPerf = math.Max(maxPerf, p)
	}
	target := make(map[int]float64, len(performance))
	total := 0.0
	for id, p := range performance {
		x := math.Exp(p - maxPerf)
		target[id] = x
		total += x
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prior := 1.0 / float64(len(performance))
	for id, x := range target {
		next := math.Min(x/total, wMax)
		st, ok := e.stats[id]
		if !ok {
			st = ProviderStats{Sigma: 1}
		}
		old := st.Weight
		if old <= 0 {
			old = prior
		}
		st.Weight = (1-alpha)*old + alpha*next
		e.stats[id] = st
	}

	sum := 0.0
	for _, st := range e.stats {
		sum += st.Weight
	}
	if sum <= 0 {
		return
	}
	for id, st := range e.stats {
		st.Weight /= sum
		e.stats[id] = st
	}
}

// UpdateStats replaces the normalization mean and stddev for a provider.
func (e *Ensemble) UpdateStats(providerID int, mu, sigma float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.stats[providerID]
	if !ok {
		st = ProviderStats{}
	}
	st.Mu, st.Sigma = mu, sigma
	e.stats[providerID] = st
}

// SetCalibration installs fitted Platt parameters.
func (e *Ensemble) SetCalibration(a, b float64) {
	e.mu.Lock()
	e.a, e.b = a, b
	e.mu.Unlock()
}

// Calibration returns the current (a, b).
func (e *Ensemble) Calibration() (float64, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.a, e.b
}

// Snapshot is a copy of the ensemble state for status reporting.
type Snapshot struct {
	Providers []ProviderSnapshot `json:"providers"`
	A         float64            `json:"a"`
	B         float64            `json:"b"`
	SCap      float64            `json:"s_cap"`
}

type ProviderSnapshot struct {
	ProviderID int `json:"provider_id"`
	ProviderStats
}

func (e *Ensemble) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := Snapshot{A: e.a, B: e.b, SCap: e.sCap}
	for id, st := range e.stats {
		out.Providers = append(out.Providers, ProviderSnapshot{ProviderID: id, ProviderStats: st})
	}
	sort.Slice(out.Providers, func(i, j int) bool {
		return out.Providers[i].ProviderID < out.Providers[j].ProviderID
	})
	return out
}

func platt(a, b, s float64) float64 {
	return sigmoid(clamp(a*s+b, -logitClamp, logitClamp))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
