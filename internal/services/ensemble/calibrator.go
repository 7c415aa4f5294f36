package ensemble

import "math"

// Calibrator fits Platt parameters (a, b) so that sigmoid(a·S+b) tracks observed outcomes.
type Calibrator struct {
	A, B       float64
	LR         float64
	Epochs     int
	MinSamples int
}

// NewCalibrator starts from the identity calibration.
func NewCalibrator(minSamples int) *Calibrator {
	if minSamples < 10 {
		minSamples = 10
	}
	return &Calibrator{A: 1, B: 0, LR: 0.01, Epochs: 100, MinSamples: minSamples}
}

// Fit runs batch gradient descent on the log loss. It leaves the parameters untouched and
// returns false when there are fewer than MinSamples pairs or the lists differ in length.
func (c *Calibrator) Fit(sList, yList []float64) bool {
	n := len(sList)
	if n != len(yList) || n < c.MinSamples {
		return false
	}
	for i := 0; i < n; i++ {
		if !finite(sList[i]) || !finite(yList[i]) {
			return false
		}
	}

	a, b := c.A, c.B
	for epoch := 0; epoch < c.Epochs; epoch++ {
		ga, gb := 0.0, 0.0
		for i := 0; i < n; i++ {
			d := platt(a, b, sList[i]) - yList[i]
			ga += d * sList[i]
			gb += d
		}
		a -= c.LR * ga / float64(n)
		b -= c.LR * gb / float64(n)
	}
	if !finite(a) || !finite(b) {
		return false
	}
	c.A, c.B = a, b
	return true
}

// Predict maps a raw ensemble score to a probability.
func (c *Calibrator) Predict(s float64) float64 {
	return platt(c.A, c.B, s)
}

// Apply installs the fitted parameters into e.
func (c *Calibrator) Apply(e *Ensemble) {
	e.SetCalibration(c.A, c.B)
}

// BrierScore is the mean squared error between predictions and 0/1 outcomes.
func BrierScore(p, y []float64) float64 {
	if len(p) == 0 || len(p) != len(y) {
		return math.NaN()
	}
	sum := 0.0
	for i := range p {
		d := p[i] - y[i]
		sum += d * d
	}
	return sum / float64(len(p))
}

// BreakevenThreshold is the win probability at which a bet paying ratio r has zero expectation.
func BreakevenThreshold(r float64) float64 {
	if r <= 0 {
		return 1
	}
	return 1 / (1 + r)
}

// SuggestThreshold raises configured to at least breakeven plus margin for the given payout percent.
func SuggestThreshold(payoutPct, configured, margin float64) float64 {
	return math.Max(configured, BreakevenThreshold(payoutPct/100)+margin)
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
