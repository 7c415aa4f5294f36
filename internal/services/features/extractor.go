package features

import (
	"math"

	"FixedTime/internal/domain/models"
	"FixedTime/internal/domain/repository"
)

// Feature names produced by Build.
const (
	FeatClose      = "close"
	FeatLogReturn  = "log_return"
	FeatVolatility = "volatility"
	FeatEMA9       = "ema9"
	FeatEMA21      = "ema21"
	FeatRSI14      = "rsi14"
	FeatSMA20      = "sma20"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility computes annualized realized volatility over the last window returns
// using the provided number of bars per year.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * barsPerYear)
}

// BarsPerYear returns the number of bars per year for a timeframe in minutes.
func BarsPerYear(tf int) float64 {
	if !repository.IsValidTimeframe(tf) {
		tf = repository.TF1m
	}
	return 365 * 24 * 60 / float64(tf)
}

// Closes extracts close prices.
func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EMA returns the exponential moving average series with alpha = 2/(span+1),
// seeded with the first value (no bias adjustment).
func EMA(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// SMA returns the simple moving average series; the first period-1 entries are NaN.
func SMA(values []float64, period int) []float64 {
	if period <= 0 {
		return nil
	}
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// RSI returns Wilder's relative strength index series. Entries before the first full
// period are NaN; a flat window yields 50.
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		gain = (gain*(p-1) + g) / p
		loss = (loss*(p-1) + l) / p
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	switch {
	case gain == 0 && loss == 0:
		return 50
	case loss == 0:
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// Last returns the final element or def for an empty slice or NaN.
func Last(values []float64, def float64) float64 {
	if len(values) == 0 || math.IsNaN(values[len(values)-1]) {
		return def
	}
	return values[len(values)-1]
}

// Build computes the shared feature set for the latest candle.
func Build(candles []models.Candle, tf int) models.Features {
	f := models.Features{}
	if len(candles) == 0 {
		return f
	}
	closes := Closes(candles)
	rets := ComputeLogReturns(candles)

	f[FeatClose] = closes[len(closes)-1]
	f[FeatLogReturn] = Last(rets, 0)
	f[FeatVolatility] = RealizedVolatility(rets, min(20, len(rets)), BarsPerYear(tf))
	f[FeatEMA9] = Last(EMA(closes, 9), f[FeatClose])
	f[FeatEMA21] = Last(EMA(closes, 21), f[FeatClose])
	f[FeatRSI14] = Last(RSI(closes, 14), 50)
	f[FeatSMA20] = Last(SMA(closes, 20), f[FeatClose])
	return f
}
