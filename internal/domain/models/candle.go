package models

// Candle is a single OHLCV bar. TsMs is the bar open time in unix milliseconds.
type Candle struct {
	TsMs   int64   `json:"ts_ms"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Features holds precomputed indicator values handed to strategy providers.
type Features map[string]float64

// Get returns the feature value or def when missing.
func (f Features) Get(name string, def float64) float64 {
	if v, ok := f[name]; ok {
		return v
	}
	return def
}
