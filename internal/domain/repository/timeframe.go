package repository

// Supported timeframes in minutes.
const (
	TF1m  = 1
	TF5m  = 5
	TF15m = 15
)

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf int) bool {
	switch tf {
	case TF1m, TF5m, TF15m:
		return true
	default:
		return false
	}
}

// TimeframeMs returns the timeframe length in milliseconds.
func TimeframeMs(tf int) int64 { return int64(tf) * 60_000 }

// SlotStart aligns tsMs down to the start of its timeframe slot.
func SlotStart(tsMs int64, tf int) int64 {
	size := TimeframeMs(tf)
	if size <= 0 {
		return tsMs
	}
	return tsMs - tsMs%size
}
