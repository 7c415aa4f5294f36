package util

import "time"

// StartOfUTCDay truncates t to 00:00 UTC of the same day.
func StartOfUTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return StartOfUTCDay(a).Equal(StartOfUTCDay(b))
}
