package util

import "strings"

// ShortID returns the first n characters of id with dashes removed.
func ShortID(id string, n int) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) <= n {
		return id
	}
	return id[:n]
}
