package cache

import (
	"fmt"
	"strings"
)

// Key joins a prefix and params into a colon-separated cache key.
func Key(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		fmt.Fprintf(&b, ":%v", p)
	}
	return b.String()
}

// LockKey is the execution lock key for one (account, product, timeframe) tuple.
func LockKey(account, product string, tf int) string {
	return Key("lock", account, product, tf)
}
