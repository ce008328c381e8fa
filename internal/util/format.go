package util

import (
	"fmt"
	"strings"
)

// FormatTTL renders a record TTL in seconds as a compact duration such as
// "1h2m" or "45s". Zero units are omitted.
func FormatTTL(ttl uint32) string {
	if ttl == 0 {
		return "0s"
	}
	units := []struct {
		suffix string
		secs   uint32
	}{
		{"d", 86400},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}
	var b strings.Builder
	for _, u := range units {
		if n := ttl / u.secs; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			ttl -= n * u.secs
		}
	}
	return b.String()
}
