// Package convert turns loosely typed venue values into numbers and times.
package convert

import (
	"strconv"
	"strings"
	"time"
)

// ParseFloat parses venue decimal strings ("0.00100000"); blanks and
// garbage are 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

// UnixSeconds converts fractional epoch seconds (1700000000.1234) to time.
func UnixSeconds(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole := int64(sec)
	nanos := int64((sec - float64(whole)) * 1e9)
	return time.Unix(whole, nanos).UTC()
}

// UnixMillis converts epoch milliseconds to time; 0 is the zero time.
func UnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
