package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime tries RFC3339 variants, plain dates and unix seconds or
// milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		// 1e11 seconds is year 5138, so anything larger is milliseconds
		if ts > 1e11 {
			return time.UnixMilli(ts).UTC(), true
		}
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// PeriodDays converts a market-data period such as "2y", "6mo", "3w" or
// "30d" into calendar days.
func PeriodDays(period string) (int, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	unit := 0
	num := ""
	switch {
	case strings.HasSuffix(p, "mo"):
		unit, num = 30, strings.TrimSuffix(p, "mo")
	case strings.HasSuffix(p, "y"):
		unit, num = 365, strings.TrimSuffix(p, "y")
	case strings.HasSuffix(p, "w"):
		unit, num = 7, strings.TrimSuffix(p, "w")
	case strings.HasSuffix(p, "d"):
		unit, num = 1, strings.TrimSuffix(p, "d")
	default:
		return 0, fmt.Errorf("unknown period %q", period)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}
	return n * unit, nil
}
