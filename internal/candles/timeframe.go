package candles

import (
	"fmt"
	"time"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"10m": 10 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// ParseTimeframe maps a Bithumb chart interval to its bar duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	if d, ok := timeframes[tf]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unsupported timeframe %q", tf)
}
