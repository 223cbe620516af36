package risk

import (
	"sync"
	"time"
)

// TradeResult is a realized sell, PnL already net of fees (KRW).
type TradeResult struct {
	Symbol string
	Units  float64
	Price  float64
	PnL    float64
	Time   time.Time
}

// Metrics tracks realized performance of closed trades.
type Metrics struct {
	Day         string  `json:"day"`
	DailyPnL    float64 `json:"daily_pnl"`
	DailyTrades int     `json:"daily_trades"`
	DailyLosses float64 `json:"daily_losses"`

	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
}

// Tracker aggregates TradeResults; daily counters roll over on the first
// trade of a new KST day.
type Tracker struct {
	mu sync.RWMutex
	m  Metrics
}

var kst = time.FixedZone("KST", 9*60*60)

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record folds a realized trade into the metrics.
func (t *Tracker) Record(trade TradeResult) {
	if trade.Time.IsZero() {
		trade.Time = time.Now()
	}
	day := trade.Time.In(kst).Format("2006-01-02")

	t.mu.Lock()
	defer t.mu.Unlock()
	m := &t.m
	if m.Day != day {
		m.Day = day
		m.DailyPnL, m.DailyTrades, m.DailyLosses = 0, 0, 0
	}

	m.DailyTrades++
	m.DailyPnL += trade.PnL
	switch {
	case trade.PnL > 0:
		m.Wins++
	case trade.PnL < 0:
		m.Losses++
		m.DailyLosses += -trade.PnL
	}

	m.TotalRealizedPnL += trade.PnL
	if m.TotalRealizedPnL > m.MaxProfit {
		m.MaxProfit = m.TotalRealizedPnL
	}
	if dd := m.MaxProfit - m.TotalRealizedPnL; dd > m.MaxDrawdown {
		m.MaxDrawdown = dd
	}
	if n := m.Wins + m.Losses; n > 0 {
		m.WinRate = float64(m.Wins) / float64(n)
	}
}

// Snapshot returns a copy of the current metrics.
func (t *Tracker) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m
}
