package monitor

import (
	"math"
	"strings"
	"sync"
	"time"

	market "tradebot/pkg/market/bithumb"
)

// SurgeAlert is published on events.EventSuddenChange.
type SurgeAlert struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	PrevPrice   float64   `json:"prevPrice"`
	ChangePct   float64   `json:"changePct"`
	VolumeRatio float64   `json:"volumeRatio"`
	Time        time.Time `json:"time"`
}

// SurgeDetector compares each tick with the previous one of the same symbol.
type SurgeDetector struct {
	PriceChange float64 // fraction, 0.05 = 5%
	VolumeRatio float64

	mu   sync.Mutex
	last map[string]market.Tick
}

func NewSurgeDetector(priceChange, volumeRatio float64) *SurgeDetector {
	return &SurgeDetector{
		PriceChange: priceChange,
		VolumeRatio: volumeRatio,
		last:        make(map[string]market.Tick),
	}
}

// Observe records tick and reports a surge when both the absolute price
// move and the volume ratio reach their thresholds.
func (d *SurgeDetector) Observe(tick market.Tick) (SurgeAlert, bool) {
	sym := strings.ToUpper(tick.Symbol)
	d.mu.Lock()
	prev, seen := d.last[sym]
	d.last[sym] = tick
	d.mu.Unlock()

	if !seen || prev.Close <= 0 || prev.Volume <= 0 {
		return SurgeAlert{}, false
	}
	change := (tick.Close - prev.Close) / prev.Close
	ratio := tick.Volume / prev.Volume
	if math.Abs(change) < d.PriceChange || ratio < d.VolumeRatio {
		return SurgeAlert{}, false
	}
	return SurgeAlert{
		Symbol:      sym,
		Price:       tick.Close,
		PrevPrice:   prev.Close,
		ChangePct:   change * 100,
		VolumeRatio: ratio,
		Time:        time.UnixMilli(tick.Time),
	}, true
}

// Forget drops the remembered tick of symbol.
func (d *SurgeDetector) Forget(symbol string) {
	d.mu.Lock()
	delete(d.last, strings.ToUpper(symbol))
	d.mu.Unlock()
}
