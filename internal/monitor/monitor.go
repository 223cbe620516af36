// Package monitor turns bus events into operator alerts: Telegram
// notifications, market surge detection and periodic analysis reports.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/events"
	"tradebot/internal/market"
	"tradebot/internal/selection"
	"tradebot/pkg/i18n"
	bithumb "tradebot/pkg/market/bithumb"
)

const defaultUniverseSize = 100

// Monitor watches the bus and emits alerts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Surge   *SurgeDetector
	Metrics *SystemMetrics
	Log     *zap.Logger

	// When Tickers is set the top UniverseSize symbols by traded value are
	// polled every ScanInterval and fed to UniverseSurge, so surges are
	// seen beyond the streamed holdings. Volume is the 24h units traded
	// since the previous poll.
	Tickers       selection.TickerSource
	UniverseSize  int
	ScanInterval  time.Duration
	UniverseSurge *SurgeDetector
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		m.Log.Warn("monitor not fully configured; skipping")
		return
	}
	ticks, unsubTicks := m.Bus.Subscribe(events.EventPriceTick, 256)
	alerts, unsubAlerts := m.Bus.Subscribe(events.EventRiskAlert, 50)
	streams, unsubStreams := m.Bus.Subscribe(events.EventStreamState, 50)
	go func() {
		defer unsubTicks()
		defer unsubAlerts()
		defer unsubStreams()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ticks:
				if !ok {
					return
				}
				if tick, ok := msg.(bithumb.Tick); ok {
					m.handleTick(ctx, tick)
				}
			case msg, ok := <-alerts:
				if !ok {
					return
				}
				m.send(ctx, ShortTerm, formatAlert(msg))
			case msg, ok := <-streams:
				if !ok {
					return
				}
				if st, ok := msg.(market.StreamState); ok && st.State == market.StateAbandoned {
					m.send(ctx, ShortTerm, fmt.Sprintf(i18n.M().StreamLost, st.Symbol, st.Err))
				}
			}
		}
	}()
	if m.Tickers != nil && m.UniverseSurge != nil && m.ScanInterval > 0 {
		go m.scanUniverse(ctx)
	}
}

func (m *Monitor) scanUniverse(ctx context.Context) {
	t := time.NewTicker(m.ScanInterval)
	defer t.Stop()
	units := make(map[string]float64)
	for {
		m.scanOnce(ctx, units)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// scanOnce polls one ticker snapshot. units carries the 24h traded units
// of the previous poll per symbol.
func (m *Monitor) scanOnce(ctx context.Context, units map[string]float64) {
	tickers, err := m.Tickers.Tickers(ctx)
	if err != nil {
		m.Log.Warn("universe scan failed", zap.Error(err))
		return
	}
	size := m.UniverseSize
	if size <= 0 {
		size = defaultUniverseSize
	}
	bySymbol := make(map[string]bithumb.Ticker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	now := time.Now().UnixMilli()
	top := make(map[string]bool, size)
	for _, sym := range selection.TopByValue(tickers, size) {
		top[sym] = true
		t := bySymbol[sym]
		prev, seen := units[sym]
		units[sym] = t.UnitsTraded24H
		if !seen {
			continue
		}
		alert, ok := m.UniverseSurge.Observe(bithumb.Tick{
			Symbol: sym,
			Time:   now,
			Close:  t.ClosingPrice,
			Volume: max(t.UnitsTraded24H-prev, 0),
		})
		if ok {
			m.raise(ctx, alert)
		}
	}
	for sym := range units {
		if !top[sym] {
			delete(units, sym)
			m.UniverseSurge.Forget(sym)
		}
	}
}

func (m *Monitor) handleTick(ctx context.Context, tick bithumb.Tick) {
	if m.Metrics != nil {
		m.Metrics.IncrementTicks()
	}
	if m.Surge == nil {
		return
	}
	if alert, ok := m.Surge.Observe(tick); ok {
		m.raise(ctx, alert)
	}
}

func (m *Monitor) raise(ctx context.Context, alert SurgeAlert) {
	m.Bus.Publish(events.EventSuddenChange, alert)
	m.Log.Info("market surge",
		zap.String("symbol", alert.Symbol),
		zap.Float64("change_pct", alert.ChangePct),
		zap.Float64("volume_ratio", alert.VolumeRatio))
	m.send(ctx, ShortTerm, fmt.Sprintf(i18n.M().SurgeAlert, alert.Symbol, alert.ChangePct, alert.VolumeRatio, fmt.Sprintf("%.2f", alert.Price)))
}

func (m *Monitor) send(ctx context.Context, ch Channel, text string) {
	if err := m.Sink.Send(ctx, ch, text); err != nil {
		m.Log.Warn("alert delivery failed", zap.String("channel", string(ch)), zap.Error(err))
		if m.Metrics != nil {
			m.Metrics.IncrementErrors()
		}
	}
}

func formatAlert(msg any) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + toString(msg)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return "alert triggered"
	}
}
