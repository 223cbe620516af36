package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradebot/internal/events"
	"tradebot/internal/market"
	"tradebot/internal/selection"
	bithumb "tradebot/pkg/market/bithumb"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

type memorySink struct {
	mu   sync.Mutex
	msgs map[Channel][]string
	err  error
}

func newMemorySink() *memorySink { return &memorySink{msgs: make(map[Channel][]string)} }

func (m *memorySink) Send(_ context.Context, ch Channel, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs[ch] = append(m.msgs[ch], text)
	return nil
}

func (m *memorySink) count(ch Channel) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs[ch])
}

func (m *memorySink) last(ch Channel) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs[ch]) == 0 {
		return ""
	}
	return m.msgs[ch][len(m.msgs[ch])-1]
}

func TestTelegramSinkConnectsLazily(t *testing.T) {
	bot := &fakeBot{}
	var connects []string
	sink := NewTelegramSink("short-token", "", 42)
	sink.connect = func(token string) (sender, error) {
		connects = append(connects, token)
		return bot, nil
	}

	require.NoError(t, sink.Send(context.Background(), ShortTerm, "*hi*"))
	require.NoError(t, sink.Send(context.Background(), ShortTerm, "again"))
	assert.Equal(t, []string{"short-token"}, connects)
	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)
	assert.Equal(t, "*hi*", bot.sent[0].Text)

	err := sink.Send(context.Background(), LongTerm, "nobody listens")
	assert.ErrorIs(t, err, ErrNoToken)
	assert.False(t, sink.Enabled(LongTerm))
}

func TestNotifierSwallowsErrors(t *testing.T) {
	sink := newMemorySink()
	sink.err = errors.New("telegram down")
	n := Notifier{Sink: sink, Channel: ShortTerm}
	assert.NotPanics(t, func() { n.Notify(context.Background(), "lost") })

	sink.err = nil
	n.Notify(context.Background(), "delivered")
	assert.Equal(t, "delivered", sink.last(ShortTerm))
}

func TestReport(t *testing.T) {
	msg := Report("Sustainability - Short Term", []Group{
		{Title: "hot", Coins: []string{"btc", "ETH"}},
		{Title: "empty"},
	})
	assert.True(t, strings.HasPrefix(msg, "🐅 Sustainability - Short Term\n🐅\n🐅\n🐅\n🐅\n"))
	assert.Contains(t, msg, "*hot*\n[BTC](https://kr.tradingview.com/chart/m0kspXtg/?symbol=BITHUMB%3ABTCKRW), [ETH](")
	assert.Contains(t, msg, "*empty*\n\n")
	assert.True(t, strings.HasSuffix(msg, strings.Repeat("🐅\n", 5)))
}

func TestSurgeDetector(t *testing.T) {
	tests := []struct {
		name  string
		price float64
		vol   float64
		want  bool
	}{
		{"surge up", 105, 30, true},
		{"surge down", 94, 40, true},
		{"price only", 110, 20, false},
		{"volume only", 101, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSurgeDetector(0.05, 3)
			_, fired := d.Observe(bithumb.Tick{Symbol: "BTC", Close: 100, Volume: 10})
			require.False(t, fired, "first tick has no baseline")

			alert, fired := d.Observe(bithumb.Tick{Symbol: "btc", Close: tt.price, Volume: tt.vol})
			assert.Equal(t, tt.want, fired)
			if fired {
				assert.Equal(t, "BTC", alert.Symbol)
				assert.InDelta(t, tt.price-100, alert.ChangePct, 1e-9)
			}
		})
	}
}

func TestMonitorAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := newMemorySink()
	metrics := NewSystemMetrics()
	surges, unsub := bus.Subscribe(events.EventSuddenChange, 4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &Monitor{Bus: bus, Sink: sink, Surge: NewSurgeDetector(0.05, 3), Metrics: metrics}
	m.Start(ctx)

	bus.Publish(events.EventPriceTick, bithumb.Tick{Symbol: "XRP", Close: 100, Volume: 1})
	bus.Publish(events.EventPriceTick, bithumb.Tick{Symbol: "XRP", Close: 110, Volume: 5})

	select {
	case v := <-surges:
		assert.Equal(t, "XRP", v.(SurgeAlert).Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no surge event")
	}
	require.Eventually(t, func() bool { return sink.count(ShortTerm) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.last(ShortTerm), "XRP")

	bus.Publish(events.EventStreamState, market.StreamState{Symbol: "ADA", State: market.StateAbandoned, Err: "dial refused"})
	require.Eventually(t, func() bool { return sink.count(ShortTerm) == 2 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.last(ShortTerm), "dial refused")

	bus.Publish(events.EventRiskAlert, "daily loss limit")
	require.Eventually(t, func() bool { return sink.count(ShortTerm) == 3 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sink.last(ShortTerm), "daily loss limit")
	assert.Equal(t, uint64(2), metrics.GetSnapshot().TicksProcessed)
}

type fakeAnalyzer struct {
	short, long string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, short, long string, _ int) (selection.Groups, error) {
	f.short, f.long = short, long
	return selection.Groups{Common: []string{"BTC"}, RisingLong: []string{"SOL"}, ShortInterval: short, LongInterval: long}, nil
}

func TestReporterIntervals(t *testing.T) {
	a := &fakeAnalyzer{}
	sink := newMemorySink()
	r := &Reporter{Analyzer: a, Sink: sink}

	require.NoError(t, r.Send(context.Background(), LongTerm))
	assert.Equal(t, "1h", a.short)
	assert.Equal(t, "24h", a.long)
	assert.Contains(t, sink.last(LongTerm), "BITHUMB%3ASOLKRW")

	require.NoError(t, r.Send(context.Background(), ShortTerm))
	assert.Equal(t, "1m", a.short)
	assert.Equal(t, 1, sink.count(ShortTerm))
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 2, 3} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 1, s.Min, 1e-9)
	assert.InDelta(t, 3, s.Max, 1e-9)
	assert.InDelta(t, 2, s.Avg, 1e-9)
	assert.Equal(t, s, h.Stats())
}

type snapshotTickers struct {
	snaps [][]bithumb.Ticker
	calls int
}

func (s *snapshotTickers) Tickers(context.Context) ([]bithumb.Ticker, error) {
	snap := s.snaps[min(s.calls, len(s.snaps)-1)]
	s.calls++
	return snap, nil
}

func TestUniverseScanAlertsBeyondHoldings(t *testing.T) {
	// SOL surges on the third poll; DOGE surges too but ranks outside the
	// top two by traded value.
	snap := func(solClose, solUnits, dogeClose, dogeUnits float64) []bithumb.Ticker {
		return []bithumb.Ticker{
			{Symbol: "BTC", ClosingPrice: 100, UnitsTraded24H: 10, AccTradeValue24H: 900},
			{Symbol: "SOL", ClosingPrice: solClose, UnitsTraded24H: solUnits, AccTradeValue24H: 500},
			{Symbol: "DOGE", ClosingPrice: dogeClose, UnitsTraded24H: dogeUnits, AccTradeValue24H: 10},
		}
	}
	src := &snapshotTickers{snaps: [][]bithumb.Ticker{
		snap(100, 1000, 1, 1000),
		snap(100, 1010, 1, 1010),
		snap(110, 1060, 2, 1100),
	}}
	bus := events.NewBus()
	surges, unsub := bus.Subscribe(events.EventSuddenChange, 4)
	defer unsub()
	sink := newMemorySink()
	m := &Monitor{
		Bus:           bus,
		Sink:          sink,
		Tickers:       src,
		UniverseSize:  2,
		UniverseSurge: NewSurgeDetector(0.05, 3),
	}
	m.Log = zap.NewNop()

	units := make(map[string]float64)
	for range 3 {
		m.scanOnce(context.Background(), units)
	}

	select {
	case v := <-surges:
		alert := v.(SurgeAlert)
		assert.Equal(t, "SOL", alert.Symbol)
		assert.InDelta(t, 10, alert.ChangePct, 1e-9)
		assert.InDelta(t, 5, alert.VolumeRatio, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no surge event")
	}
	assert.Equal(t, 1, sink.count(ShortTerm))
	assert.Contains(t, sink.last(ShortTerm), "SOL")
	assert.NotContains(t, units, "DOGE")
}
