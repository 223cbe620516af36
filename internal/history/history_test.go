package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/internal/persistence"
	"tradebot/pkg/db"
)

type failingSink struct{}

func (failingSink) Save(context.Context, Record) error { return errors.New("disk full") }

func TestAppendFillsDefaults(t *testing.T) {
	l := NewLog(nil)
	r, err := l.Append(context.Background(), Record{Symbol: "btc", Action: ActionBuy, Price: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Time.IsZero())
	assert.Equal(t, "BTC", r.Symbol)

	recs := l.Symbol("BTC")
	require.Len(t, recs, 1)
	recs[0].Price = 0
	assert.InDelta(t, 100, l.Symbol("btc")[0].Price, 1e-9, "Symbol returns a copy")
}

func TestAppendKeepsRecordOnSinkError(t *testing.T) {
	l := NewLog(failingSink{})
	_, err := l.Append(context.Background(), Record{Symbol: "ETH", Action: ActionSell})
	assert.Error(t, err)
	_, ok := l.Last("ETH")
	assert.True(t, ok)
}

func TestExitedSince(t *testing.T) {
	l := NewLog(nil)
	bar := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	assert.False(t, l.ExitedSince("XRP", bar))
	_, _ = l.Append(ctx, Record{Symbol: "XRP", Action: ActionBuy, Time: bar.Add(-2 * time.Hour)})
	_, _ = l.Append(ctx, Record{Symbol: "XRP", Action: ActionSell, Time: bar.Add(-time.Hour)})
	assert.False(t, l.ExitedSince("XRP", bar))

	_, _ = l.Append(ctx, Record{Symbol: "XRP", Action: ActionSell, Time: bar.Add(5 * time.Minute)})
	assert.True(t, l.ExitedSince("XRP", bar))

	last, ok := l.LastAction("XRP", ActionBuy)
	require.True(t, ok)
	assert.Equal(t, bar.Add(-2*time.Hour), last.Time)
	assert.ElementsMatch(t, []string{"XRP"}, l.Symbols())
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.ApplyMigrations(database))

	bw := persistence.NewBatchWriter(database.DB, 50, time.Hour, nil)
	defer bw.Close()
	sink := NewSQLiteSink(database, bw)
	l := NewLog(sink)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)
	_, err = l.Append(ctx, Record{Symbol: "BTC", Action: ActionBuy, Price: 100, Units: 2, Time: at})
	require.NoError(t, err)
	_, err = l.Append(ctx, Record{Symbol: "BTC", Action: ActionSell, Reason: "profitTarget", Price: 110, Units: 2, ProfitPct: 10, Time: at.Add(time.Hour)})
	require.NoError(t, err)

	recs, err := sink.Load(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ActionBuy, recs[0].Action)
	assert.Equal(t, "profitTarget", recs[1].Reason)

	m, err := database.GetDailyMetrics(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.InDelta(t, 20, m.RealizedPnL, 1e-6)
	assert.Equal(t, 1, m.Wins)
}

func TestFormat(t *testing.T) {
	l := NewLog(nil)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	_, err := l.Append(ctx, Record{Symbol: "eth", Action: ActionBuy, Price: 3000.5, Units: 1, Time: at})
	require.NoError(t, err)
	_, err = l.Append(ctx, Record{Symbol: "ETH", Action: ActionSell, Price: 3100, Units: 1, Time: at.Add(time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, "ETH:\n  - Buy at 3000.5 on 2024-05-01 09:30:00\n  - Sell at 3100 on 2024-05-01 10:30:00\n\n", l.Format("eth"))
	assert.Empty(t, l.Format("BTC"))
}
