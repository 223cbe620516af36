package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "trade_history", "profit_pct")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTradesRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []TradeRow{
		{ID: "1", Symbol: "BTC", Action: "buy", Reason: "entrySignalConditionMet", Price: 100, Units: 1, CreatedAt: base},
		{ID: "2", Symbol: "ETH", Action: "buy", Price: 10, Units: 2, CreatedAt: base.Add(time.Minute)},
		{ID: "3", Symbol: "BTC", Action: "sell", Reason: "stopLoss", Price: 97, Units: 1, ProfitPct: -3, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range rows {
		require.NoError(t, database.CreateTrade(ctx, r))
	}
	// duplicate id is ignored
	require.NoError(t, database.CreateTrade(ctx, rows[0]))

	btc, err := database.ListTrades(ctx, "BTC", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "buy", btc[0].Action)
	assert.Equal(t, "stopLoss", btc[1].Reason)
	assert.InDelta(t, -3, btc[1].ProfitPct, 1e-9)

	last, err := database.ListTrades(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "3", last[0].ID)
}

func TestDailyMetricsUpsert(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.DB.Exec(UpsertDailyMetricsSQL, "2024-01-01", 500.0, 1, 0.0)
	require.NoError(t, err)
	_, err = database.DB.Exec(UpsertDailyMetricsSQL, "2024-01-01", -200.0, 0, 200.0)
	require.NoError(t, err)

	m, err := database.GetDailyMetrics(ctx, "2024-01-01")
	require.NoError(t, err)
	assert.InDelta(t, 300, m.RealizedPnL, 1e-9)
	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.InDelta(t, 200, m.Losses, 1e-9)
}
