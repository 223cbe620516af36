package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot/pkg/db"
)

func newDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))
	return database
}

func countTrades(t *testing.T, database *db.Database) int {
	t.Helper()
	var n int
	require.NoError(t, database.DB.QueryRow(`SELECT COUNT(*) FROM trade_history`).Scan(&n))
	return n
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database.DB, 2, time.Hour, nil)
	defer bw.Close()

	now := time.Now()
	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "a", Symbol: "BTC", Action: "buy", CreatedAt: now})...)
	assert.Equal(t, 1, bw.Pending())
	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "b", Symbol: "BTC", Action: "sell", CreatedAt: now})...)

	assert.Zero(t, bw.Pending())
	assert.Equal(t, 2, countTrades(t, database))
	m := bw.Metrics()
	assert.Equal(t, uint64(2), m.TotalWrites)
	assert.Equal(t, uint64(1), m.TotalBatches)
}

func TestBatchWriterRollsBackBadBatch(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database.DB, 10, time.Hour, nil)
	defer bw.Close()

	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "a", Symbol: "BTC", Action: "buy", CreatedAt: time.Now()})...)
	bw.WriteQuery(`INSERT INTO missing_table VALUES (1)`)

	require.Error(t, bw.Flush(context.Background()))
	assert.Zero(t, countTrades(t, database))
	assert.Equal(t, uint64(1), bw.Metrics().TotalErrors)
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	database := newDB(t)
	bw := NewBatchWriter(database.DB, 10, time.Hour, nil)

	bw.WriteQuery(db.InsertTradeSQL, db.TradeArgs(db.TradeRow{ID: "a", Symbol: "ETH", Action: "buy", CreatedAt: time.Now()})...)
	require.NoError(t, bw.Close())
	require.NoError(t, bw.Close())
	assert.Equal(t, 1, countTrades(t, database))
}
