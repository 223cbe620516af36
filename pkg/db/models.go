package db

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// TradeRow is one executed buy or sell.
type TradeRow struct {
	ID        string
	Symbol    string
	Action    string
	Reason    string
	Price     float64
	Units     float64
	ProfitPct float64
	OrderID   string
	CreatedAt time.Time
}

// InsertTradeSQL is exported for batched writers.
const InsertTradeSQL = `INSERT OR IGNORE INTO trade_history
    (id, symbol, action, reason, price, units, profit_pct, order_id, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// TradeArgs returns the InsertTradeSQL arguments for t.
func TradeArgs(t TradeRow) []any {
	return []any{t.ID, t.Symbol, t.Action, t.Reason, t.Price, t.Units, t.ProfitPct, t.OrderID, t.CreatedAt.UTC()}
}

// UpsertDailyMetricsSQL accumulates one realized trade into its day row.
const UpsertDailyMetricsSQL = `INSERT INTO daily_metrics (date, realized_pnl, trades, wins, losses)
    VALUES (?, ?, 1, ?, ?)
    ON CONFLICT(date) DO UPDATE SET
        realized_pnl = realized_pnl + excluded.realized_pnl,
        trades = trades + 1,
        wins = wins + excluded.wins,
        losses = losses + excluded.losses`

func (d *Database) CreateTrade(ctx context.Context, t TradeRow) error {
	_, err := d.DB.ExecContext(ctx, InsertTradeSQL, TradeArgs(t)...)
	return err
}

// ListTrades returns the most recent trades for symbol, oldest first.
// An empty symbol lists every symbol.
func (d *Database) ListTrades(ctx context.Context, symbol string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, symbol, action, reason, price, units, profit_pct, order_id, created_at
        FROM trade_history WHERE (? = '' OR symbol = ?)
        ORDER BY created_at DESC LIMIT ?`
	rows, err := d.DB.QueryContext(ctx, query, symbol, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Action, &t.Reason, &t.Price, &t.Units, &t.ProfitPct, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// DailyMetrics is one row of daily_metrics.
type DailyMetrics struct {
	Date        string
	RealizedPnL float64
	Trades      int
	Wins        int
	Losses      float64
}

func (d *Database) GetDailyMetrics(ctx context.Context, date string) (DailyMetrics, error) {
	m := DailyMetrics{Date: date}
	err := d.DB.QueryRowContext(ctx,
		`SELECT realized_pnl, trades, wins, losses FROM daily_metrics WHERE date = ?`, date).
		Scan(&m.RealizedPnL, &m.Trades, &m.Wins, &m.Losses)
	return m, err
}
