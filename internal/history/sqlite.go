package history

import (
	"context"
	"time"

	"tradebot/internal/persistence"
	"tradebot/pkg/db"
)

var kst = time.FixedZone("KST", 9*60*60)

// SQLiteSink persists records through a batch writer.
type SQLiteSink struct {
	db     *db.Database
	writer *persistence.BatchWriter
}

func NewSQLiteSink(database *db.Database, writer *persistence.BatchWriter) *SQLiteSink {
	return &SQLiteSink{db: database, writer: writer}
}

// Save queues r; sells also accumulate into the daily metrics row.
func (s *SQLiteSink) Save(_ context.Context, r Record) error {
	s.writer.WriteQuery(db.InsertTradeSQL, db.TradeArgs(toRow(r))...)
	if r.Action == ActionSell {
		pnl := (r.Price - r.Price/(1+r.ProfitPct/100)) * r.Units
		wins, losses := 0, 0.0
		if pnl > 0 {
			wins = 1
		} else if pnl < 0 {
			losses = -pnl
		}
		s.writer.WriteQuery(db.UpsertDailyMetricsSQL, r.Time.In(kst).Format("2006-01-02"), pnl, wins, losses)
	}
	return nil
}

// Load reads back up to limit records for symbol ("" for all), oldest first.
func (s *SQLiteSink) Load(ctx context.Context, symbol string, limit int) ([]Record, error) {
	if err := s.writer.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.ListTrades(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			ID:        row.ID,
			Symbol:    row.Symbol,
			Action:    Action(row.Action),
			Reason:    row.Reason,
			Price:     row.Price,
			Units:     row.Units,
			ProfitPct: row.ProfitPct,
			OrderID:   row.OrderID,
			Time:      row.CreatedAt,
		})
	}
	return out, nil
}

func toRow(r Record) db.TradeRow {
	return db.TradeRow{
		ID:        r.ID,
		Symbol:    r.Symbol,
		Action:    string(r.Action),
		Reason:    r.Reason,
		Price:     r.Price,
		Units:     r.Units,
		ProfitPct: r.ProfitPct,
		OrderID:   r.OrderID,
		CreatedAt: r.Time,
	}
}
