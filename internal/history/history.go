// Package history keeps the per-symbol log of executed buys and sells.
package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradebot/pkg/i18n"
)

// Action is the side of an executed trade.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Record is one executed action.
type Record struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    Action    `json:"action"`
	Reason    string    `json:"reason"`
	Price     float64   `json:"price"`
	Units     float64   `json:"units"`
	ProfitPct float64   `json:"profitPct,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
	Time      time.Time `json:"timestamp"`
}

// Sink receives every appended record, e.g. for durable storage.
type Sink interface {
	Save(ctx context.Context, r Record) error
}

// Log is an append-only, per-symbol trade log.
type Log struct {
	mu      sync.RWMutex
	records map[string][]Record
	sink    Sink
	now     func() time.Time
}

func NewLog(sink Sink) *Log {
	return &Log{records: make(map[string][]Record), sink: sink, now: time.Now}
}

// Append stores r, filling ID and Time when missing, and forwards it to
// the sink. Sink errors are returned but the record is kept in memory.
func (l *Log) Append(ctx context.Context, r Record) (Record, error) {
	r.Symbol = strings.ToUpper(r.Symbol)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Time.IsZero() {
		r.Time = l.now()
	}

	l.mu.Lock()
	l.records[r.Symbol] = append(l.records[r.Symbol], r)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Save(ctx, r); err != nil {
			return r, err
		}
	}
	return r, nil
}

// Symbol returns a copy of the records for symbol, oldest first.
func (l *Log) Symbol(symbol string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.records[strings.ToUpper(symbol)]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Last returns the most recent record for symbol.
func (l *Log) Last(symbol string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.records[strings.ToUpper(symbol)]
	if len(recs) == 0 {
		return Record{}, false
	}
	return recs[len(recs)-1], true
}

// LastAction returns the most recent record of the given action.
func (l *Log) LastAction(symbol string, action Action) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	recs := l.records[strings.ToUpper(symbol)]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Action == action {
			return recs[i], true
		}
	}
	return Record{}, false
}

// ExitedSince reports whether symbol was sold at or after t. The scheduler
// uses it to avoid buying back on the same signal bar it just exited.
func (l *Log) ExitedSince(symbol string, t time.Time) bool {
	r, ok := l.LastAction(symbol, ActionSell)
	return ok && !r.Time.Before(t)
}

// Symbols lists every symbol with at least one record.
func (l *Log) Symbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.records))
	for s := range l.records {
		out = append(out, s)
	}
	return out
}

// Format renders the records of symbol for a signal notification.
func (l *Log) Format(symbol string) string {
	recs := l.Symbol(symbol)
	if len(recs) == 0 {
		return ""
	}
	m := i18n.M()
	var b strings.Builder
	b.WriteString(fmt.Sprintf(m.HistoryHeader, strings.ToUpper(symbol)))
	b.WriteByte('\n')
	for _, r := range recs {
		line := m.HistorySell
		if r.Action == ActionBuy {
			line = m.HistoryBuy
		}
		b.WriteString(fmt.Sprintf(line, strconv.FormatFloat(r.Price, 'f', -1, 64), r.Time.Format("2006-01-02 15:04:05")))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
