package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/selection"
	"tradebot/pkg/i18n"
)

// Analyzer produces the coin groups of a report.
type Analyzer interface {
	Analyze(ctx context.Context, shortInterval, longInterval string, limit int) (selection.Groups, error)
}

// Reporter sends the long-term (1h/24h) and short-term (1m/10m) analysis
// reports to their channels.
type Reporter struct {
	Analyzer Analyzer
	Sink     AlertSink
	Limit    int
	Log      *zap.Logger
}

// Build renders the report for ch without sending it.
func (r *Reporter) Build(ctx context.Context, ch Channel) (string, error) {
	short, long, title := "1m", "10m", i18n.M().ReportShort
	if ch == LongTerm {
		short, long, title = "1h", "24h", i18n.M().ReportLong
	}
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}
	g, err := r.Analyzer.Analyze(ctx, short, long, limit)
	if err != nil {
		return "", fmt.Errorf("analyze %s: %w", ch, err)
	}
	return Report(title, []Group{
		{Title: i18n.M().GroupCommon, Coins: g.Common},
		{Title: fmt.Sprintf(i18n.M().GroupRising, g.ShortInterval), Coins: g.RisingShort},
		{Title: fmt.Sprintf(i18n.M().GroupRising, g.LongInterval), Coins: g.RisingLong},
	}), nil
}

// Send builds and delivers the report for ch.
func (r *Reporter) Send(ctx context.Context, ch Channel) error {
	text, err := r.Build(ctx, ch)
	if err != nil {
		return err
	}
	return r.Sink.Send(ctx, ch, text)
}

// Schedule sends the report for ch every interval until ctx ends.
func (r *Reporter) Schedule(ctx context.Context, ch Channel, every time.Duration) {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.Send(ctx, ch); err != nil {
				log.Warn("report failed", zap.String("channel", string(ch)), zap.Error(err))
			}
		}
	}
}
