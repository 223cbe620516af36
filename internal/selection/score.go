package selection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot/internal/indicators"
	market "tradebot/pkg/market/bithumb"
)

// Factors are the raw inputs of a symbol's score.
type Factors struct {
	TradedValue  float64 `json:"tradedValue"`  // KRW over the window
	RSI          float64 `json:"rsi"`          // 14 bars
	PriceChange  float64 `json:"priceChange"`  // % over the window
	VWMAPosition float64 `json:"vwmaPosition"` // % above the 20-bar VWMA
	ATRPct       float64 `json:"atrPct"`       // 14-bar ATR as % of close
	PrevChange   float64 `json:"prevChange"`   // % change of the previous bar
	MAPosition   float64 `json:"maPosition"`   // % above the 20-bar MA
	VolumeGrowth float64 `json:"volumeGrowth"` // % of 5-bar vs prior 15-bar volume
}

// Weights blend Factors into one number. ATR is a penalty.
type Weights struct {
	Volume       float64 `yaml:"volume" json:"volume"`
	RSI          float64 `yaml:"rsi" json:"rsi"`
	PriceChange  float64 `yaml:"price_change" json:"priceChange"`
	VWMA         float64 `yaml:"vwma" json:"vwma"`
	ATR          float64 `yaml:"atr" json:"atr"`
	PrevChange   float64 `yaml:"prev_change" json:"prevChange"`
	MA           float64 `yaml:"ma" json:"ma"`
	VolumeGrowth float64 `yaml:"volume_growth" json:"volumeGrowth"`
}

func DefaultWeights() Weights {
	return Weights{
		Volume:       0.20,
		RSI:          0.15,
		PriceChange:  0.15,
		VWMA:         0.15,
		ATR:          -0.05,
		PrevChange:   0.10,
		MA:           0.10,
		VolumeGrowth: 0.10,
	}
}

// ComputeFactors derives Factors from candles (oldest first).
func ComputeFactors(candles []market.Candle) Factors {
	var f Factors
	n := len(candles)
	if n == 0 {
		return f
	}
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range candles {
		high[i], low[i], closes[i], volume[i] = c.High, c.Low, c.Close, c.Volume
		f.TradedValue += c.Close * c.Volume
	}

	last := closes[n-1]
	f.RSI = indicators.RSI(closes, 14)
	if first := candles[0].Open; first > 0 {
		f.PriceChange = (last - first) / first * 100
	}
	if vwma := indicators.VWMA(closes, volume, 20); vwma > 0 {
		f.VWMAPosition = (last/vwma - 1) * 100
	}
	if last > 0 {
		f.ATRPct = indicators.LastATR(high, low, closes, 14) / last * 100
	}
	if n >= 2 && candles[n-2].Open > 0 {
		prev := candles[n-2]
		f.PrevChange = (prev.Close - prev.Open) / prev.Open * 100
	}
	if ma := indicators.MeanOrSMA(closes, 20); ma > 0 {
		f.MAPosition = (last/ma - 1) * 100
	}
	f.VolumeGrowth = indicators.VolumeGrowth(volume, 5, 20)
	return f
}

// Score is the weighted sum of f; higher is better. Traded value enters
// on a log scale and RSI is centred on 50.
func (w Weights) Score(f Factors) float64 {
	s := w.Volume*math.Log10(1+math.Max(f.TradedValue, 0)) +
		w.RSI*(f.RSI-50)/10 +
		w.PriceChange*f.PriceChange +
		w.VWMA*f.VWMAPosition +
		w.ATR*f.ATRPct +
		w.PrevChange*f.PrevChange +
		w.MA*f.MAPosition +
		w.VolumeGrowth*f.VolumeGrowth/100
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// Scored is a symbol with its score.
type Scored struct {
	Symbol  string  `json:"symbol"`
	Score   float64 `json:"score"`
	Factors Factors `json:"factors"`
}

// TickerSource lists 24h summaries of every market.
type TickerSource interface {
	Tickers(ctx context.Context) ([]market.Ticker, error)
}

// CandleSource loads OHLCV history.
type CandleSource interface {
	Candlesticks(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

// Selector ranks the universe on a fixed candle interval.
type Selector struct {
	Tickers  TickerSource
	Candles  CandleSource
	Weights  Weights
	Interval string
	// Universe bounds how many by-value symbols are scored per pass.
	Universe    int
	Concurrency int

	log *zap.Logger
}

func NewSelector(tickers TickerSource, candles CandleSource, interval string, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{
		Tickers:     tickers,
		Candles:     candles,
		Weights:     DefaultWeights(),
		Interval:    interval,
		Universe:    30,
		Concurrency: 4,
		log:         log.Named("selection"),
	}
}

// Rank scores symbols, best first. Symbols whose candles cannot be loaded
// are logged and left out.
func (s *Selector) Rank(ctx context.Context, symbols []string) ([]Scored, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))

	var mu sync.Mutex
	out := make([]Scored, 0, len(symbols))
	for _, sym := range symbols {
		g.Go(func() error {
			candles, err := s.Candles.Candlesticks(ctx, sym, s.Interval)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn("skip symbol, candles unavailable", zap.String("symbol", sym), zap.Error(err))
				return nil
			}
			f := ComputeFactors(candles)
			mu.Lock()
			out = append(out, Scored{Symbol: sym, Score: s.Weights.Score(f), Factors: f})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

// Top ranks the most traded markets and returns the best n symbols.
func (s *Selector) Top(ctx context.Context, n int) ([]string, error) {
	tickers, err := s.Tickers.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}
	ranked, err := s.Rank(ctx, TopByValue(tickers, s.Universe))
	if err != nil {
		return nil, err
	}
	if n > len(ranked) || n <= 0 {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = ranked[i].Symbol
	}
	return out, nil
}

// Groups is the content of an analysis report.
type Groups struct {
	Common        []string
	RisingShort   []string
	RisingLong    []string
	ShortInterval string
	LongInterval  string
}

// Analyze builds the report groups: symbols liquid and rising at once,
// then those rising with green candles on each interval.
func (s *Selector) Analyze(ctx context.Context, shortInterval, longInterval string, limit int) (Groups, error) {
	tickers, err := s.Tickers.Tickers(ctx)
	if err != nil {
		return Groups{}, fmt.Errorf("tickers: %w", err)
	}
	byValue := TopByValue(tickers, limit)
	byRise := TopByRiseRate(tickers, limit)
	g := Groups{
		Common:        Common(byValue, byRise, BaseValue),
		ShortInterval: shortInterval,
		LongInterval:  longInterval,
	}
	if len(g.Common) > 20 {
		g.Common = g.Common[:20]
	}
	if g.RisingShort, err = s.rising(ctx, byValue, shortInterval); err != nil {
		return g, err
	}
	if g.RisingLong, err = s.rising(ctx, byValue, longInterval); err != nil {
		return g, err
	}
	return g, nil
}

func (s *Selector) rising(ctx context.Context, symbols []string, interval string) ([]string, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	series := make(map[string][]market.Candle, len(symbols))
	var mu sync.Mutex
	for _, sym := range symbols {
		g.Go(func() error {
			candles, err := s.Candles.Candlesticks(ctx, sym, interval)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil
			}
			mu.Lock()
			series[sym] = candles
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return FilterRisingAndGreen(symbols, series, 3), nil
}
