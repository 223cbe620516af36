package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/api"
	"tradebot/internal/candles"
	"tradebot/internal/engine"
	"tradebot/internal/events"
	"tradebot/internal/history"
	"tradebot/internal/market"
	"tradebot/internal/monitor"
	"tradebot/internal/order"
	"tradebot/internal/persistence"
	"tradebot/internal/reconciliation"
	"tradebot/internal/risk"
	"tradebot/internal/selection"
	"tradebot/internal/state"
	"tradebot/internal/strategy"
	"tradebot/pkg/cache"
	"tradebot/pkg/config"
	"tradebot/pkg/db"
	"tradebot/pkg/exchanges/bithumb"
	bithumbmarket "tradebot/pkg/market/bithumb"
)

// mockUniverse seeds the random-walk feed when USE_MOCK_FEED is set.
var mockUniverse = map[string]float64{
	"BTC":  95_000_000,
	"ETH":  4_500_000,
	"XRP":  850,
	"SOL":  210_000,
	"DOGE": 230,
	"ADA":  650,
	"AVAX": 38_000,
	"LINK": 19_000,
}

// marketData is the public exchange surface shared by trading, candles
// and coin selection.
type marketData interface {
	order.MarketData
	selection.TickerSource
}

// app holds every long-lived component of the bot process.
type app struct {
	cfg *config.Config
	log *zap.Logger

	bus      *events.Bus
	prices   *cache.PriceCache
	md       marketData
	metrics  *monitor.SystemMetrics
	database *db.Database
	writer   *persistence.BatchWriter
	orch     *order.Orchestrator
	bot      *engine.Bot
	selector *selection.Selector
	sink     monitor.AlertSink
	reporter *monitor.Reporter
	watcher  *monitor.Monitor
	recon    *reconciliation.Service
	server   *api.Server

	venue string
}

// newMarket builds the public market data source and the ticker stream.
func newMarket(cfg *config.Config, prices *cache.PriceCache) (marketData, market.Subscriber, error) {
	if cfg.UseMockFeed {
		stream := market.NewMockStream(mockUniverse, time.Second, 0.003)
		return market.NewMockMarket(prices, stream), stream, nil
	}
	client, err := bithumbmarket.NewClient()
	if err != nil {
		return nil, nil, err
	}
	return client, bithumbmarket.NewStreamClient(), nil
}

func newAlertSink(cfg *config.Config, log *zap.Logger) monitor.AlertSink {
	if cfg.TelegramBotToken == "" && cfg.TelegramLongTermBotToken == "" {
		return monitor.LogSink{Log: log.Named("alerts")}
	}
	return monitor.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramLongTermBotToken, cfg.TelegramChatID)
}

func newStrategies(cfg *config.Config) (*strategy.Engine, error) {
	strat := strategy.NewEngine(strategy.NewTurtle(), strategy.NewChannelBreakout(5))
	if cfg.Trading.Strategy != "" {
		if err := strat.Use(cfg.Trading.Strategy); err != nil {
			return nil, err
		}
	}
	return strat, nil
}

func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		bus:     events.NewBus(),
		prices:  cache.NewPriceCache(),
		metrics: monitor.NewSystemMetrics(),
		venue:   "bithumb",
	}

	md, sub, err := newMarket(cfg, a.prices)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}
	a.md = md

	var gateway order.Gateway
	feeRate := order.DefaultFeeRate
	if cfg.DryRun {
		gateway = order.NewDryRunGateway(md, cfg.DryRunInitialKRW, order.DryRunSimConfig{
			FeeRate:             cfg.DryRunFeeRate,
			SlippageBps:         5,
			GatewayLatencyMinMs: 20,
			GatewayLatencyMaxMs: 120,
		}, log)
		feeRate = cfg.DryRunFeeRate
		a.venue = "bithumb-dry-run"
		log.Warn("dry run: orders are simulated, no exchange writes")
	} else {
		if cfg.BithumbAPIKey == "" || cfg.BithumbSecretKey == "" {
			return nil, fmt.Errorf("live trading needs BITHUMB_API_KEY and BITHUMB_SECRET_KEY")
		}
		gateway = order.NewLiveGateway(md, bithumb.New(bithumb.Config{
			APIKey:    cfg.BithumbAPIKey,
			SecretKey: cfg.BithumbSecretKey,
		}))
	}

	a.database, err = db.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.ApplyMigrations(a.database); err != nil {
		_ = a.database.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.DBPath, err)
	}
	a.writer = persistence.NewBatchWriter(a.database.DB, 50, 500*time.Millisecond, log)
	archive := history.NewSQLiteSink(a.database, a.writer)
	trades := history.NewLog(archive)

	a.sink = newAlertSink(cfg, log)
	notifier := monitor.Notifier{Sink: a.sink, Channel: monitor.ShortTerm, Log: log}

	rules := risk.Rules{
		StopLossPct:          cfg.Trading.StopLossPct,
		TrailingStopPct:      cfg.Trading.TrailingStopPct,
		TrailingStopFraction: cfg.Trading.TrailingStopFraction,
		ProfitTargetPct:      cfg.Trading.ProfitTargetPct,
		ProfitTargetFraction: cfg.Trading.ProfitTargetFraction,
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("risk rules: %w", err)
	}

	ledger := state.NewLedger()
	tracker := risk.NewTracker()
	feed := market.NewFeed(sub, a.bus, cfg.StreamMaxRetry, log)

	var positions *risk.Monitor
	a.orch = order.New(order.Config{
		Gateway:  gateway,
		Ledger:   ledger,
		Bus:      a.bus,
		History:  trades,
		Tracker:  tracker,
		Notifier: notifier,
		Streams:  feed,
		Rules:    func() risk.Rules { return positions.Rules() },
		Settings: order.Settings{
			PerTradeKRW:    cfg.Trading.PerTradeKRW,
			SplitSellLimit: cfg.Trading.SplitSellLimit,
			FeeRate:        feeRate,
		},
		Logger: log,
	})
	positions = risk.NewMonitor(a.bus, ledger, a.orch, rules, log)
	a.recon = reconciliation.NewService(gateway, ledger, a.orch, notifier, 5*time.Minute, log)

	store, err := candles.NewStore(md, cfg.Trading.Timeframe)
	if err != nil {
		return nil, err
	}
	strat, err := newStrategies(cfg)
	if err != nil {
		return nil, err
	}
	a.selector = selection.NewSelector(md, md, cfg.Trading.Timeframe, log)

	a.bot = engine.New(engine.Config{
		Orchestrator: a.orch,
		Ledger:       ledger,
		Feed:         feed,
		Candles:      store,
		CandleSource: md,
		Prices:       a.prices,
		Risk:         positions,
		Strategies:   strat,
		Selector:     a.selector,
		History:      trades,
		Archive:      archive,
		Tracker:      tracker,
		Bus:          a.bus,
		Notifier:     notifier,
		Metrics:      a.metrics,
		Logger:       log,
		Trading:      cfg.Trading,
		DryRun:       cfg.DryRun,
	})

	a.watcher = &monitor.Monitor{
		Bus:     a.bus,
		Sink:    a.sink,
		Surge:   monitor.NewSurgeDetector(0.05, 3),
		Metrics: a.metrics,
		Log:     log,

		Tickers:       md,
		UniverseSize:  100,
		ScanInterval:  30 * time.Second,
		UniverseSurge: monitor.NewSurgeDetector(0.05, 3),
	}
	a.reporter = &monitor.Reporter{Analyzer: a.selector, Sink: a.sink, Limit: 20, Log: log}

	a.server = api.NewServer(a.bot, a.bus, a.metrics, api.SystemMeta{
		DryRun:      cfg.DryRun,
		Venue:       a.venue,
		UseMockFeed: cfg.UseMockFeed,
		Version:     version,
	}, cfg.APIKey, log)
	return a, nil
}

// start launches the background loops bound to ctx.
func (a *app) start(ctx context.Context) {
	a.bot.Start(ctx)
	a.watcher.Start(ctx)
	a.recon.Start(ctx)
	go a.reporter.Schedule(ctx, monitor.LongTerm, time.Hour)
	go a.reporter.Schedule(ctx, monitor.ShortTerm, 10*time.Minute)
}

// close stops trading and flushes storage. Steps run even when an
// earlier one fails; the first error is returned.
func (a *app) close(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(a.bot.StopAll(ctx))
	keep(a.orch.Wait(ctx))
	keep(a.writer.Close())
	keep(a.database.Close())
	a.bus.Close()
	return first
}
