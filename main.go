package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradebot/internal/backtest"
	"tradebot/internal/engine"
	"tradebot/internal/monitor"
	"tradebot/internal/order"
	"tradebot/internal/risk"
	"tradebot/internal/selection"
	"tradebot/pkg/cache"
	"tradebot/pkg/config"
	"tradebot/pkg/i18n"
	"tradebot/pkg/logger"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "tradebot",
		Short:         "Bithumb KRW spot trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), analyzeCmd(), signalCmd(), backtestCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.File = cfg.LogFile
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	var (
		autoRun bool
		symbols []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, price monitor and trading scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			log.Info(i18n.M().Starting, zap.String("version", version))
			log.Info(fmt.Sprintf(i18n.M().ConfigLoaded, cfg.Port, cfg.Trading.Timeframe))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gin.SetMode(gin.ReleaseMode)
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			a.start(ctx)

			if autoRun {
				req := engine.RunRequest{Symbols: symbols, Timeframe: cfg.Trading.Timeframe}
				if err := a.bot.Run(ctx, req); err != nil {
					log.Error("auto run failed", zap.Error(err))
				}
			}

			srv := a.server.HTTPServer(":" + cfg.Port)
			serveErr := make(chan error, 1)
			go func() {
				log.Info(fmt.Sprintf(i18n.M().ServerListening, srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				log.Error("api server failed", zap.Error(err))
			}
			log.Info(i18n.M().ShuttingDown)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("api shutdown", zap.Error(err))
			}
			return a.close(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&autoRun, "run", false, "start the trading scheduler on boot")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to trade with --run (default: top selection)")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		channel string
		send    bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Build the coin analysis report (long-term or short-term)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ch := monitor.Channel(channel)
			if ch != monitor.ShortTerm && ch != monitor.LongTerm {
				return fmt.Errorf("unknown channel %q", channel)
			}
			md, _, err := newMarket(cfg, cache.NewPriceCache())
			if err != nil {
				return err
			}
			reporter := &monitor.Reporter{
				Analyzer: selection.NewSelector(md, md, cfg.Trading.Timeframe, log),
				Sink:     newAlertSink(cfg, log),
				Limit:    20,
				Log:      log,
			}
			if send {
				return reporter.Send(cmd.Context(), ch)
			}
			text, err := reporter.Build(cmd.Context(), ch)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", string(monitor.LongTerm), "report channel: long-term or short-term")
	cmd.Flags().BoolVar(&send, "send", false, "deliver the report instead of printing it")
	return cmd
}

func signalCmd() *cobra.Command {
	var (
		strategyName string
		timeframe    string
	)
	cmd := &cobra.Command{
		Use:   "signal SYMBOL",
		Short: "Print the strategy signals of a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			md, _, err := newMarket(cfg, cache.NewPriceCache())
			if err != nil {
				return err
			}
			strat, err := newStrategies(cfg)
			if err != nil {
				return err
			}
			if strategyName == "" {
				strategyName = strat.Active()
			}
			if timeframe == "" {
				timeframe = cfg.Trading.Timeframe
			}
			symbol := strings.ToUpper(args[0])
			series, err := md.Candlesticks(cmd.Context(), symbol, timeframe)
			if err != nil {
				return err
			}
			analysis, err := strat.AnalyzeWith(strategyName, symbol, series)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "strategy name (turtle, channel)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "candle interval, e.g. 1h")
	return cmd
}

func backtestCmd() *cobra.Command {
	var (
		strategyName string
		timeframe    string
		from, to     string
		perTrade     float64
	)
	cmd := &cobra.Command{
		Use:   "backtest [SYMBOL...]",
		Short: "Replay candle history through the strategy and exit rules",
		Long:  "Replay candle history through the strategy and exit rules. Without symbols the top 100 by traded value are used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			md, _, err := newMarket(cfg, cache.NewPriceCache())
			if err != nil {
				return err
			}
			strat, err := newStrategies(cfg)
			if err != nil {
				return err
			}
			if timeframe == "" {
				timeframe = cfg.Trading.Timeframe
			}
			bcfg := backtest.Config{
				Loader:     md,
				Tickers:    md,
				Strategies: strat,
				Strategy:   strategyName,
				Timeframe:  timeframe,
				Rules: risk.Rules{
					StopLossPct:          cfg.Trading.StopLossPct,
					TrailingStopPct:      cfg.Trading.TrailingStopPct,
					TrailingStopFraction: cfg.Trading.TrailingStopFraction,
					ProfitTargetPct:      cfg.Trading.ProfitTargetPct,
					ProfitTargetFraction: cfg.Trading.ProfitTargetFraction,
				},
				SplitSellLimit: cfg.Trading.SplitSellLimit,
				PerTradeKRW:    perTrade,
				FeeRate:        order.DefaultFeeRate,
				Log:            log,
			}
			if bcfg.From, err = parseDay(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if bcfg.To, err = parseDay(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			runner, err := backtest.New(bcfg)
			if err != nil {
				return err
			}
			report, err := runner.Run(cmd.Context(), args)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&strategyName, "strategy", "", "strategy name (turtle, channel)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "candle interval, e.g. 1h")
	cmd.Flags().StringVar(&from, "from", "", "first trading day, YYYY-MM-DD or RFC3339")
	cmd.Flags().StringVar(&to, "to", "", "last trading time, YYYY-MM-DD or RFC3339")
	cmd.Flags().Float64Var(&perTrade, "per-trade", 0, "KRW spent per entry (0 buys one unit)")
	return cmd
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, time.Local)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tradebot version %s\n", version)
		},
	}
}
