package engine

import (
	"time"

	"tradebot/internal/monitor"
	"tradebot/internal/order"
	"tradebot/internal/risk"
	"tradebot/internal/state"
)

// RunRequest starts the interval scheduler. Without symbols the working
// set follows the selector's top ranking.
type RunRequest struct {
	Symbols     []string `json:"symbols"`
	Timeframe   string   `json:"timeframe"`
	StopLossPct float64  `json:"stopLossPercent"`
}

// Status is a snapshot of the bot for the operator.
type Status struct {
	Running               bool                    `json:"running"`
	Timeframe             string                  `json:"timeframe"`
	DryRun                bool                    `json:"dryRun"`
	ActiveSymbols         []string                `json:"activeSymbols"`
	StreamingSymbols      []string                `json:"streamingSymbols"`
	InterestSymbols       []string                `json:"interestSymbols"`
	HoldingCoins          []state.Position        `json:"holdingCoins"`
	InTradingProcessCoins []string                `json:"inTradingProcessCoins"`
	HoldingLimit          int                     `json:"holdingLimit"`
	TopN                  int                     `json:"topN"`
	Settings              order.Settings          `json:"settings"`
	Rules                 risk.Rules              `json:"rules"`
	Performance           risk.Metrics            `json:"performance"`
	Prices                map[string]float64      `json:"prices"`
	LastScan              time.Time               `json:"lastScan,omitempty"`
	System                monitor.MetricsSnapshot `json:"system"`
	ServerTime            time.Time               `json:"serverTime"`
}
