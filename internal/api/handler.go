package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tradebot/internal/engine"
	"tradebot/internal/events"
	"tradebot/internal/monitor"
)

// Server wires HTTP endpoints around the trading bot.
type Server struct {
	Router  *gin.Engine
	Bot     engine.Service
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	APIKey  string
	Meta    SystemMeta

	log *zap.Logger
}

// SystemMeta describes the runtime reported by /health.
type SystemMeta struct {
	DryRun      bool   `json:"dryRun"`
	Venue       string `json:"venue"`
	UseMockFeed bool   `json:"useMockFeed"`
	Version     string `json:"version"`
}

func NewServer(bot engine.Service, bus *events.Bus, metrics *monitor.SystemMetrics, meta SystemMeta, apiKey string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitor.NewSystemMetrics()
	}
	log = log.Named("api")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50)))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Bot:     bot,
		Bus:     bus,
		Metrics: metrics,
		APIKey:  apiKey,
		Meta:    meta,
		log:     log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/signal/turtle/:symbol", s.turtleSignal)

	protected := s.Router.Group("")
	protected.Use(APIKeyMiddleware(s.APIKey))
	protected.GET("/ws", s.websocket)
	protected.POST("/webhook/tradingview", s.tradingViewWebhook)

	trade := protected.Group("/trade")
	{
		trade.POST("/run", s.run)
		trade.POST("/stop-all", s.stopAll)
		trade.POST("/stop-symbol", s.stopSymbol)
		trade.GET("/status", s.status)
		trade.GET("/history/:symbol", s.history)

		trade.POST("/set-available-krw", s.setAvailableKRW)
		trade.POST("/set-profit-target", s.setProfitTarget)
		trade.POST("/set-stop-loss", s.setStopLoss)
		trade.POST("/set-trailing-stop", s.setTrailingStop)
		trade.POST("/set-holding-limit", s.setHoldingLimit)
		trade.POST("/set-split-sell-limit", s.setSplitSellLimit)

		trade.POST("/add-holding", s.addHolding)
		trade.POST("/remove-holding", s.removeHolding)
		trade.POST("/add-active-symbol", s.addActiveSymbol)
		trade.POST("/reselect", s.reselect)

		trade.POST("/buy", s.buy)
		trade.POST("/sell", s.sell)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"meta":    s.Meta,
		"metrics": s.Metrics.GetSnapshot(),
	})
}

// HTTPServer wraps the router for graceful shutdown by the caller.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
