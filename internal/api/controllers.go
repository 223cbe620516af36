package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tradebot/internal/engine"
	"tradebot/internal/order"
	"tradebot/internal/strategy"
	"tradebot/pkg/i18n"
)

const defaultReason = "user request"

type runRequest struct {
	Symbols     []string `form:"symbols" json:"symbols"`
	Timeframe   string   `form:"timeframe" json:"timeframe"`
	StopLossPct float64  `form:"stopLossPercent" json:"stopLossPercent" binding:"gte=0,lt=1"`
}

type symbolRequest struct {
	Symbol string `form:"symbol" json:"symbol" binding:"required"`
}

type symbolsRequest struct {
	Symbols []string `form:"symbols" json:"symbols" binding:"required,min=1"`
}

type addHoldingRequest struct {
	Symbol         string  `form:"symbol" json:"symbol" binding:"required"`
	Units          float64 `form:"units" json:"units" binding:"gt=0"`
	BuyPrice       float64 `form:"buyPrice" json:"buyPrice" binding:"gte=0"`
	SplitSellCount int     `form:"splitSellCount" json:"splitSellCount" binding:"gte=0"`
}

type buyRequest struct {
	Symbol string `form:"symbol" json:"symbol" binding:"required"`
	Reason string `form:"reason" json:"reason"`
}

type sellRequest struct {
	Symbol string   `form:"symbol" json:"symbol" binding:"required"`
	Amount *float64 `form:"amount" json:"amount"`
	Reason string   `form:"reason" json:"reason"`
}

type availableKRWRequest struct {
	KRW float64 `form:"krw" json:"krw" binding:"gt=0"`
}

type profitTargetRequest struct {
	Profit *float64 `form:"profit" json:"profit"`
	Amount *float64 `form:"amount" json:"amount"`
}

type trailingStopRequest struct {
	Percent  *float64 `form:"percent" json:"percent"`
	Fraction *float64 `form:"fraction" json:"fraction"`
}

type stopLossRequest struct {
	StopLoss float64 `form:"stopLoss" json:"stopLoss" binding:"gt=0"`
}

type limitRequest struct {
	Limit *int `form:"limit" json:"limit" binding:"required"`
}

type historyQuery struct {
	Limit int `form:"limit"`
}

func (q *historyQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// tradingViewAlert is the webhook payload configured in a TradingView alert.
type tradingViewAlert struct {
	Symbol    string  `json:"symbol" binding:"required"`
	Action    string  `json:"action" binding:"required"`
	Timeframe string  `json:"timeframe"`
	Quantity  float64 `json:"quantity"`
	Price     float64 `json:"price"`
	Reason    string  `json:"reason"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func bindRequest(c *gin.Context, req any) bool {
	if err := c.ShouldBind(req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}

// resultStatus maps a trading intent result onto an HTTP status.
func resultStatus(res order.Result) int {
	switch {
	case res.OK(), res.Status == order.StatusPassed:
		return http.StatusOK
	case res.Status == order.StatusInProgress, errors.Is(res.Err, order.ErrHeld):
		return http.StatusConflict
	case errors.Is(res.Err, order.ErrNotHeld):
		return http.StatusNotFound
	case errors.Is(res.Err, order.ErrRejected):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) run(c *gin.Context) {
	var req runRequest
	if !bindRequest(c, &req) {
		return
	}
	err := s.Bot.Run(c.Request.Context(), engine.RunRequest{
		Symbols:     req.Symbols,
		Timeframe:   req.Timeframe,
		StopLossPct: req.StopLossPct,
	})
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", err.Error())
	case errors.Is(err, engine.ErrInvalid):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case err != nil:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "trading started", "timeframe": s.Bot.Status().Timeframe})
	}
}

func (s *Server) stopAll(c *gin.Context) {
	if err := s.Bot.StopAll(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "trading stopped"})
}

func (s *Server) stopSymbol(c *gin.Context) {
	var req symbolRequest
	if !bindRequest(c, &req) {
		return
	}
	symbol := strings.ToUpper(req.Symbol)
	if err := s.Bot.StopSymbol(symbol); err != nil {
		respondError(c, http.StatusNotFound, "NOT_ACTIVE", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("%s trading stopped", symbol)})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.Bot.Status())
}

func (s *Server) history(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()
	symbol := strings.ToUpper(c.Param("symbol"))
	recs, err := s.Bot.History(c.Request.Context(), symbol, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "records": recs})
}

func (s *Server) setAvailableKRW(c *gin.Context) {
	var req availableKRWRequest
	if !bindRequest(c, &req) {
		return
	}
	if err := s.Bot.SetPerTradeKRW(req.KRW); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": fmt.Sprintf("available krw to each trade is set to %v", req.KRW)})
}

func (s *Server) setProfitTarget(c *gin.Context) {
	var req profitTargetRequest
	if !bindRequest(c, &req) {
		return
	}
	rules := s.Bot.Status().Rules
	if req.Profit != nil {
		rules.ProfitTargetPct = *req.Profit
	}
	if req.Amount != nil {
		rules.ProfitTargetFraction = *req.Amount
	}
	if err := s.Bot.SetProfitTarget(rules.ProfitTargetPct, rules.ProfitTargetFraction); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "profit target set successfully",
		"profit": rules.ProfitTargetPct,
		"amount": rules.ProfitTargetFraction,
	})
}

func (s *Server) setTrailingStop(c *gin.Context) {
	var req trailingStopRequest
	if !bindRequest(c, &req) {
		return
	}
	rules := s.Bot.Status().Rules
	if req.Percent != nil {
		rules.TrailingStopPct = *req.Percent
	}
	if req.Fraction != nil {
		rules.TrailingStopFraction = *req.Fraction
	}
	if err := s.Bot.SetTrailingStop(rules.TrailingStopPct, rules.TrailingStopFraction); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "trailing stop set successfully",
		"percent":  rules.TrailingStopPct,
		"fraction": rules.TrailingStopFraction,
	})
}

func (s *Server) setStopLoss(c *gin.Context) {
	var req stopLossRequest
	if !bindRequest(c, &req) {
		return
	}
	if err := s.Bot.SetStopLoss(req.StopLoss); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stop loss set successfully", "stopLoss": req.StopLoss})
}

func (s *Server) setHoldingLimit(c *gin.Context) {
	var req limitRequest
	if !bindRequest(c, &req) {
		return
	}
	if err := s.Bot.SetHoldingLimit(*req.Limit); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "holding limit set successfully", "limit": *req.Limit})
}

func (s *Server) setSplitSellLimit(c *gin.Context) {
	var req limitRequest
	if !bindRequest(c, &req) {
		return
	}
	if err := s.Bot.SetSplitSellLimit(*req.Limit); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "split sell limit set successfully", "limit": *req.Limit})
}

func (s *Server) addHolding(c *gin.Context) {
	var req addHoldingRequest
	if !bindRequest(c, &req) {
		return
	}
	res := s.Bot.AddHolding(req.Symbol, req.Units, req.BuyPrice, req.SplitSellCount)
	if res.OK() {
		s.Bot.AddInterest(res.Symbol)
	}
	c.JSON(resultStatus(res), res)
}

func (s *Server) removeHolding(c *gin.Context) {
	var req symbolRequest
	if !bindRequest(c, &req) {
		return
	}
	res := s.Bot.RemoveHolding(req.Symbol)
	if errors.Is(res.Err, order.ErrNotHeld) {
		respondError(c, http.StatusNotFound, "NOT_HELD", fmt.Sprintf(i18n.M().HoldingNotFound, res.Symbol))
		return
	}
	if res.OK() {
		s.Bot.RemoveInterest(res.Symbol)
	}
	c.JSON(resultStatus(res), res)
}

func (s *Server) addActiveSymbol(c *gin.Context) {
	var req symbolsRequest
	if !bindRequest(c, &req) {
		return
	}
	active := s.Bot.Status().InterestSymbols
	added, already := []string{}, []string{}
	for _, sym := range req.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if slices.Contains(active, sym) || slices.Contains(added, sym) {
			already = append(already, sym)
			continue
		}
		s.Bot.AddInterest(sym)
		added = append(added, sym)
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "alreadyActive": already})
}

func (s *Server) reselect(c *gin.Context) {
	symbols, err := s.Bot.Reselect(c.Request.Context())
	switch {
	case errors.Is(err, engine.ErrNoSelector):
		respondError(c, http.StatusServiceUnavailable, "NO_SELECTOR", err.Error())
		return
	case err != nil:
		respondError(c, http.StatusBadGateway, "SELECTION_FAILED", err.Error())
		return
	}
	held := []string{}
	for _, p := range s.Bot.Status().HoldingCoins {
		held = append(held, p.Symbol)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "active symbols refreshed",
		"activeSymbols": symbols,
		"holdingCoins":  held,
	})
}

func (s *Server) buy(c *gin.Context) {
	var req buyRequest
	if !bindRequest(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = defaultReason
	}
	res := s.Bot.Buy(c.Request.Context(), req.Symbol, req.Reason)
	c.JSON(resultStatus(res), res)
}

func (s *Server) sell(c *gin.Context) {
	var req sellRequest
	if !bindRequest(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = defaultReason
	}
	amount := 1.0
	if req.Amount != nil {
		amount = *req.Amount
	}
	res := s.Bot.Sell(c.Request.Context(), req.Symbol, amount, req.Reason)
	c.JSON(resultStatus(res), res)
}

func (s *Server) turtleSignal(c *gin.Context) {
	a, err := s.Bot.Analyze(c.Request.Context(), "turtle", c.Param("symbol"), c.Query("timeframe"))
	switch {
	case errors.Is(err, engine.ErrInvalid), errors.Is(err, strategy.ErrUnknownStrategy):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case err != nil:
		respondError(c, http.StatusBadGateway, "MARKET_DATA_UNAVAILABLE", err.Error())
	default:
		c.JSON(http.StatusOK, a)
	}
}

func (s *Server) tradingViewWebhook(c *gin.Context) {
	var alert tradingViewAlert
	if err := c.ShouldBindJSON(&alert); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "INVALID_ALERT", err.Error())
		return
	}
	reason := "TradingView Signal"
	if alert.Reason != "" {
		reason += ": " + alert.Reason
	}
	s.log.Info("tradingview alert",
		zap.String("symbol", alert.Symbol),
		zap.String("action", alert.Action),
		zap.String("timeframe", alert.Timeframe),
		zap.Float64("price", alert.Price))

	var res order.Result
	switch strings.ToLower(alert.Action) {
	case "buy":
		res = s.Bot.Buy(c.Request.Context(), alert.Symbol, reason)
	case "sell":
		res = s.Bot.Sell(c.Request.Context(), alert.Symbol, 1, reason)
	default:
		respondError(c, http.StatusUnprocessableEntity, "INVALID_ALERT", fmt.Sprintf("unknown action %q", alert.Action))
		return
	}
	if !res.OK() {
		c.JSON(resultStatus(res), gin.H{"code": "ORDER_FAILED", "error": res.Message, "result": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": res.Message, "result": res})
}
