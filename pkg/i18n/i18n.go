package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangKO Language = "ko"
)

// Messages holds every user-facing string; most are fmt templates.
type Messages struct {
	// System
	Starting        string
	ConfigLoaded    string
	ServerListening string
	ShuttingDown    string
	DryRunMode      string
	TradingStarted  string
	TradingStopped  string

	// Orders
	BuySubmitted   string
	BuyFilled      string
	BuyFillMissing string
	BuyRejected    string
	SellFilled     string
	SellRejected   string
	SellPassed     string

	// Holdings
	HoldingAdded    string
	HoldingRemoved  string
	HoldingNotFound string

	// Signals
	EntrySignal string
	ExitSignal  string

	// Market
	SurgeAlert    string
	StreamLost    string
	ReportLong    string
	ReportShort   string
	GroupCommon   string
	GroupRising   string
	HistoryHeader string
	HistoryBuy    string
	HistorySell   string
}

var (
	currentLang Language = LangKO
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:        "starting trading bot",
	ConfigLoaded:    "config loaded (port %s, timeframe %s)",
	ServerListening: "api listening on %s",
	ShuttingDown:    "shutting down",
	DryRunMode:      "DRY RUN: orders are simulated, no exchange writes",
	TradingStarted:  "🏁 trading started: %d symbols, timeframe %s",
	TradingStopped:  "🛑 trading stopped",

	BuySubmitted:   "🚀 %s buy order submitted\nunits: %s\nreason: %s\norder: %s",
	BuyFilled:      "✅ %s bought at %s KRW\nunits: %s\nstop loss: %s\ntrailing stop: %s",
	BuyFillMissing: "⚠️ %s buy accepted (order %s) but no fill detail; position is unpriced",
	BuyRejected:    "❌ %s buy rejected: %s",
	SellFilled:     "💰 %s sold %s units at %s KRW\nprofit: %.2f%%\nreason: %s",
	SellRejected:   "❌ %s sell rejected: %s",
	SellPassed:     "%s split sell limit reached, sell passed",

	HoldingAdded:    "%s add to holding coin and active symbols and started trading",
	HoldingRemoved:  "%s removed from holding coins",
	HoldingNotFound: "%s is not in holding coins",

	EntrySignal: "🚀 %s buy signal! 🚀\n\n%s",
	ExitSignal:  "🚀 %s sell signal!\n\n%s🚀",

	SurgeAlert:    "⚡ %s moved %+.2f%% on %.1fx volume (price %s)",
	StreamLost:    "📡 %s price stream abandoned: %s",
	ReportLong:    "Sustainability - Long Term",
	ReportShort:   "Sustainability - Short Term",
	GroupCommon:   "🔥 *Volume + Rise* 🔥",
	GroupRising:   "🟢 %s rising + green candles 🟢",
	HistoryHeader: "%s:",
	HistoryBuy:    "  - Buy at %s on %s",
	HistorySell:   "  - Sell at %s on %s",
}

// Korean messages
var messagesKO = Messages{
	Starting:        "트레이딩 봇 시작",
	ConfigLoaded:    "설정 로드 완료 (포트 %s, 타임프레임 %s)",
	ServerListening: "API 서버 대기 중: %s",
	ShuttingDown:    "종료 중",
	DryRunMode:      "DRY RUN: 주문은 시뮬레이션되며 거래소로 전송되지 않습니다",
	TradingStarted:  "🏁 트레이딩 시작: %d개 종목, 타임프레임 %s",
	TradingStopped:  "🛑 트레이딩 중지",

	BuySubmitted:   "🚀 %s 매수 주문 접수\n수량: %s\n사유: %s\n주문번호: %s",
	BuyFilled:      "✅ %s 매수 체결 %s원\n수량: %s\n손절가: %s\n트레일링 스탑: %s",
	BuyFillMissing: "⚠️ %s 매수 주문(%s)은 접수되었으나 체결 정보가 없습니다",
	BuyRejected:    "❌ %s 매수 실패: %s",
	SellFilled:     "💰 %s 매도 체결 %s개, %s원\n수익률: %.2f%%\n사유: %s",
	SellRejected:   "❌ %s 매도 실패: %s",
	SellPassed:     "%s 분할 매도 횟수 초과, 매도 건너뜀",

	HoldingAdded:    "%s add to holding coin and active symbols and started trading",
	HoldingRemoved:  "%s removed from holding coins",
	HoldingNotFound: "%s is not in holding coins",

	EntrySignal: "🚀 %s 매수 시그널 발생! 🚀\n\n%s",
	ExitSignal:  "🚀 %s 매도 시그널 발생!\n\n%s🚀",

	SurgeAlert:    "⚡ %s 급변동 %+.2f%%, 거래량 %.1f배 (가격 %s)",
	StreamLost:    "📡 %s 시세 스트림 재연결 포기: %s",
	ReportLong:    "Sustainability - Long Term",
	ReportShort:   "Sustainability - Short Term",
	GroupCommon:   "🔥 *거래량 + 상승률* 🔥",
	GroupRising:   "🟢 %s 지속 상승 + 양봉 🟢",
	HistoryHeader: "%s:",
	HistoryBuy:    "  - Buy at %s on %s",
	HistorySell:   "  - Sell at %s on %s",
}

func init() {
	messages = &messagesKO
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangEN:
		messages = &messagesEN
	default:
		currentLang = LangKO
		messages = &messagesKO
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
