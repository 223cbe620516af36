package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Channel selects which Telegram bot a message goes through.
type Channel string

const (
	ShortTerm Channel = "short-term"
	LongTerm  Channel = "long-term"
)

var ErrNoToken = errors.New("telegram token not configured")

// AlertSink delivers a message to a channel.
type AlertSink interface {
	Send(ctx context.Context, ch Channel, text string) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts Markdown messages to one chat through a bot per
// channel. Bots are created on first use.
type TelegramSink struct {
	tokens map[Channel]string
	chatID int64

	mu      sync.Mutex
	bots    map[Channel]sender
	connect func(token string) (sender, error)
}

func NewTelegramSink(shortToken, longToken string, chatID int64) *TelegramSink {
	return &TelegramSink{
		tokens: map[Channel]string{ShortTerm: shortToken, LongTerm: longToken},
		chatID: chatID,
		bots:   make(map[Channel]sender),
		connect: func(token string) (sender, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

// Enabled reports whether ch has a token.
func (t *TelegramSink) Enabled(ch Channel) bool {
	return t.tokens[ch] != "" && t.chatID != 0
}

func (t *TelegramSink) bot(ch Channel) (sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[ch]; ok {
		return b, nil
	}
	if !t.Enabled(ch) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, ch)
	}
	b, err := t.connect(t.tokens[ch])
	if err != nil {
		return nil, fmt.Errorf("telegram %s bot: %w", ch, err)
	}
	t.bots[ch] = b
	return b, nil
}

func (t *TelegramSink) Send(ctx context.Context, ch Channel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := t.bot(ch)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := b.Send(msg); err != nil {
		return fmt.Errorf("telegram send %s: %w", ch, err)
	}
	return nil
}

// LogSink writes alerts to the log; used when Telegram is not configured.
type LogSink struct {
	Log *zap.Logger
}

func (l LogSink) Send(_ context.Context, ch Channel, text string) error {
	l.Log.Info("alert", zap.String("channel", string(ch)), zap.String("text", text))
	return nil
}

// Notifier binds a sink to one channel. Delivery is best effort: failures
// are logged and never reach the caller.
type Notifier struct {
	Sink    AlertSink
	Channel Channel
	Log     *zap.Logger
}

func (n Notifier) Notify(ctx context.Context, text string) {
	if n.Sink == nil {
		return
	}
	if err := n.Sink.Send(ctx, n.Channel, text); err != nil && n.Log != nil {
		n.Log.Warn("alert delivery failed", zap.String("channel", string(n.Channel)), zap.Error(err))
	}
}

// TradingViewLink renders a Markdown link to the coin's KRW chart.
func TradingViewLink(coin string) string {
	coin = strings.ToUpper(coin)
	return fmt.Sprintf("[%s](https://kr.tradingview.com/chart/m0kspXtg/?symbol=BITHUMB%%3A%sKRW)", coin, coin)
}

// Group is a titled list of coins in a report.
type Group struct {
	Title string
	Coins []string
}

// Report renders the analysis message sent to the channels.
func Report(title string, groups []Group) string {
	sections := make([]string, 0, len(groups))
	for _, g := range groups {
		links := make([]string, len(g.Coins))
		for i, c := range g.Coins {
			links[i] = TradingViewLink(c)
		}
		sections = append(sections, fmt.Sprintf("*%s*\n%s\n", g.Title, strings.Join(links, ", ")))
	}
	header := "🐅 " + title + "\n" + strings.Repeat("🐅\n", 4)
	footer := strings.Repeat("🐅\n", 5)
	return header + "\n\n" + strings.Join(sections, "\n") + "\n\n" + footer
}
