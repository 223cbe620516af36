package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultStreamURL = "wss://pubwss.bithumb.com/pub/ws"

// ErrStreamClosed is delivered on the error channel when the server ends the stream.
var ErrStreamClosed = errors.New("bithumb ws closed")

var kst = time.FixedZone("KST", 9*60*60)

// StreamClient manages ticker streaming from Bithumb public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client for the public endpoint.
func NewStreamClient() *StreamClient {
	return &StreamClient{
		StreamURL: defaultStreamURL,
		dialer:    websocket.DefaultDialer,
	}
}

// Subscription is a live ticker stream. Ticks closes when the stream ends;
// Err then reports why (nil when stopped by the caller).
type Subscription struct {
	Ticks <-chan Tick
	Stop  func()

	mu  sync.Mutex
	err error
}

// Err returns the terminal error of the stream, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type subscribeRequest struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	TickTypes []string `json:"tickTypes"`
}

// SubscribeTicker opens a connection for symbol and pushes parsed ticks.
func (c *StreamClient) SubscribeTicker(ctx context.Context, symbol string) (*Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bithumb ws: %w", err)
	}

	req := subscribeRequest{
		Type:      "ticker",
		Symbols:   []string{strings.ToUpper(symbol) + "_KRW"},
		TickTypes: []string{"MID"},
	}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe bithumb ws %s: %w", symbol, err)
	}

	out := make(chan Tick, 100)
	sub := &Subscription{Ticks: out}
	var once sync.Once
	sub.Stop = func() {
		once.Do(func() {
			// Ignore errors; connection may already be closed.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer sub.Stop()
		stopOnCancel := context.AfterFunc(ctx, sub.Stop)
		defer stopOnCancel()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					sub.setErr(ErrStreamClosed)
					return
				}
				sub.setErr(fmt.Errorf("bithumb ws read: %w", err))
				return
			}

			tick, ok, err := ParseTickerMessage(msg)
			if err != nil || !ok {
				// Control frames ("Connected Successfully") and malformed payloads are skipped.
				continue
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// ParseTickerMessage decodes a ticker push. ok is false for status frames.
func ParseTickerMessage(msg []byte) (Tick, bool, error) {
	var env struct {
		Type    string         `json:"type"`
		Content map[string]any `json:"content"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Tick{}, false, err
	}
	if env.Content == nil {
		return Tick{}, false, nil
	}

	c := env.Content
	symbol, _ := c["symbol"].(string)
	symbol = strings.TrimSuffix(symbol, "_KRW")

	ts := time.Now()
	date, _ := c["date"].(string)
	clock, _ := c["time"].(string)
	if parsed, err := time.ParseInLocation("20060102150405", date+clock, kst); err == nil {
		ts = parsed
	}

	return Tick{
		Symbol:    symbol,
		Time:      ts.UnixMilli(),
		Open:      toFloat(c["openPrice"]),
		Close:     toFloat(c["closePrice"]),
		High:      toFloat(c["highPrice"]),
		Low:       toFloat(c["lowPrice"]),
		Volume:    toFloat(c["volume"]),
		ChangePct: toFloat(c["chgRate"]),
	}, true, nil
}
