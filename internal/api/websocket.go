package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradebot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are pushed to /ws clients unless ?events= narrows them.
var streamedEvents = []events.Event{
	events.EventOrderSubmitted,
	events.EventOrderRejected,
	events.EventOrderFilled,
	events.EventPositionOpened,
	events.EventPositionClosed,
	events.EventTradeRecorded,
	events.EventRiskAlert,
	events.EventSuddenChange,
	events.EventStreamState,
}

type wsMessage struct {
	Type events.Event `json:"type"`
	Data any          `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// The connection outlives the request timeout.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	out := make(chan wsMessage, 64)
	for _, e := range wsEvents(c.Query("events")) {
		stream, unsub := s.Bus.Subscribe(e, 64)
		defer unsub()
		go func() {
			for msg := range stream {
				select {
				case out <- wsMessage{Type: e, Data: msg}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}

func wsEvents(filter string) []events.Event {
	if filter == "" {
		return streamedEvents
	}
	var out []events.Event
	for _, name := range strings.Split(filter, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, events.Event(name))
		}
	}
	return out
}
