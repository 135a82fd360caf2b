package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/internal/uuid"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Session is one authenticated WebSocket connection.
type Session struct {
	ID        string
	Principal auth.Principal

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *windowLimiter

	// guarded by hub.mu
	rooms  map[string]struct{}
	closed bool
}

func newSession(h *Hub, conn *websocket.Conn, p auth.Principal) *Session {
	return &Session{
		ID:        uuid.New(),
		Principal: p,
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, h.sendBuffer),
		limiter:   newWindowLimiter(h.clock, h.rateLimit, h.rateWindow),
		rooms:     make(map[string]struct{}),
	}
}

// readPump handles inbound frames one at a time in arrival order.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.hub.maxMessage)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.handle(raw)
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.hub.logger.Warn("frame exceeded size limit", "session", s.ID, "limit", s.hub.maxMessage)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.hub.logger.Debug("session read error", "session", s.ID, "error", err)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handle(raw []byte) {
	var f Frame
	err := json.Unmarshal(raw, &f)
	if err == nil && f.Event == EventPingClient {
		s.hub.sendTo(s, EventPongServer, s.hub.clock.Now().UnixMilli())
		return
	}

	// Everything but a ping spends budget, malformed frames included.
	if !s.limiter.allow() {
		s.hub.metrics.rateLimited.Inc()
		s.hub.sendTo(s, EventError, ErrRateLimited.Error())
		return
	}
	if err != nil || f.Event == "" {
		s.hub.sendTo(s, EventError, ErrInvalidPayload.Error())
		return
	}

	switch f.Event {
	case EventRoomJoin:
		room, ok := decodeRoom(f.Data)
		if !ok {
			s.hub.sendTo(s, EventError, ErrInvalidPayload.Error())
			return
		}
		s.hub.join(s, room)
		s.hub.sendTo(s, EventRoomJoined, room)
	case EventRoomLeave:
		room, ok := decodeRoom(f.Data)
		if !ok {
			s.hub.sendTo(s, EventError, ErrInvalidPayload.Error())
			return
		}
		s.hub.leave(s, room)
		s.hub.sendTo(s, EventRoomLeft, room)
	case EventChatMessage:
		var in ChatMessage
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &in); err != nil {
				s.hub.sendTo(s, EventError, ErrInvalidPayload.Error())
				return
			}
		}
		out := ChatBroadcast{
			From:    s.Principal.Username,
			Message: in.Message,
			TS:      s.hub.clock.Now().UnixMilli(),
		}
		if err := s.hub.Publish(EventChatMessage, out, in.Room); err != nil {
			s.hub.logger.Error("relaying chat message failed", "session", s.ID, "error", err)
		}
	}
}

func decodeRoom(data json.RawMessage) (string, bool) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil || room == "" {
		return "", false
	}
	return room, true
}
