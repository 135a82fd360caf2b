package realtime

import (
	"encoding/json"
	"fmt"
)

// Event names.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventRoomJoined  = "room:joined"
	EventRoomLeft    = "room:left"
	EventChatMessage = "chat:message"
	EventPingClient  = "ping:client"
	EventPongServer  = "pong:server"
	EventError       = "error"
)

// Subprotocol is selected by the server during the handshake.
const Subprotocol = "agentgate.v1"

// authProtocolPrefix marks the subprotocol entry that carries the token.
const authProtocolPrefix = "auth."

// Frame is the envelope of every message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is the inbound chat:message payload. An empty Room broadcasts
// to every session.
type ChatMessage struct {
	Room    string          `json:"room"`
	Message json.RawMessage `json:"message"`
}

// ChatBroadcast is what every recipient of a chat message receives.
type ChatBroadcast struct {
	From    string          `json:"from"`
	Message json.RawMessage `json:"message"`
	TS      int64           `json:"ts"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
