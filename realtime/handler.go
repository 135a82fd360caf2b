package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmcleod/agentgate/auth"
	"github.com/jmcleod/agentgate/internal/origin"
)

// Handler upgrades authenticated requests and hands the connection to a Hub.
type Handler struct {
	hub      *Hub
	verifier auth.TokenVerifier
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler. A nil allowlist admits only requests that
// carry no Origin header.
func NewHandler(hub *Hub, verifier auth.TokenVerifier, origins *origin.Allowlist) *Handler {
	return &Handler{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{Subprotocol},
			CheckOrigin:     origins.CheckWebSocket,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		reject(w, ErrUnauthorized)
		return
	}
	principal, err := h.verifier.Verify(token)
	if err != nil {
		reject(w, ErrInvalidToken)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(h.hub, conn, principal)
	if err := h.hub.start(s); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		conn.Close()
	}
}

// tokenFromRequest looks for the token in the handshake subprotocols, then
// the Authorization header, then the token query parameter.
func tokenFromRequest(r *http.Request) string {
	for _, p := range websocket.Subprotocols(r) {
		if strings.HasPrefix(p, authProtocolPrefix) {
			if tok := strings.TrimPrefix(p, authProtocolPrefix); tok != "" {
				return tok
			}
		}
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		if tok := strings.TrimSpace(h[7:]); tok != "" {
			return tok
		}
	}
	return r.URL.Query().Get("token")
}

func reject(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
