package websocket

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/application"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{"auth"},
}

// clientMessage is what a browser sends over the socket (spec §6 UI
// WebSocket protocol).
type clientMessage struct {
	Type     string   `json:"type"`
	AgentIDs []string `json:"agentIds"`
}

// relayedEvent is what the hub sends back: the stored event plus the
// agent identity it belongs to, flattened into one object (spec §6:
// "server->client: {...event, agentId, agentType}").
type relayedEvent struct {
	Seq       uint64         `json:"seq"`
	Type      string         `json:"type"`
	TS        time.Time      `json:"ts"`
	Data      map[string]any `json:"data"`
	AgentID   string         `json:"agentId"`
	AgentType string         `json:"agentType"`
}

// Hub serves the per-agency `/agency/:id/ws` upgrade and relays every
// agency's broadcastEvent stream to its subscribed browser connections.
// Grounded on the teacher's Hub/Client register-unregister-broadcast
// shape, narrowed from a process-wide fan-out to one backed directly by
// application.Agency.Subscribe/broadcastEvent per connection instead of a
// hub-owned client map (the Agency already keeps that bookkeeping).
type Hub struct {
	registry *application.AgencyRegistry
	secret   string
	logger   *zap.Logger
}

func NewHub(registry *application.AgencyRegistry, secret string, logger *zap.Logger) *Hub {
	return &Hub{registry: registry, secret: secret, logger: logger}
}

// Serve upgrades one connection scoped to agencyID. Agent-originated
// connections (carrying X-Agent-Id/X-Agent-Type, reserved for a future
// out-of-process Agent transport per spec §9) are upgraded but never
// registered for fan-out. When a gateway secret is configured, the
// handshake must present it via the `auth-<base64(secret)>` subprotocol
// (spec §6); a plain X-SECRET header works too since browsers cannot
// always set custom headers on a WebSocket upgrade.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, agencyID string) {
	agency, ok := h.registry.Get(agencyID)
	if !ok {
		http.Error(w, "agency not found", http.StatusNotFound)
		return
	}

	if h.secret != "" {
		presented, _ := AuthSubprotocol(r)
		if presented == "" {
			presented = r.Header.Get("X-SECRET")
		}
		if presented != h.secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	isAgentConn := r.Header.Get("X-Agent-Id") != ""
	connID := r.Header.Get("X-Agent-Id")
	if connID == "" {
		connID = r.RemoteAddr + "-" + time.Now().Format("150405.000000000")
	}

	if isAgentConn {
		h.pumpAgentConn(conn)
		return
	}

	sub := agency.Subscribe(connID)
	defer agency.Unsubscribe(connID)

	done := make(chan struct{})
	go h.readLoop(conn, agency, connID, done)

	conn.SetReadDeadline(time.Time{})
	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Channel():
			if !ok {
				return
			}
			agentType := ""
			if rt, ok := agency.Agent(evt.AgentID); ok {
				agentType = rt.AgentType()
			}
			out := relayedEvent{
				Seq: evt.Event.Seq, Type: string(evt.Event.Type), TS: evt.Event.TS,
				Data: evt.Event.Data, AgentID: evt.AgentID, AgentType: agentType,
			}
			data, err := json.Marshal(out)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// readLoop handles the client->server subscribe/unsubscribe protocol
// (spec §6). It closes `done` once the connection's read side ends so the
// write loop in Serve also exits.
func (h *Hub) readLoop(conn *websocket.Conn, agency *application.Agency, connID string, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("bad websocket client message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "subscribe":
			agency.SetSubscriberFilter(connID, msg.AgentIDs)
		case "unsubscribe":
			agency.MuteSubscriber(connID)
		}
	}
}

// pumpAgentConn keeps an agent-originated connection alive without ever
// relaying events to it; it exists only so a future out-of-process Agent
// can hold the socket open, per spec §9's transport-abstraction note.
func (h *Hub) pumpAgentConn(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// AuthSubprotocol decodes the `auth-<base64(secret)>` subprotocol value a
// client presents during the WebSocket handshake (spec §6). Returns false
// if the header is absent or malformed; callers compare the decoded value
// against the configured gateway secret before completing the upgrade.
func AuthSubprotocol(r *http.Request) (string, bool) {
	for _, proto := range websocket.Subprotocols(r) {
		const prefix = "auth-"
		if len(proto) > len(prefix) && proto[:len(prefix)] == prefix {
			decoded, err := base64.URLEncoding.DecodeString(proto[len(prefix):])
			if err != nil {
				continue
			}
			return string(decoded), true
		}
	}
	return "", false
}
