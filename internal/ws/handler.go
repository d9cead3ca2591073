package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"energyflow/internal/model"
)

const maxMessageSize = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller is the part of the engine clients may drive.
type Controller interface {
	Snapshot() (model.Snapshot, bool)
	Live() bool
	SetLive(live bool)
	Trigger()
}

// Handler upgrades dashboard connections and turns their commands into
// engine calls.
type Handler struct {
	hub    *Hub
	engine Controller
}

func NewHandler(hub *Hub, engine Controller) *Handler {
	return &Handler{hub: hub, engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h.hub, conn)
	h.hub.Register(client)
	go client.writePump()

	// a new client gets the mode first, then the latest snapshot if any
	h.send(client, TypeFlowsState, FlowsStatePayload{Live: h.engine.Live()})
	if snap, ok := h.engine.Snapshot(); ok {
		h.send(client, TypeSnapshotUpdate, SnapshotFromEngine(snap))
	}

	h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer h.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.hub.logger.Warn("websocket read failed", "remote", c.remote, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.handleMessage(msg); err != nil {
			h.hub.logger.Warn("rejected client message", "remote", c.remote, "error", err)
			h.send(c, TypeError, ErrorPayload{Message: err.Error()})
		}
	}
}

func (h *Handler) handleMessage(msg []byte) error {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch env.Type {
	case TypeFlowsRefresh:
		h.engine.Trigger()

	case TypeFlowsSetLive:
		var p SetLivePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
		h.engine.SetLive(p.Live)
		h.hub.BroadcastEnvelope(TypeFlowsState, FlowsStatePayload{Live: h.engine.Live()})
		h.engine.Trigger()

	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}
	return nil
}

// send queues one message for c only.
func (h *Handler) send(c *Client, msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		h.hub.logger.Error("encoding message", "type", msgType, "error", err)
		return
	}
	if !c.trySend(msg) {
		h.hub.logger.Warn("client buffer full, dropping message", "remote", c.remote, "type", msgType)
	}
}
