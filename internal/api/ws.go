package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/middleware"
	"github.com/marketpulse/chathub/internal/models"
	"github.com/marketpulse/chathub/internal/registry"
	"github.com/marketpulse/chathub/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway authenticates with the guest token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientIntent is what a connected client sends: a join/leave/send action.
type clientIntent struct {
	Action  string `json:"action"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// serverEvent is what the gateway pushes back.
type serverEvent struct {
	Type          string              `json:"type"`
	RoomID        string              `json:"room_id,omitempty"`
	Participant   *models.Participant `json:"participant,omitempty"`
	ParticipantID string              `json:"participant_id,omitempty"`
	Message       *models.Message     `json:"message,omitempty"`
	Messages      []models.Message    `json:"messages,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// WSHandler upgrades clients to WebSocket and binds each connection to its
// own session on the shared broker. This is the "real network transport"
// face of the system: browser tabs that used to be sibling broker nodes
// become thin clients of this gateway instead.
type WSHandler struct {
	broker   *broker.Broker
	registry *registry.Registry
	logger   *zap.Logger
}

func NewWSHandler(b *broker.Broker, reg *registry.Registry, logger *zap.Logger) *WSHandler {
	return &WSHandler{broker: b, registry: reg, logger: logger}
}

// wsClient pumps between one websocket connection and one session.
type wsClient struct {
	conn    *websocket.Conn
	send    chan serverEvent
	session *session.Session
	user    models.Participant
	gateway *WSHandler

	mu     sync.Mutex
	closed bool
}

// Serve handles GET /v1/ws. The auth middleware has already validated the
// guest token (passed as a query parameter by browsers).
func (h *WSHandler) Serve(c *gin.Context) {
	user := middleware.GetParticipant(c)
	if user.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:    conn,
		send:    make(chan serverEvent, 64),
		user:    user,
		gateway: h,
	}
	client.session = session.New(h.broker, h.logger, session.Handlers{
		OnJoined: func(roomID string, p models.Participant) {
			client.push(serverEvent{Type: "joined", RoomID: roomID, Participant: &p})
		},
		OnLeft: func(roomID, participantID string) {
			client.push(serverEvent{Type: "left", RoomID: roomID, ParticipantID: participantID})
		},
		OnMessage: func(msg models.Message) {
			client.push(serverEvent{Type: "message", RoomID: msg.RoomID, Message: &msg})
		},
	})

	go client.writePump()
	go client.readPump()
}

// push hands an event to the write pump, dropping it if the client's buffer
// is full or the connection is already torn down. A slow consumer loses
// events rather than stalling the broker; a callback that was in flight
// during teardown lands on the closed flag, not a closed channel.
func (c *wsClient) push(ev serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		c.gateway.logger.Warn("dropping event for slow websocket client",
			zap.String("participant", c.user.ID),
			zap.String("type", ev.Type),
		)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.session.Close(context.Background())
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gateway.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var intent clientIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			c.push(serverEvent{Type: "error", Error: "malformed intent"})
			continue
		}
		c.handle(intent)
	}
}

func (c *wsClient) handle(intent clientIntent) {
	ctx := context.Background()
	switch intent.Action {
	case "join":
		if intent.RoomID == "" {
			c.push(serverEvent{Type: "error", Error: "join requires room_id"})
			return
		}
		// A direct link may reference a room this node has never seen.
		// Materialize a placeholder; AddExisting keeps the real metadata
		// if the room turns out to be known after all.
		if c.gateway.registry.GetByID(intent.RoomID) == nil {
			c.gateway.registry.AddExisting(models.Room{
				ID:          intent.RoomID,
				Name:        "Shared Room",
				CreatedAt:   time.Now(),
				CreatedByID: models.SystemCreatorID,
				IsActive:    true,
			})
		}
		c.session.JoinRoom(ctx, intent.RoomID, c.user)
		c.push(serverEvent{
			Type:     "history",
			RoomID:   intent.RoomID,
			Messages: c.gateway.broker.Messages(intent.RoomID),
		})

	case "leave":
		c.session.LeaveRoom(ctx)

	case "send":
		if !c.session.SendMessage(ctx, intent.Content, c.user) {
			c.push(serverEvent{Type: "error", Error: "no active room"})
		}

	default:
		c.push(serverEvent{Type: "error", Error: "unknown action"})
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
