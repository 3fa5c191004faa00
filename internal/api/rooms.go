package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/broker"
	"github.com/marketpulse/chathub/internal/middleware"
	"github.com/marketpulse/chathub/internal/registry"
)

// RoomHandler serves the room registry over HTTP. The registry itself never
// errors — unknown ids come back as nil — so these handlers only translate
// absence into 404s.
type RoomHandler struct {
	registry *registry.Registry
	broker   *broker.Broker
	logger   *zap.Logger
}

func NewRoomHandler(reg *registry.Registry, b *broker.Broker, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{registry: reg, broker: b, logger: logger}
}

type createRoomRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /v1/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	creator := middleware.GetParticipant(c)
	room := h.registry.Create(creator.ID, req.Name, req.Description)
	c.JSON(http.StatusCreated, room)
}

// List handles GET /v1/rooms — active rooms only.
func (h *RoomHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.All())
}

// GetByID handles GET /v1/rooms/:id. Deactivated rooms still resolve here;
// only the list endpoint hides them.
func (h *RoomHandler) GetByID(c *gin.Context) {
	room := h.registry.GetByID(c.Param("id"))
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// Deactivate handles DELETE /v1/rooms/:id. Soft: history stays intact.
func (h *RoomHandler) Deactivate(c *gin.Context) {
	if !h.registry.Deactivate(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Share handles GET /v1/rooms/:id/share — the direct link plus a composed
// mail-client intent.
func (h *RoomHandler) Share(c *gin.Context) {
	id := c.Param("id")
	room := h.registry.GetByID(id)
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":    h.registry.ShareableURL(id),
		"mailto": h.registry.MailtoURL(id, room.Name, c.Query("subject"), c.Query("body")),
	})
}

// Messages handles GET /v1/rooms/:id/messages — the local broker's log for
// the room, in append order. An unknown room yields an empty list: the log
// lives with the broker, not the registry, and a room someone linked to may
// simply have no traffic here yet.
func (h *RoomHandler) Messages(c *gin.Context) {
	msgs := h.broker.Messages(c.Param("id"))
	if msgs == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// Participants handles GET /v1/rooms/:id/participants.
func (h *RoomHandler) Participants(c *gin.Context) {
	parts := h.broker.Participants(c.Param("id"))
	if parts == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, parts)
}

// Reset handles POST /v1/reset — wipes the registry, the broker's room
// table, and the durable snapshot. No confirmation here; callers confirm
// with the end user before invoking it.
func (h *RoomHandler) Reset(c *gin.Context) {
	h.broker.ResetAll(c.Request.Context())
	h.registry.Reset()
	h.logger.Warn("all chat data reset",
		zap.String("requested_by", middleware.GetParticipant(c).ID))
	c.Status(http.StatusNoContent)
}
