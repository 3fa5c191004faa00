package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketpulse/chathub/internal/auth"
	"github.com/marketpulse/chathub/internal/models"
)

// TokenHandler issues guest identities. No accounts, no passwords: a display
// name in, a signed participant token out.
type TokenHandler struct {
	secret string
	ttl    time.Duration
	logger *zap.Logger
}

func NewTokenHandler(secret string, ttl time.Duration, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{secret: secret, ttl: ttl, logger: logger}
}

type createTokenRequest struct {
	Name   string `json:"name" binding:"required"`
	Avatar string `json:"avatar"`
}

// Create handles POST /v1/session
func (h *TokenHandler) Create(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participant := models.Participant{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Avatar: req.Avatar,
	}

	token, err := auth.GenerateToken(participant, h.secret, h.ttl)
	if err != nil {
		h.logger.Error("failed to sign guest token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":       token,
		"participant": participant,
	})
}
