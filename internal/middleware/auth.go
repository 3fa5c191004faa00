package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/marketpulse/chathub/internal/auth"
	"github.com/marketpulse/chathub/internal/models"
)

// ContextKeyParticipant is where validated claims land in gin.Context.
const ContextKeyParticipant = "participant"

// AuthMiddleware validates the guest token on every request in its group.
// The token arrives either as "Authorization: Bearer <token>" or, for the
// websocket upgrade where browsers cannot set headers, as a "token" query
// parameter. Invalid or missing tokens abort with 401 before any handler
// runs.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing token",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyParticipant, claims.Participant())
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// GetParticipant extracts the validated identity a handler is serving.
// Returns the zero Participant when the middleware did not run.
func GetParticipant(c *gin.Context) models.Participant {
	val, exists := c.Get(ContextKeyParticipant)
	if !exists {
		return models.Participant{}
	}
	p, ok := val.(models.Participant)
	if !ok {
		return models.Participant{}
	}
	return p
}
