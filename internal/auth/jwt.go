package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marketpulse/chathub/internal/models"
)

// Claims is the payload inside a guest token. There are no credentials
// behind these: a client asks for a token with a display name and gets an
// anonymous participant identity. The token exists so the websocket gateway
// and the room API can trust who a request claims to be without keeping
// server-side session state.
type Claims struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Participant rebuilds the participant identity the claims carry.
func (c *Claims) Participant() models.Participant {
	return models.Participant{ID: c.ParticipantID, Name: c.Name, Avatar: c.Avatar}
}

// GenerateToken signs a guest token for the given participant.
// HS256 with a single shared secret: this service both issues and verifies.
func GenerateToken(p models.Participant, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		ParticipantID: p.ID,
		Name:          p.Name,
		Avatar:        p.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chathub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a token string and extracts the claims. It rejects
// non-HMAC signing methods before verifying, closing the usual
// algorithm-confusion hole.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
