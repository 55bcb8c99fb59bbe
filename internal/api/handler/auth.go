package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"

	"randolink/backend/internal/config"
	"randolink/backend/internal/models"
)

const anonTokenTTL = 72 * time.Hour

var errInvalidToken = errors.New("invalid token")

// generateJWT issues a signed token carrying the anonymous user id.
func (h *Handler) generateJWT(anonID string) (string, error) {
	claims := jwt.MapClaims{
		"anon_id": anonID,
		"exp":     time.Now().Add(anonTokenTTL).Unix(),
		"iss":     "randolink-service",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

// validateAndGetAnonID checks the token signature and expiry and extracts
// the anonymous user id.
func (h *Handler) validateAndGetAnonID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return h.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	anonID, ok := claims["anon_id"].(string)
	if !ok || anonID == "" {
		return "", errInvalidToken
	}
	return anonID, nil
}

// bearerAnonID extracts and validates the Authorization header of a request.
func (h *Handler) bearerAnonID(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	anonID, err := h.validateAndGetAnonID(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return "", false
	}
	return anonID, true
}

// AuthRequired is the middleware for routes that need an identified user.
// The anonymous id lands in the gin context under "anon_id".
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		anonID, ok := h.bearerAnonID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set("anon_id", anonID)
		c.Next()
	}
}

type anonRequest struct {
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef"`
}

// GetAnonID mints a fresh anonymous identity: a user row with full starting
// reputation plus a bearer token for it.
func (h *Handler) GetAnonID(c *gin.Context) {
	var req anonRequest
	_ = c.ShouldBindJSON(&req)

	anonID := uuid.NewString()
	user := &models.User{
		ID:              anonID,
		DisplayName:     req.DisplayName,
		AvatarRef:       req.AvatarRef,
		ReputationScore: config.InitialReputation,
	}
	if user.DisplayName == "" {
		user.DisplayName = "Stranger"
	}
	if err := h.Store.SaveUser(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	token, err := h.generateJWT(anonID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}
