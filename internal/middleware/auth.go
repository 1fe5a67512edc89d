package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/studyforge/core/internal/pkg/jwt"
	"github.com/studyforge/core/internal/pkg/response"
	sessionpkg "github.com/studyforge/core/internal/pkg/session"
	"gorm.io/gorm"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeySID    = "session_id"
)

// Auth returns a middleware that enforces JWT authentication.
func Auth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ValidateTokenClaims(db, extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeySID, claims.SessionID)
		sessionpkg.Touch(db, claims.UserID, claims.SessionID)
		c.Next()
	}
}

// OptionalAuth sets the user ID if a valid token is present, but does not block the request.
func OptionalAuth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, err := ValidateTokenClaims(db, extractToken(c)); err == nil && claims.UserID != "" {
			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeySID, claims.SessionID)
			sessionpkg.Touch(db, claims.UserID, claims.SessionID)
		}
		c.Next()
	}
}

// ValidateTokenClaims validates a JWT against its backing session and returns claims.
func ValidateTokenClaims(db *gorm.DB, rawToken string) (*jwt.Claims, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return nil, errors.New("token is required")
	}

	claims, err := jwt.Parse(token)
	if err != nil {
		return nil, err
	}
	active, err := sessionpkg.IsActive(db, claims.UserID, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, errors.New("session expired or revoked")
	}
	return claims, nil
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

// CurrentSessionID extracts the authenticated session ID from context.
func CurrentSessionID(c *gin.Context) string {
	v, _ := c.Get(ContextKeySID)
	id, _ := v.(string)
	return id
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentUserID(c) != ""
}

func extractToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth != "" {
		return NormalizeToken(auth)
	}
	if token := NormalizeToken(c.Query("token")); token != "" {
		return token
	}
	if raw, err := c.Cookie("sf-token"); err == nil {
		return NormalizeToken(raw)
	}
	return ""
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
