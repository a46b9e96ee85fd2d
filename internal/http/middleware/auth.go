// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity from a Bearer access token.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/problem-board/internal/domain"
)

const (
	userIDKey   = "userID"
	identityKey = "identity"
)

// Authenticator validates a raw access token.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (*domain.Identity, error)
}

// Authenticate resolves the Bearer token, when one is sent, and stores the
// identity in the Gin context. Requests without Authorization, or with a
// token that no longer verifies, pass through anonymously and RequireUser
// decides. A malformed header is answered with 401.
func Authenticate(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := extractBearerToken(header)
		if !ok {
			abortUnauthorized(c, "malformed Authorization header")
			return
		}
		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected; continuing anonymously")
			c.Next()
			return
		}
		c.Set(userIDKey, id.ID)
		c.Set(identityKey, *id)
		c.Next()
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			abortUnauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

// IdentityFrom returns the authenticated identity, if any.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := v.(domain.Identity)
	return id, ok
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "unauthorized",
		"message":    msg,
	})
}
