package session

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/models"
)

const (
	// GinKey is the gin context key holding the *models.Session.
	GinKey = "session"

	cookieTokenKey = "session_token"
)

// Middleware resolves the session token from the Authorization header or the
// cookie session and, when it is live, attaches the session to the request
// context. It never rejects a request; see auth.RequireSession for that.
// gin-contrib/sessions must be installed before it.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token != "" {
			if s, err := m.Lookup(c.Request.Context(), token); err == nil {
				c.Set(GinKey, s)
				c.Request = c.Request.WithContext(NewContext(c.Request.Context(), s))
			}
		}
		c.Next()
	}
}

// TokenFromRequest returns the bearer token, falling back to the cookie.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if token, ok := sessions.Default(c).Get(cookieTokenKey).(string); ok {
		return token
	}
	return ""
}

// Current returns the session attached by Middleware.
func Current(c *gin.Context) (*models.Session, bool) {
	return FromContext(c.Request.Context())
}

// SaveToken stores token in the cookie session.
func SaveToken(c *gin.Context, token string) error {
	cookie := sessions.Default(c)
	cookie.Set(cookieTokenKey, token)
	return cookie.Save()
}

// ClearToken removes the token from the cookie session.
func ClearToken(c *gin.Context) error {
	cookie := sessions.Default(c)
	cookie.Delete(cookieTokenKey)
	return cookie.Save()
}
