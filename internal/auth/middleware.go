package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/session"
)

// RequireSession is a middleware that ensures the request carries a live
// session. API calls get 401; browser navigations are sent to /login.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := session.Current(c)
		if !ok {
			if wantsJSON(c) {
				apierr.Abort(c, apierr.ErrUnauthorized)
			} else {
				c.Redirect(http.StatusFound, "/login")
				c.Abort()
			}
			return
		}

		c.Set("user_email", s.Email)
		c.Set("user_name", s.Name)
		c.Set("user_role", s.Role)

		c.Next()
	}
}

// RequireRole rejects sessions whose role differs from role.
// It must run after RequireSession.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := session.Current(c)
		if !ok {
			apierr.Abort(c, apierr.ErrUnauthorized)
			return
		}
		if s.Role != role {
			apierr.Abort(c, apierr.ErrForbidden)
			return
		}
		c.Next()
	}
}

// CurrentSession returns the session of an authenticated request. Handlers
// behind RequireSession can rely on it being present.
func CurrentSession(c *gin.Context) *models.Session {
	s, _ := session.Current(c)
	return s
}

func wantsJSON(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/api/") ||
		strings.Contains(c.GetHeader("Accept"), "application/json")
}
