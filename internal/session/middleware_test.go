package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("amma_session", cookie.NewStore([]byte("test-secret"))))
	r.Use(Middleware(m))

	r.POST("/login", func(c *gin.Context) {
		s, err := m.Create(c.Request.Context(), patient)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if err := SaveToken(c, s.Token); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, s.Token)
	})
	r.POST("/logout", func(c *gin.Context) {
		_ = ClearToken(c)
		c.Status(http.StatusNoContent)
	})
	r.GET("/me", func(c *gin.Context) {
		s, ok := Current(c)
		if !ok {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.String(http.StatusOK, s.Email)
	})
	return r
}

func TestMiddlewareBearerToken(t *testing.T) {
	m, _ := newTestManager(newMemRepo())
	s, err := m.Create(context.Background(), patient)
	require.NoError(t, err)
	r := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+s.Token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, patient.Email, w.Body.String())
}

func TestMiddlewareCookieRoundTrip(t *testing.T) {
	m, _ := newTestManager(newMemRepo())
	r := newTestRouter(m)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, patient.Email, w.Body.String())
}

func TestMiddlewareUnknownToken(t *testing.T) {
	m, _ := newTestManager(newMemRepo())
	r := newTestRouter(m)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer session_0_forged")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFromContextEmpty(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
