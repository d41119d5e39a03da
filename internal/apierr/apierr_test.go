package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAsAPIError(t *testing.T) {
	wrapped := fmt.Errorf("adding patient: %w", ErrConflict.WithMessage("This patient is already in your roster"))

	got := AsAPIError(wrapped)
	assert.Equal(t, "conflict", got.Code)
	assert.Equal(t, http.StatusConflict, got.StatusCode)
	assert.Equal(t, "This patient is already in your roster", got.Message)

	assert.Same(t, ErrInternal, AsAPIError(fmt.Errorf("boom")))
}

func TestWithMessageDoesNotMutate(t *testing.T) {
	custom := ErrNotFound.WithMessage("No patient found with this ID")

	assert.Equal(t, "Resource not found", ErrNotFound.Message)
	assert.Equal(t, "No patient found with this ID", custom.Message)
}

func TestFromBinding(t *testing.T) {
	type body struct {
		Email string `json:"email" binding:"required,email"`
		Name  string `json:"name" binding:"required,max=5"`
	}

	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var b body
		if err := c.ShouldBindJSON(&b); err != nil {
			Abort(c, FromBinding(err))
			return
		}
		JSON(c, http.StatusCreated, b)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", jsonBody(`{"email":"nope","name":"too long"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error.Code)
	assert.Equal(t, "must be a valid email address", resp.Error.Details["Email"])
	assert.Equal(t, "must be at most 5 characters", resp.Error.Details["Name"])
}

func TestFromBindingMalformed(t *testing.T) {
	err := FromBinding(&json.SyntaxError{})
	assert.Equal(t, "bad_request", err.Code)
}

func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
