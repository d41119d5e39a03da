package videogen

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVideoRouter(runs *Runs, enqueue EnqueueFunc, email string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_email", email)
		c.Next()
	})
	r.GET("/templates", HandleListTemplates(runs.Templates()))
	r.POST("/patients/:email/videos", HandleRequest(runs, enqueue))
	r.POST("/chat/video", HandleAssistantVideo(runs, enqueue))
	r.GET("/runs/:run_id", HandleRunStatus(runs))
	r.GET("/videos", HandleListOwnVideos(runs))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDoctorRequestsVideo(t *testing.T) {
	runs, _ := newTestRuns(t)
	var queued []string
	enqueue := func(id string) error {
		queued = append(queued, id)
		return nil
	}
	r := newVideoRouter(runs, enqueue, doctorEmail)

	w := do(r, http.MethodPost, "/patients/"+patientEmail+"/videos",
		`{"template":"diagnosis","parameters":{"diagnosis":"Hypertension"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			RunID  string `json:"run_id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.VideoRunStatusPending, resp.Data.Status)
	assert.Equal(t, []string{resp.Data.RunID}, queued)

	w = do(r, http.MethodGet, "/runs/"+resp.Data.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Data RunView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "diagnosis", view.Data.Template)
	assert.Equal(t, doctorEmail, view.Data.RequestedBy)
}

func TestRequestVideoErrors(t *testing.T) {
	runs, _ := newTestRuns(t)
	r := newVideoRouter(runs, func(string) error { return nil }, doctorEmail)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing template", `{"parameters":{}}`, http.StatusBadRequest},
		{"unknown template", `{"template":"karaoke"}`, http.StatusBadRequest},
		{"invalid parameters", `{"template":"diagnosis","parameters":{}}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/patients/"+patientEmail+"/videos", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestEnqueueFailureMarksRunFailed(t *testing.T) {
	runs, db := newTestRuns(t)
	r := newVideoRouter(runs, func(string) error { return errors.New("redis down") }, patientEmail)

	w := do(r, http.MethodPost, "/chat/video", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var run models.VideoRun
	require.NoError(t, db.First(&run).Error)
	assert.Equal(t, models.VideoRunStatusFailed, run.Status)
	assert.Equal(t, models.SystemDoctorEmail, run.RequestedBy)
	assert.Equal(t, AssistantTemplate, run.Template)
}

func TestRunStatusHiddenFromOthers(t *testing.T) {
	runs, _ := newTestRuns(t)
	noop := func(string) error { return nil }

	w := do(newVideoRouter(runs, noop, patientEmail), http.MethodPost, "/chat/video", `{"question":"When do I take metformin?"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp struct {
		Data struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = do(newVideoRouter(runs, noop, patientEmail), http.MethodGet, "/runs/"+resp.Data.RunID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newVideoRouter(runs, noop, "someone@example.com"), http.MethodGet, "/runs/"+resp.Data.RunID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(newVideoRouter(runs, noop, patientEmail), http.MethodGet, "/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListOwnVideos(t *testing.T) {
	runs, _ := newTestRuns(t)
	r := newVideoRouter(runs, func(string) error { return nil }, patientEmail)

	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/chat/video", "").Code)
	done, err := runs.Create(t.Context(), RunInput{
		PatientEmail: patientEmail, RequestedBy: doctorEmail, Template: "diagnosis",
		Parameters: map[string]interface{}{"diagnosis": "Asthma"},
	})
	require.NoError(t, err)
	_, err = runs.Complete(t.Context(), done.RunID, "")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/videos", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Videos []struct {
				Name string `json:"name"`
			} `json:"videos"`
			Pending []RunView `json:"pending"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Videos, 1)
	assert.Contains(t, resp.Data.Videos[0].Name, "diagnosis_video_")
	require.Len(t, resp.Data.Pending, 1)
	assert.Equal(t, AssistantTemplate, resp.Data.Pending[0].Template)
}

func TestListTemplates(t *testing.T) {
	runs, _ := newTestRuns(t)
	w := do(newVideoRouter(runs, nil, doctorEmail), http.MethodGet, "/templates", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"diagnosis"`)
	assert.Contains(t, w.Body.String(), `"name":"recovery"`)
}
