package videogen

import (
	"context"
	"testing"
	"time"

	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/storage"
	"github.com/jimdaga/amma-portal/internal/templates"
	"github.com/jimdaga/amma-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	patientEmail = "keisha.washington@example.com"
	doctorEmail  = "dr.rao@example.com"
)

func newTestRuns(t *testing.T) (*Runs, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	registry, err := templates.LoadRegistry("")
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.User{
		Email: patientEmail, FirstName: "Keisha", LastName: "Washington", Role: models.RolePatient,
	}).Error)

	fileSvc := files.NewService(db, storage.NewMemoryBucket("http://files.test"))
	return NewRuns(db, fileSvc, registry), db
}

func TestCreateValidatesParameters(t *testing.T) {
	runs, _ := newTestRuns(t)
	ctx := context.Background()

	_, err := runs.Create(ctx, RunInput{PatientEmail: patientEmail, RequestedBy: doctorEmail, Template: "diagnosis"})
	assert.ErrorIs(t, err, templates.ErrInvalidParameters)

	_, err = runs.Create(ctx, RunInput{PatientEmail: patientEmail, RequestedBy: doctorEmail, Template: "nope"})
	assert.ErrorIs(t, err, templates.ErrUnknownTemplate)

	run, err := runs.Create(ctx, RunInput{
		PatientEmail: "Keisha.Washington@example.com",
		RequestedBy:  doctorEmail,
		Template:     "diagnosis",
		Parameters:   map[string]interface{}{"diagnosis": "Type 2 diabetes"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.VideoRunStatusPending, run.Status)
	assert.Equal(t, patientEmail, run.PatientEmail)
	assert.Len(t, run.RunID, 36)

	loaded, err := runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Type 2 diabetes", loaded.Input["diagnosis"])
}

func TestRunLifecycle(t *testing.T) {
	runs, _ := newTestRuns(t)
	ctx := context.Background()
	runs.now = func() time.Time { return time.UnixMilli(1700000000000) }

	run, err := runs.Create(ctx, RunInput{
		PatientEmail: patientEmail,
		RequestedBy:  doctorEmail,
		Template:     "diagnosis",
		Parameters:   map[string]interface{}{"diagnosis": "Asthma"},
	})
	require.NoError(t, err)

	req, err := runs.Start(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "/images/diagnosis-video.mp4", req.PlaceholderURL)
	assert.Equal(t, "Keisha Washington", req.PatientName)
	assert.Contains(t, req.Prompt, "Keisha Washington")
	assert.Contains(t, req.Prompt, "Asthma")

	started, err := runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoRunStatusProcessing, started.Status)
	assert.NotNil(t, started.StartedAt)

	done, err := runs.Complete(ctx, run.RunID, "")
	require.NoError(t, err)
	assert.Equal(t, models.VideoRunStatusCompleted, done.Status)
	assert.Equal(t, "/images/diagnosis-video.mp4", done.OutputURL)
	require.NotNil(t, done.FileID)

	videos, err := runs.files.List(ctx, patientEmail, models.FileKindVideo)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "diagnosis_video_1700000000000.mp4", videos[0].Name)
	assert.Equal(t, doctorEmail, videos[0].DoctorEmail)

	// completing twice does not attach a second video
	_, err = runs.Complete(ctx, run.RunID, "")
	require.NoError(t, err)
	videos, err = runs.files.List(ctx, patientEmail, models.FileKindVideo)
	require.NoError(t, err)
	assert.Len(t, videos, 1)

	_, err = runs.Start(ctx, run.RunID)
	assert.ErrorIs(t, err, ErrRunFinished)
	assert.ErrorIs(t, runs.Fail(ctx, run.RunID, "late"), ErrRunFinished)
}

func TestSinglePerPatientTemplateReplacesVideo(t *testing.T) {
	runs, _ := newTestRuns(t)
	ctx := context.Background()

	for _, diagnosis := range []string{"Asthma", "COPD"} {
		run, err := runs.Create(ctx, RunInput{
			PatientEmail: patientEmail,
			RequestedBy:  doctorEmail,
			Template:     "diagnosis",
			Parameters:   map[string]interface{}{"diagnosis": diagnosis},
		})
		require.NoError(t, err)
		_, err = runs.Complete(ctx, run.RunID, "https://cdn.test/"+diagnosis+".mp4")
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		run, err := runs.Create(ctx, RunInput{
			PatientEmail: patientEmail,
			RequestedBy:  models.SystemDoctorEmail,
			Template:     "medication",
		})
		require.NoError(t, err)
		_, err = runs.Complete(ctx, run.RunID, "")
		require.NoError(t, err)
	}

	videos, err := runs.files.List(ctx, patientEmail, models.FileKindVideo)
	require.NoError(t, err)

	var diagnosis, medication int
	for _, v := range videos {
		switch v.Template {
		case "diagnosis":
			diagnosis++
			assert.Equal(t, "https://cdn.test/COPD.mp4", v.URL)
		case "medication":
			medication++
		}
	}
	assert.Equal(t, 1, diagnosis)
	assert.Equal(t, 2, medication)
}

func TestFailRecordsMessage(t *testing.T) {
	runs, _ := newTestRuns(t)
	ctx := context.Background()

	run, err := runs.Create(ctx, RunInput{PatientEmail: patientEmail, RequestedBy: doctorEmail, Template: "medication"})
	require.NoError(t, err)

	require.NoError(t, runs.Fail(ctx, run.RunID, "renderer timed out"))
	failed, err := runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoRunStatusFailed, failed.Status)
	assert.Equal(t, "renderer timed out", failed.ErrorMessage)

	_, err = runs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
