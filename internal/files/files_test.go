package files

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/storage"
	"github.com/jimdaga/amma-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	patientEmail = "keisha.washington@example.com"
	doctorEmail  = "dr.rao@example.com"
)

// flakyBucket wraps a MemoryBucket and can fail puts.
type flakyBucket struct {
	*storage.MemoryBucket
	putErr error
}

func (b *flakyBucket) Put(ctx context.Context, key, ct string, body io.Reader, size int64) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	return b.MemoryBucket.Put(ctx, key, ct, body, size)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *flakyBucket, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	bucket := &flakyBucket{MemoryBucket: storage.NewMemoryBucket("http://files.test")}
	return NewService(db, bucket, opts...), bucket, db
}

func upload(t *testing.T, svc *Service, name, ct, body string) *models.PatientFile {
	t.Helper()
	f, err := svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail,
		DoctorEmail:  doctorEmail,
		Name:         name,
		ContentType:  ct,
		Size:         int64(len(body)),
		Body:         strings.NewReader(body),
	})
	require.NoError(t, err)
	return f
}

func TestUploadThenListOnce(t *testing.T) {
	svc, bucket, _ := newTestService(t)

	f := upload(t, svc, "lab results.pdf", "application/pdf", "%PDF-1.4")
	assert.Equal(t, models.FileKindDocument, f.Kind)
	assert.True(t, strings.HasPrefix(f.StorageKey, "keisha.washington_example.com/"))
	assert.Equal(t, "http://files.test/"+f.StorageKey, f.URL)

	list, err := svc.List(context.Background(), patientEmail, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.ID, list[0].ID)

	data, _, err := bucket.Open(f.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))
}

func TestListNewestFirstWithKindFilter(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, WithClock(func() time.Time { return now }))

	doc := upload(t, svc, "notes.txt", "text/plain", "a")
	now = now.Add(time.Minute)
	vid := upload(t, svc, "walkthrough.mp4", "video/mp4", "b")

	all, err := svc.List(context.Background(), patientEmail, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, vid.ID, all[0].ID)
	assert.Equal(t, doc.ID, all[1].ID)

	videos, err := svc.List(context.Background(), patientEmail, models.FileKindVideo)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, models.FileKindVideo, videos[0].Kind)

	other, err := svc.List(context.Background(), "someone@example.com", "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteRemovesFromListing(t *testing.T) {
	svc, bucket, _ := newTestService(t)
	f := upload(t, svc, "scan.png", "image/png", "png")

	require.NoError(t, svc.Delete(context.Background(), f.ID))

	list, err := svc.List(context.Background(), patientEmail, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, _, err = bucket.Open(f.StorageKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	assert.ErrorIs(t, svc.Delete(context.Background(), f.ID), ErrNotFound)
}

func TestUploadRejectsSize(t *testing.T) {
	svc, _, _ := newTestService(t, WithLimits(8, 4))

	_, err := svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail, Name: "big.bin", Size: 9, Body: strings.NewReader("123456789"),
	})
	assert.ErrorIs(t, err, ErrTooLarge)

	// declared size lies; the body is still capped
	_, err = svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail, Name: "big.bin", Size: 1, Body: strings.NewReader("123456789"),
	})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail, Name: "empty.txt", Body: strings.NewReader(""),
	})
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestUploadFallsBackInline(t *testing.T) {
	svc, bucket, _ := newTestService(t, WithLimits(16, 4))
	bucket.putErr = errors.New("bucket offline")

	f := upload(t, svc, "note.txt", "text/plain", "hi!")
	assert.Equal(t, "data:text/plain;base64,aGkh", f.URL)
	assert.Empty(t, f.StorageKey)

	_, err := svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail, Name: "bigger.txt", ContentType: "text/plain",
		Size: 10, Body: strings.NewReader("0123456789"),
	})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestUploadRemovesObjectWhenInsertFails(t *testing.T) {
	svc, bucket, db := newTestService(t)
	require.NoError(t, db.Migrator().DropTable(&models.PatientFile{}))

	_, err := svc.Upload(context.Background(), UploadInput{
		PatientEmail: patientEmail, Name: "scan.png", ContentType: "image/png",
		Size: 3, Body: strings.NewReader("png"),
	})
	require.Error(t, err)

	objs, err := bucket.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestRecordVideoReplacesSameTemplate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordVideo(ctx, VideoInput{
		PatientEmail: patientEmail, DoctorEmail: doctorEmail, Name: "diagnosis_video_1.mp4",
		URL: "/images/diagnosis-video.mp4", Template: "diagnosis", ReplaceExisting: true,
	})
	require.NoError(t, err)
	_, err = svc.RecordVideo(ctx, VideoInput{
		PatientEmail: patientEmail, DoctorEmail: models.SystemDoctorEmail, Name: "ai_generated_video_1.mp4",
		URL: "/images/chatbot-meds-video.mp4", Template: "medication",
	})
	require.NoError(t, err)
	second, err := svc.RecordVideo(ctx, VideoInput{
		PatientEmail: patientEmail, DoctorEmail: doctorEmail, Name: "diagnosis_video_2.mp4",
		URL: "/images/diagnosis-video.mp4", Template: "diagnosis", ReplaceExisting: true,
	})
	require.NoError(t, err)

	videos, err := svc.List(ctx, patientEmail, models.FileKindVideo)
	require.NoError(t, err)
	require.Len(t, videos, 2)

	names := []string{videos[0].Name, videos[1].Name}
	assert.Contains(t, names, second.Name)
	assert.Contains(t, names, "ai_generated_video_1.mp4")
	assert.NotContains(t, names, "diagnosis_video_1.mp4")
}

func TestReconcileOrphans(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, bucket, _ := newTestService(t, WithClock(clock))
	bucket.SetClock(clock)
	ctx := context.Background()

	kept := upload(t, svc, "kept.pdf", "application/pdf", "keep")
	_, err := bucket.Put(ctx, "keisha.washington_example.com/old_orphan.pdf", "application/pdf", strings.NewReader("x"), 1)
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = bucket.Put(ctx, "keisha.washington_example.com/new_orphan.pdf", "application/pdf", strings.NewReader("y"), 1)
	require.NoError(t, err)

	now = now.Add(45 * time.Minute)
	removed, err := svc.ReconcileOrphans(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	objs, err := bucket.List(ctx, "")
	require.NoError(t, err)
	keys := []string{}
	for _, o := range objs {
		keys = append(keys, o.Key)
	}
	assert.ElementsMatch(t, []string{kept.StorageKey, "keisha.washington_example.com/new_orphan.pdf"}, keys)
}

func TestKindFor(t *testing.T) {
	assert.Equal(t, models.FileKindVideo, KindFor("video/mp4"))
	assert.Equal(t, models.FileKindVideo, KindFor("Video/QuickTime"))
	assert.Equal(t, models.FileKindDocument, KindFor("application/pdf"))
	assert.Equal(t, models.FileKindDocument, KindFor(""))
}
