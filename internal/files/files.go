// Package files manages documents and videos attached to patients.
package files

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/storage"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Default limits.
const (
	DefaultMaxBytes    = 10 * 1024 * 1024
	DefaultInlineBytes = 5 * 1024 * 1024
)

var (
	ErrTooLarge  = errors.New("file size must be under 10MB")
	ErrEmptyFile = errors.New("file is empty")
	ErrNotFound  = errors.New("file not found")
	// ErrStorageUnavailable is returned when the bucket rejects a file too
	// large to keep inline.
	ErrStorageUnavailable = errors.New("file storage unavailable")
)

// UploadInput describes a file uploaded by a doctor for a patient.
type UploadInput struct {
	PatientEmail string
	DoctorEmail  string
	Name         string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// VideoInput describes a generated video to attach to a patient.
type VideoInput struct {
	PatientEmail string
	DoctorEmail  string
	Name         string
	URL          string
	Template     string
	// ReplaceExisting removes earlier videos of the same template first.
	ReplaceExisting bool
}

// Service stores file metadata in the database and content in a bucket.
type Service struct {
	db          *gorm.DB
	bucket      storage.Bucket
	maxBytes    int64
	inlineBytes int64
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLimits overrides the upload size limit and the inline fallback limit.
func WithLimits(maxBytes, inlineBytes int64) Option {
	return func(s *Service) {
		if maxBytes > 0 {
			s.maxBytes = maxBytes
		}
		if inlineBytes >= 0 {
			s.inlineBytes = inlineBytes
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(db *gorm.DB, bucket storage.Bucket, opts ...Option) *Service {
	s := &Service{
		db:          db,
		bucket:      bucket,
		maxBytes:    DefaultMaxBytes,
		inlineBytes: DefaultInlineBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// KindFor classifies a content type as video or document.
func KindFor(contentType string) string {
	if strings.HasPrefix(strings.ToLower(contentType), "video/") {
		return models.FileKindVideo
	}
	return models.FileKindDocument
}

// Upload stores the file and records it. When the bucket fails, small files
// are kept inline as a data URL. When the record cannot be written the stored
// object is removed again.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*models.PatientFile, error) {
	if in.Size > s.maxBytes {
		return nil, ErrTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := s.now().UTC()
	key := storage.ObjectKey(in.PatientEmail, in.Name, now)

	url, err := s.bucket.Put(ctx, key, contentType, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if int64(len(data)) > s.inlineBytes {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		slog.Warn("Bucket upload failed, storing file inline", "key", key, "error", err)
		url = "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
		key = ""
	}

	file := &models.PatientFile{
		PatientEmail: in.PatientEmail,
		DoctorEmail:  in.DoctorEmail,
		Kind:         KindFor(contentType),
		URL:          url,
		StorageKey:   key,
		Name:         in.Name,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		CreatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(file).Error; err != nil {
		if key != "" {
			if delErr := s.bucket.Delete(ctx, key); delErr != nil {
				slog.Error("Failed to remove object after insert failure", "key", key, "error", delErr)
			}
		}
		return nil, fmt.Errorf("failed to save file record: %w", err)
	}

	slog.Info("File uploaded", "file_id", file.ID, "patient", in.PatientEmail, "kind", file.Kind, "size", file.SizeBytes)
	return file, nil
}

// RecordVideo attaches a generated video to a patient.
func (s *Service) RecordVideo(ctx context.Context, in VideoInput) (*models.PatientFile, error) {
	file := &models.PatientFile{
		PatientEmail: in.PatientEmail,
		DoctorEmail:  in.DoctorEmail,
		Kind:         models.FileKindVideo,
		URL:          in.URL,
		Name:         in.Name,
		ContentType:  "video/mp4",
		Template:     in.Template,
		CreatedAt:    s.now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ReplaceExisting {
			if err := tx.Where("patient_email = ? AND kind = ? AND template = ?",
				in.PatientEmail, models.FileKindVideo, in.Template).
				Delete(&models.PatientFile{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(file).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record video: %w", err)
	}
	return file, nil
}

// List returns the patient's files, newest first. An empty kind lists all.
func (s *Service) List(ctx context.Context, patientEmail, kind string) ([]models.PatientFile, error) {
	q := s.db.WithContext(ctx).Where("patient_email = ?", patientEmail)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}

	var out []models.PatientFile
	if err := q.Order("created_at DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return out, nil
}

// Get returns one file.
func (s *Service) Get(ctx context.Context, id uint) (*models.PatientFile, error) {
	var file models.PatientFile
	if err := s.db.WithContext(ctx).First(&file, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return &file, nil
}

// Delete removes the record and then the stored object. Object removal
// failures are logged; the orphan is picked up by ReconcileOrphans.
func (s *Service) Delete(ctx context.Context, id uint) error {
	file, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&models.PatientFile{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	if file.StorageKey != "" {
		if err := s.bucket.Delete(ctx, file.StorageKey); err != nil {
			slog.Error("Failed to delete stored object", "key", file.StorageKey, "error", err)
		}
	}

	slog.Info("File deleted", "file_id", id, "patient", file.PatientEmail)
	return nil
}

// ReconcileOrphans deletes bucket objects older than grace that no file
// record references. It returns how many objects were removed.
func (s *Service) ReconcileOrphans(ctx context.Context, grace time.Duration) (int, error) {
	objects, err := s.bucket.List(ctx, "")
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-grace)
	keys := lo.FilterMap(objects, func(o storage.Object, _ int) (string, bool) {
		return o.Key, o.LastModified.Before(cutoff)
	})

	removed := 0
	for _, batch := range lo.Chunk(keys, 500) {
		var referenced []string
		if err := s.db.WithContext(ctx).Model(&models.PatientFile{}).
			Where("storage_key IN ?", batch).
			Pluck("storage_key", &referenced).Error; err != nil {
			return removed, fmt.Errorf("failed to load referenced keys: %w", err)
		}

		orphans, _ := lo.Difference(batch, referenced)
		for _, key := range orphans {
			if err := s.bucket.Delete(ctx, key); err != nil {
				slog.Warn("Failed to delete orphaned object", "key", key, "error", err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		slog.Info("Removed orphaned objects", "count", removed)
	}
	return removed, nil
}
