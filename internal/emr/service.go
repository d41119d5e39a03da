package emr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSnapshot is returned when a patient has never been synced.
var ErrNoSnapshot = errors.New("no health record synced")

// Directory looks up a patient's record in the EMR.
type Directory interface {
	Lookup(email, name string, now time.Time) Record
}

// Service stores health snapshots.
type Service struct {
	db        *gorm.DB
	directory Directory
	now       func() time.Time
}

// NewService creates a Service.
func NewService(db *gorm.DB, directory Directory) *Service {
	return &Service{db: db, directory: directory, now: time.Now}
}

// Sync pulls the patient's record and replaces the doctor's snapshot of it.
func (s *Service) Sync(ctx context.Context, doctorEmail, patientEmail, patientName string) (*models.HealthSnapshot, error) {
	now := s.now().UTC()
	record := s.directory.Lookup(patientEmail, patientName, now)

	snapshot := &models.HealthSnapshot{
		DoctorEmail:   doctorEmail,
		PatientEmail:  patientEmail,
		MRN:           record.MRN,
		PatientName:   record.PatientName,
		PatientDOB:    record.PatientDOB,
		ClinicalNotes: record.ClinicalNotes,
		Diagnoses:     datatypes.NewJSONSlice(record.Diagnoses),
		Medications:   datatypes.NewJSONSlice(record.Medications),
		Allergies:     datatypes.NewJSONSlice(record.Allergies),
		LastSynced:    now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "doctor_email"}, {Name: "patient_email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"mrn", "patient_name", "patient_dob", "clinical_notes",
			"diagnoses", "medications", "allergies", "last_synced", "updated_at",
		}),
	}).Create(snapshot).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save health snapshot: %w", err)
	}

	slog.Info("Health record synced", "doctor", doctorEmail, "patient", patientEmail, "mrn", record.MRN)
	return s.Get(ctx, doctorEmail, patientEmail)
}

// Get returns the doctor's snapshot of a patient.
func (s *Service) Get(ctx context.Context, doctorEmail, patientEmail string) (*models.HealthSnapshot, error) {
	var snapshot models.HealthSnapshot
	err := s.db.WithContext(ctx).
		Where("doctor_email = ? AND patient_email = ?", doctorEmail, patientEmail).
		First(&snapshot).Error
	return found(&snapshot, err)
}

// LatestForPatient returns the most recently synced snapshot of a patient
// across all of their doctors.
func (s *Service) LatestForPatient(ctx context.Context, patientEmail string) (*models.HealthSnapshot, error) {
	var snapshot models.HealthSnapshot
	err := s.db.WithContext(ctx).
		Where("patient_email = ?", patientEmail).
		Order("last_synced DESC").
		First(&snapshot).Error
	return found(&snapshot, err)
}

func found(snapshot *models.HealthSnapshot, err error) (*models.HealthSnapshot, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load health snapshot: %w", err)
	}
	return snapshot, nil
}
