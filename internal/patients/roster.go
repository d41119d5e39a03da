// Package patients manages doctors' patient rosters and patient-facing
// profile data.
package patients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

var (
	ErrInvalidKey      = errors.New("patient ID must be 9 digits")
	ErrPatientNotFound = errors.New("no patient found with that ID")
	ErrAlreadyLinked   = errors.New("patient is already in roster")
)

// Entry is one patient in a doctor's roster.
type Entry struct {
	PatientEmail   string    `json:"patient_email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Name           string    `json:"name"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	PatientKey     string    `json:"patient_key"`
	LinkedAt       time.Time `json:"linked_at"`
}

// Roster links doctors to patients.
type Roster struct {
	db *gorm.DB
}

// NewRoster creates a Roster.
func NewRoster(db *gorm.DB) *Roster {
	return &Roster{db: db}
}

// AddByKey adds the patient holding rawKey to the doctor's roster. The key
// may contain spaces or dashes.
func (r *Roster) AddByKey(ctx context.Context, doctorEmail, rawKey string) (*Entry, error) {
	key := patientkey.Unformat(rawKey)
	if !patientkey.Valid(key) {
		return nil, ErrInvalidKey
	}

	db := r.db.WithContext(ctx)

	var patient models.User
	err := db.Where("patient_key = ? AND role = ?", key, models.RolePatient).First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up patient: %w", err)
	}

	linked, err := r.IsLinked(ctx, doctorEmail, patient.Email)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, ErrAlreadyLinked
	}

	link := models.DoctorPatient{
		DoctorEmail:  doctorEmail,
		PatientEmail: patient.Email,
		PatientKey:   key,
	}
	if err := db.Create(&link).Error; err != nil {
		// the unique pair index catches a concurrent add
		if again, _ := r.IsLinked(ctx, doctorEmail, patient.Email); again {
			return nil, ErrAlreadyLinked
		}
		return nil, fmt.Errorf("failed to add patient: %w", err)
	}

	slog.Info("Patient added to roster", "doctor", doctorEmail, "patient", patient.Email)
	entry := newEntry(link, &patient)
	return &entry, nil
}

// List returns the doctor's roster, most recently added first.
func (r *Roster) List(ctx context.Context, doctorEmail string) ([]Entry, error) {
	db := r.db.WithContext(ctx)

	var links []models.DoctorPatient
	if err := db.Where("doctor_email = ?", doctorEmail).
		Order("created_at DESC, id DESC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	if len(links) == 0 {
		return []Entry{}, nil
	}

	emails := lo.Map(links, func(l models.DoctorPatient, _ int) string { return l.PatientEmail })
	var users []models.User
	if err := db.Where("email IN ?", emails).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load roster patients: %w", err)
	}
	byEmail := lo.KeyBy(users, func(u models.User) string { return u.Email })

	return lo.Map(links, func(l models.DoctorPatient, _ int) Entry {
		u, ok := byEmail[l.PatientEmail]
		if !ok {
			return newEntry(l, nil)
		}
		return newEntry(l, &u)
	}), nil
}

// IsLinked reports whether patientEmail is in the doctor's roster.
func (r *Roster) IsLinked(ctx context.Context, doctorEmail, patientEmail string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.DoctorPatient{}).
		Where("doctor_email = ? AND patient_email = ?", doctorEmail, patientEmail).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check roster: %w", err)
	}
	return count > 0, nil
}

func newEntry(link models.DoctorPatient, u *models.User) Entry {
	e := Entry{
		PatientEmail: link.PatientEmail,
		Name:         link.PatientEmail,
		PatientKey:   patientkey.Format(link.PatientKey),
		LinkedAt:     link.CreatedAt,
	}
	if u != nil {
		e.FirstName = u.FirstName
		e.LastName = u.LastName
		e.ProfilePicture = u.ProfilePicture
		if name := u.DisplayName(); name != "" {
			e.Name = name
		}
	}
	return e
}
