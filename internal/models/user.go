package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User roles
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// User is a patient or doctor identified by email. Users are created by the
// identity bridge on first login and are never hard-deleted.
type User struct {
	gorm.Model
	Email          string  `gorm:"uniqueIndex:idx_users_email_not_deleted,where:deleted_at IS NULL;not null"`
	FirstName      string  `gorm:"not null;default:''"`
	LastName       string  `gorm:"not null;default:''"`
	Role           string  `gorm:"not null;default:'patient';index"` // enum: 'patient' or 'doctor'
	ProfilePicture string  `gorm:"type:text"`
	PatientKey     *string `gorm:"uniqueIndex:idx_users_patient_key"` // patients only, 9 digits

	// Doctor settings
	ClinicName  string `gorm:"not null;default:''"`
	DoctorPhoto string `gorm:"type:text"`
	ClinicLogo  string `gorm:"type:text"`
	VoiceClip   string `gorm:"type:text"`

	EMRConnectedAt *time.Time `gorm:"column:emr_connected_at"`
	LastLoginAt    *time.Time
}

// DisplayName joins first and last name.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Key returns the patient key or an empty string.
func (u *User) Key() string {
	if u.PatientKey == nil {
		return ""
	}
	return *u.PatientKey
}

// SplitName splits a display name into first and last name. A single-word
// name is used for both.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
