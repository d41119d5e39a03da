package models

import "time"

// DoctorPatient links a doctor to a patient in the doctor's roster.
type DoctorPatient struct {
	ID           uint      `gorm:"primaryKey"`
	DoctorEmail  string    `gorm:"not null;uniqueIndex:idx_doctor_patients_pair"`
	PatientEmail string    `gorm:"not null;uniqueIndex:idx_doctor_patients_pair;index"`
	PatientKey   string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null"`
}
