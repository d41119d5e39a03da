package models

import "time"

// File kinds
const (
	FileKindDocument = "document"
	FileKindVideo    = "video"
)

// SystemDoctorEmail is recorded as the uploader of assistant-generated videos.
const SystemDoctorEmail = "system@amma.health"

// PatientFile is a document or video attached to a patient. StorageKey is
// empty for inline fallbacks and static placeholder videos.
type PatientFile struct {
	ID           uint      `gorm:"primaryKey"`
	PatientEmail string    `gorm:"not null;index"`
	DoctorEmail  string    `gorm:"not null"`
	Kind         string    `gorm:"not null;index"`
	URL          string    `gorm:"type:text;not null"`
	StorageKey   string    `gorm:"not null;default:'';index"`
	Name         string    `gorm:"not null"`
	ContentType  string    `gorm:"not null;default:''"`
	SizeBytes    int64     `gorm:"not null;default:0"`
	Template     string    `gorm:"not null;default:''"` // video template for generated videos
	CreatedAt    time.Time `gorm:"not null;index"`
}
