package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VideoRun status constants
const (
	VideoRunStatusPending    = "pending"
	VideoRunStatusProcessing = "processing"
	VideoRunStatusCompleted  = "completed"
	VideoRunStatusFailed     = "failed"
)

// VideoRun tracks a single placeholder video generation.
type VideoRun struct {
	gorm.Model
	RunID        string         `gorm:"uniqueIndex;not null"`
	PatientEmail string         `gorm:"not null;index"`
	RequestedBy  string         `gorm:"not null"`
	Template     string         `gorm:"not null"`
	Status       string         `gorm:"not null;default:'pending';index"`
	Input        datatypes.JSONMap `gorm:"type:jsonb"`
	OutputURL    string         `gorm:"column:output_url;type:text"`
	FileID       *uint
	ErrorMessage string `gorm:"column:error_message;type:text"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
