package models

import (
	"time"

	"github.com/jimdaga/amma-portal/internal/crypto"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var encryptor *crypto.FieldEncryptor

// InitEncryption initializes the field encryptor for the models package.
// Clinical notes are stored in plaintext until this is called.
func InitEncryption(encryptionKey string) error {
	var err error
	encryptor, err = crypto.NewFieldEncryptor(encryptionKey)
	return err
}

// Diagnosis is one entry of a snapshot's problem list.
type Diagnosis struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Onset    string `json:"onset"`
	Priority string `json:"priority"`
}

// Medication is one entry of a snapshot's medication list.
type Medication struct {
	Name       string `json:"name"`
	Sig        string `json:"sig"`
	Prescriber string `json:"prescriber"`
	Pharmacy   string `json:"pharmacy"`
	Refills    string `json:"refills"`
}

// Allergy is one entry of a snapshot's allergy list.
type Allergy struct {
	Substance string `json:"substance"`
	Reaction  string `json:"reaction"`
	Severity  string `json:"severity"`
	Verified  string `json:"verified"`
}

// HealthSnapshot is a doctor's synced copy of a patient's EMR summary.
// It is replaced wholesale on every sync.
type HealthSnapshot struct {
	ID            uint                            `gorm:"primaryKey" json:"id"`
	DoctorEmail   string                          `gorm:"not null;uniqueIndex:idx_health_snapshots_doctor_patient" json:"doctor_email"`
	PatientEmail  string                          `gorm:"not null;uniqueIndex:idx_health_snapshots_doctor_patient;index" json:"patient_email"`
	MRN           string                          `gorm:"column:mrn;not null;default:''" json:"mrn"`
	PatientName   string                          `gorm:"not null;default:''" json:"patient_name"`
	PatientDOB    string                          `gorm:"column:patient_dob;not null;default:''" json:"patient_dob"`
	ClinicalNotes string                          `gorm:"type:text" json:"clinical_notes"` // stored encrypted
	Diagnoses     datatypes.JSONSlice[Diagnosis]  `gorm:"type:jsonb" json:"diagnoses"`
	Medications   datatypes.JSONSlice[Medication] `gorm:"type:jsonb" json:"medications"`
	Allergies     datatypes.JSONSlice[Allergy]    `gorm:"type:jsonb" json:"allergies"`
	LastSynced    time.Time                       `gorm:"not null" json:"last_synced"`
	CreatedAt     time.Time                       `json:"created_at"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

// BeforeSave encrypts the clinical notes.
func (h *HealthSnapshot) BeforeSave(tx *gorm.DB) error {
	if encryptor == nil {
		return nil
	}
	encrypted, err := encryptor.Encrypt(h.ClinicalNotes)
	if err != nil {
		return err
	}
	h.ClinicalNotes = encrypted
	return nil
}

// AfterSave restores the plaintext so callers keep working with it.
func (h *HealthSnapshot) AfterSave(tx *gorm.DB) error {
	return h.decrypt()
}

// AfterFind decrypts the clinical notes after loading from database.
func (h *HealthSnapshot) AfterFind(tx *gorm.DB) error {
	return h.decrypt()
}

func (h *HealthSnapshot) decrypt() error {
	if encryptor == nil {
		return nil
	}
	decrypted, err := encryptor.Decrypt(h.ClinicalNotes)
	if err != nil {
		return err
	}
	h.ClinicalNotes = decrypted
	return nil
}
