package database

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/gorm"
)

// DevDoctorEmail is the doctor account created by SeedDevData.
const DevDoctorEmail = "dev.doctor@amma.local"

type seedPatient struct {
	email string
	first string
	last  string
	key   string
}

// Demo patients match the records known to the demo EMR.
var seedPatients = []seedPatient{
	{"anish.polakala@example.com", "Anish", "Polakala", "630651557"},
	{"keisha.washington@example.com", "Keisha", "Washington", "847291536"},
	{"meilin.zhang@example.com", "Mei Lin", "Zhang", "562839147"},
	{"jamal.thompson@example.com", "Jamal", "Thompson", "391847562"},
	{"priya.sharma@example.com", "Priya", "Sharma", "725183946"},
}

// SeedDevData populates the database with a demo doctor, demo patients and
// roster links. Idempotent: skips if the dev doctor already exists.
func SeedDevData(db *gorm.DB) error {
	var existing models.User
	err := db.Where("email = ?", DevDoctorEmail).First(&existing).Error
	if err == nil {
		slog.Info("Seed data already exists, skipping")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check seed data: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		doctor := models.User{
			Email:      DevDoctorEmail,
			FirstName:  "Dev",
			LastName:   "Doctor",
			Role:       models.RoleDoctor,
			ClinicName: "Amma Demo Clinic",
		}
		if err := tx.Create(&doctor).Error; err != nil {
			return err
		}

		for _, p := range seedPatients {
			key := p.key
			patient := models.User{
				Email:      p.email,
				FirstName:  p.first,
				LastName:   p.last,
				Role:       models.RolePatient,
				PatientKey: &key,
			}
			if err := tx.Where("email = ?", p.email).FirstOrCreate(&patient).Error; err != nil {
				return err
			}

			link := models.DoctorPatient{
				DoctorEmail:  DevDoctorEmail,
				PatientEmail: p.email,
				PatientKey:   p.key,
			}
			if err := tx.Where("doctor_email = ? AND patient_email = ?", DevDoctorEmail, p.email).
				FirstOrCreate(&link).Error; err != nil {
				return err
			}
		}

		slog.Info("Seeded dev data", "doctor", DevDoctorEmail, "patients", len(seedPatients))
		return nil
	})
}
