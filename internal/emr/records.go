// Package emr syncs patient health summaries from the clinic's EMR into
// health snapshots. The EMR is simulated with demo records.
package emr

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
)

//go:embed demo_records.json
var demoRecordsJSON []byte

// Record is a patient summary as returned by the EMR.
type Record struct {
	MRN           string              `json:"mrn"`
	PatientName   string              `json:"patient_name"`
	PatientDOB    string              `json:"patient_dob"`
	ClinicalNotes string              `json:"clinical_notes"`
	Diagnoses     []models.Diagnosis  `json:"diagnoses"`
	Medications   []models.Medication `json:"medications"`
	Allergies     []models.Allergy    `json:"allergies"`
}

type matcher struct {
	id          string
	emailTokens []string
	nameTokens  []string
}

// Checked in order; the first match wins.
var matchers = []matcher{
	{"anish", []string{"anish"}, []string{"anish"}},
	{"keisha", []string{"keisha"}, []string{"keisha", "washington"}},
	{"meilin", []string{"meilin", "mei"}, []string{"mei", "zhang"}},
	{"jamal", []string{"jamal"}, []string{"jamal", "thompson"}},
	{"priya", []string{"priya"}, []string{"priya", "sharma"}},
}

// DemoDirectory serves the built-in demo records.
type DemoDirectory struct {
	records map[string]Record
}

// NewDemoDirectory loads the embedded demo records.
func NewDemoDirectory() (*DemoDirectory, error) {
	var records map[string]Record
	if err := json.Unmarshal(demoRecordsJSON, &records); err != nil {
		return nil, fmt.Errorf("failed to parse demo records: %w", err)
	}
	if _, ok := records["default"]; !ok {
		return nil, fmt.Errorf("demo records have no default entry")
	}
	return &DemoDirectory{records: records}, nil
}

// Lookup returns the record matching the patient's email or name by
// substring. Unknown patients get a new-patient record.
func (d *DemoDirectory) Lookup(email, name string, now time.Time) Record {
	e := strings.ToLower(email)
	n := strings.ToLower(name)

	for _, m := range matchers {
		if containsAny(e, m.emailTokens) || containsAny(n, m.nameTokens) {
			if r, ok := d.records[m.id]; ok {
				return r
			}
		}
	}

	r := d.records["default"]
	r.PatientName = name
	if r.PatientName == "" {
		r.PatientName = "Patient, Unknown"
	}
	millis := fmt.Sprintf("%d", now.UnixMilli())
	r.MRN = "MRN-" + millis[len(millis)-7:]
	return r
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
