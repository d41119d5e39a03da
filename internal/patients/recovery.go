package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/gorm"
)

// RecoveryVideoURL is shown for every recovery checkpoint.
const RecoveryVideoURL = "/images/chatbot-diet-video.mp4"

// MaxRecoveryDay is the last day of the recovery plan.
const MaxRecoveryDay = 30

var milestoneDays = []int{1, 3, 5, 7, 10, 14, 17, 21, 24, 30}

var milestoneDescriptions = map[int]string{
	1:  "Initial assessment and care instructions",
	3:  "Early recovery progress check",
	5:  "Wound healing and medication review",
	7:  "First week milestone - mobility assessment",
	10: "Pain management and physical therapy",
	14: "Two-week checkup and activity guidance",
	17: "Mid-recovery wellness check",
	21: "Three-week progress and independence",
	24: "Advanced recovery exercises",
	30: "Final milestone and long-term care plan",
}

// Milestone is one checkpoint of the recovery plan.
type Milestone struct {
	Day         int    `json:"day"`
	Title       string `json:"title"`
	Description string `json:"description"`
	VideoURL    string `json:"video_url"`
	Locked      bool   `json:"locked"`
	Current     bool   `json:"current"`
}

// RecoveryPlan is the patient's checkpoint schedule.
type RecoveryPlan struct {
	CurrentDay int         `json:"current_day"`
	StartedAt  time.Time   `json:"started_at"`
	Milestones []Milestone `json:"milestones"`
}

// BuildRecoveryPlan lays out the milestones for a plan started at start.
// Day 1 is the start day; the plan stops advancing at MaxRecoveryDay.
func BuildRecoveryPlan(start, now time.Time) RecoveryPlan {
	day := int(now.Sub(start)/(24*time.Hour)) + 1
	if day < 1 {
		day = 1
	}
	if day > MaxRecoveryDay {
		day = MaxRecoveryDay
	}

	milestones := make([]Milestone, 0, len(milestoneDays))
	for _, d := range milestoneDays {
		milestones = append(milestones, Milestone{
			Day:         d,
			Title:       fmt.Sprintf("Day %d Recovery Checkpoint", d),
			Description: milestoneDescriptions[d],
			VideoURL:    RecoveryVideoURL,
			Locked:      d > day,
			Current:     d == day,
		})
	}

	return RecoveryPlan{CurrentDay: day, StartedAt: start, Milestones: milestones}
}

// RecoveryStart returns when the patient's recovery began: the time of
// their first video, or account creation when they have none.
func RecoveryStart(ctx context.Context, db *gorm.DB, patientEmail string) (time.Time, error) {
	db = db.WithContext(ctx)

	var first models.PatientFile
	err := db.Where("patient_email = ? AND kind = ?", patientEmail, models.FileKindVideo).
		Order("created_at ASC").
		First(&first).Error
	if err == nil {
		return first.CreatedAt, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, fmt.Errorf("failed to load first video: %w", err)
	}

	var user models.User
	if err := db.Where("email = ?", patientEmail).First(&user).Error; err != nil {
		return time.Time{}, fmt.Errorf("failed to load patient: %w", err)
	}
	return user.CreatedAt, nil
}
