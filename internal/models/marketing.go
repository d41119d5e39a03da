package models

import "time"

// DemoRequest is a landing page demo/waitlist signup.
type DemoRequest struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"not null;index"`
	Organization string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null"`
}

// ContactMessage is a contact form submission.
type ContactMessage struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	Email     string    `gorm:"not null"`
	Subject   string    `gorm:"not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
