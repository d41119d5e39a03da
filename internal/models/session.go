package models

import "time"

// Session is an opaque login token with a fixed expiry. Rows are hard-deleted
// on logout, on expired reads and by the maintenance purge.
type Session struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"uniqueIndex;not null"`
	Email     string    `gorm:"not null;index"`
	Name      string    `gorm:"not null;default:''"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// Expired reports whether now is past the session's expiry. A session is
// still valid at exactly ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
