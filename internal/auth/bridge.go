package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"github.com/jimdaga/amma-portal/internal/session"
	"gorm.io/gorm"
)

var (
	ErrInvalidRole  = errors.New("role must be patient or doctor")
	ErrRoleMismatch = errors.New("account is registered with a different role")
	ErrMissingEmail = errors.New("identity assertion has no email")
)

const maxKeyAttempts = 5

// LoginResult is the outcome of a successful bridge login.
type LoginResult struct {
	User    *models.User
	Session *models.Session
	Created bool
}

// Bridge turns a verified identity assertion into a local user and session.
type Bridge struct {
	db       *gorm.DB
	sessions *session.Manager
	now      func() time.Time
	newKey   func() (string, error)
}

// NewBridge creates a Bridge.
func NewBridge(db *gorm.DB, sessions *session.Manager) *Bridge {
	return &Bridge{
		db:       db,
		sessions: sessions,
		now:      time.Now,
		newKey:   patientkey.Generate,
	}
}

// Login upserts the user for a and issues a session. Existing users keep
// their registered role. A patient's first login mints their patient key.
func (b *Bridge) Login(ctx context.Context, a Assertion, role string) (*LoginResult, error) {
	if role != models.RolePatient && role != models.RoleDoctor {
		return nil, ErrInvalidRole
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if a.Email == "" {
		return nil, ErrMissingEmail
	}

	user, created, err := b.upsertUser(ctx, a, role)
	if err != nil {
		return nil, err
	}

	if user.Role == models.RolePatient && user.PatientKey == nil {
		if err := b.assignPatientKey(ctx, user); err != nil {
			return nil, err
		}
	}

	name := a.Name
	if name == "" {
		name = user.DisplayName()
	}
	sess, err := b.sessions.Create(ctx, session.Identity{Email: user.Email, Name: name, Role: user.Role})
	if err != nil {
		return nil, err
	}

	slog.Info("User authenticated", "email", user.Email, "role", user.Role, "new_user", created)
	return &LoginResult{User: user, Session: sess, Created: created}, nil
}

func (b *Bridge) upsertUser(ctx context.Context, a Assertion, role string) (*models.User, bool, error) {
	db := b.db.WithContext(ctx)
	now := b.now().UTC()

	var user models.User
	err := db.Where("email = ?", a.Email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		first, last := models.SplitName(a.Name)
		user = models.User{
			Email:          a.Email,
			FirstName:      first,
			LastName:       last,
			Role:           role,
			ProfilePicture: a.Picture,
			LastLoginAt:    &now,
		}
		createErr := db.Create(&user).Error
		if createErr == nil {
			return &user, true, nil
		}
		// a concurrent first login may have inserted the row
		if err := db.Where("email = ?", a.Email).First(&user).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create user: %w", createErr)
		}
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	if user.Role != role {
		return nil, false, ErrRoleMismatch
	}

	updates := map[string]interface{}{"last_login_at": now}
	if user.ProfilePicture == "" && a.Picture != "" {
		updates["profile_picture"] = a.Picture
	}
	if err := db.Model(&user).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, false, nil
}

// assignPatientKey sets a fresh key on a patient that has none, retrying
// when a generated key collides with an existing one.
func (b *Bridge) assignPatientKey(ctx context.Context, user *models.User) error {
	db := b.db.WithContext(ctx)

	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := b.newKey()
		if err != nil {
			return err
		}

		result := db.Model(&models.User{}).
			Where("id = ? AND patient_key IS NULL", user.ID).
			Update("patient_key", key)
		if result.Error != nil {
			slog.Warn("Patient key collision, retrying", "attempt", attempt+1, "error", result.Error)
			continue
		}

		if result.RowsAffected == 0 {
			// another login assigned one first
			if err := db.First(user, user.ID).Error; err != nil {
				return fmt.Errorf("failed to reload user: %w", err)
			}
			return nil
		}

		user.PatientKey = &key
		return nil
	}

	return fmt.Errorf("failed to assign patient key after %d attempts", maxKeyAttempts)
}
