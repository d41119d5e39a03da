package auth

import (
	"context"
	"fmt"
	"testing"

	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"github.com/jimdaga/amma-portal/internal/session"
	"github.com/jimdaga/amma-portal/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestBridge(t *testing.T) (*Bridge, *gorm.DB, *session.Manager) {
	t.Helper()
	db := testutil.NewDB(t)
	manager := session.NewManager(session.NewGormRepository(db), session.DefaultTTL)
	return NewBridge(db, manager), db, manager
}

var keisha = Assertion{
	Subject:       "1001",
	Email:         "Keisha.Washington@example.com",
	EmailVerified: true,
	Name:          "Keisha Washington",
	Picture:       "https://lh3.example.test/keisha.png",
}

func TestLoginCreatesPatientWithKey(t *testing.T) {
	b, db, manager := newTestBridge(t)

	result, err := b.Login(context.Background(), keisha, models.RolePatient)
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, "keisha.washington@example.com", result.User.Email)
	assert.Equal(t, "Keisha", result.User.FirstName)
	assert.Equal(t, "Washington", result.User.LastName)
	assert.True(t, patientkey.Valid(result.User.Key()))

	var stored models.User
	require.NoError(t, db.Where("email = ?", "keisha.washington@example.com").First(&stored).Error)
	assert.Equal(t, result.User.Key(), stored.Key())
	assert.NotNil(t, stored.LastLoginAt)

	s, err := manager.Lookup(context.Background(), result.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, "keisha.washington@example.com", s.Email)
	assert.Equal(t, models.RolePatient, s.Role)
}

func TestLoginKeepsExistingKey(t *testing.T) {
	b, _, _ := newTestBridge(t)

	first, err := b.Login(context.Background(), keisha, models.RolePatient)
	require.NoError(t, err)
	second, err := b.Login(context.Background(), keisha, models.RolePatient)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, first.User.Key(), second.User.Key())
	assert.NotEqual(t, first.Session.Token, second.Session.Token)
}

func TestLoginDoctorHasNoKey(t *testing.T) {
	b, _, _ := newTestBridge(t)

	result, err := b.Login(context.Background(), Assertion{Email: "dr.rao@example.com", Name: "Rao"}, models.RoleDoctor)
	require.NoError(t, err)

	assert.Nil(t, result.User.PatientKey)
	assert.Equal(t, "Rao", result.User.FirstName)
	assert.Equal(t, "Rao", result.User.LastName)
}

func TestLoginRoleMismatch(t *testing.T) {
	b, _, _ := newTestBridge(t)

	_, err := b.Login(context.Background(), Assertion{Email: "dr.rao@example.com", Name: "Asha Rao"}, models.RoleDoctor)
	require.NoError(t, err)

	_, err = b.Login(context.Background(), Assertion{Email: "dr.rao@example.com", Name: "Asha Rao"}, models.RolePatient)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestLoginValidatesInput(t *testing.T) {
	b, _, _ := newTestBridge(t)

	_, err := b.Login(context.Background(), keisha, "admin")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = b.Login(context.Background(), Assertion{Name: "No Email"}, models.RolePatient)
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestLoginRetriesKeyCollision(t *testing.T) {
	b, db, _ := newTestBridge(t)

	taken := "630651557"
	require.NoError(t, db.Create(&models.User{
		Email:      "anish.polakala@example.com",
		Role:       models.RolePatient,
		PatientKey: &taken,
	}).Error)

	keys := []string{taken, taken, "847291536"}
	calls := 0
	b.newKey = func() (string, error) {
		k := keys[calls]
		calls++
		return k, nil
	}

	result, err := b.Login(context.Background(), keisha, models.RolePatient)
	require.NoError(t, err)
	assert.Equal(t, "847291536", result.User.Key())
	assert.Equal(t, 3, calls)
}

func TestLoginGivesUpAfterRepeatedCollisions(t *testing.T) {
	b, db, _ := newTestBridge(t)

	taken := "630651557"
	require.NoError(t, db.Create(&models.User{
		Email:      "anish.polakala@example.com",
		Role:       models.RolePatient,
		PatientKey: &taken,
	}).Error)
	b.newKey = func() (string, error) { return taken, nil }

	_, err := b.Login(context.Background(), keisha, models.RolePatient)
	assert.ErrorContains(t, err, fmt.Sprintf("after %d attempts", maxKeyAttempts))
}
