package emr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jimdaga/amma-portal/internal/models"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var (
	ErrNotConfigured = errors.New("EMR connection is not configured")
	ErrStateMismatch = errors.New("EMR authorization state mismatch")
	ErrMissingCode   = errors.New("EMR authorization code missing")
)

// ConnectorConfig holds the SMART on FHIR client settings.
type ConnectorConfig struct {
	ClientID    string
	AuthURL     string
	TokenURL    string
	RedirectURL string
	FHIRBase    string
	Scopes      []string
}

// Connector runs the EMR authorization flow for doctors. The code exchange
// is simulated: a valid callback marks the doctor as connected.
type Connector struct {
	oauth    *oauth2.Config
	fhirBase string
	db       *gorm.DB
	now      func() time.Time
}

// NewConnector creates a Connector. It returns nil when no client ID is set.
func NewConnector(db *gorm.DB, cfg ConnectorConfig) *Connector {
	if cfg.ClientID == "" {
		return nil
	}
	return &Connector{
		oauth: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		fhirBase: cfg.FHIRBase,
		db:       db,
		now:      time.Now,
	}
}

// NewState returns a random state value for one authorization attempt.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AuthCodeURL returns the URL the doctor is sent to. The FHIR base is passed
// as the audience.
func (c *Connector) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("aud", c.fhirBase))
}

// Complete validates the callback and records the connection.
func (c *Connector) Complete(ctx context.Context, doctorEmail, code, state, expectedState string) (time.Time, error) {
	if expectedState == "" || state != expectedState {
		return time.Time{}, ErrStateMismatch
	}
	if code == "" {
		return time.Time{}, ErrMissingCode
	}

	now := c.now().UTC()
	if err := c.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND role = ?", doctorEmail, models.RoleDoctor).
		Update("emr_connected_at", now).Error; err != nil {
		return time.Time{}, fmt.Errorf("failed to record EMR connection: %w", err)
	}
	return now, nil
}

// ConnectedAt returns when the doctor connected their EMR, or nil.
func ConnectedAt(ctx context.Context, db *gorm.DB, doctorEmail string) (*time.Time, error) {
	var user models.User
	if err := db.WithContext(ctx).Select("emr_connected_at").
		Where("email = ?", doctorEmail).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to load EMR status: %w", err)
	}
	return user.EMRConnectedAt, nil
}

// Disconnect clears the doctor's connection.
func Disconnect(ctx context.Context, db *gorm.DB, doctorEmail string) error {
	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", doctorEmail).
		Update("emr_connected_at", nil).Error; err != nil {
		return fmt.Errorf("failed to clear EMR connection: %w", err)
	}
	return nil
}
