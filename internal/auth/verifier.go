package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Google's published signing keys and issuer.
const (
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

var (
	ErrInvalidCredential = errors.New("invalid identity credential")
	ErrEmailNotVerified  = errors.New("identity provider has not verified this email")
)

// Assertion is the identity carried by a verified ID token.
type Assertion struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Verifier checks an ID token's signature, issuer, audience and expiry.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*Assertion, error)
}

// OIDCVerifier verifies ID tokens with go-oidc.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewGoogleVerifier verifies Google ID tokens issued to clientID. Keys are
// fetched from Google's JWKS endpoint on first use and cached.
func NewGoogleVerifier(ctx context.Context, clientID string) *OIDCVerifier {
	keySet := oidc.NewRemoteKeySet(ctx, GoogleJWKSURL)
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(GoogleIssuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// NewStaticVerifier verifies tokens signed by one of keys.
func NewStaticVerifier(issuer, clientID string, keys ...crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verify returns the assertion carried by rawIDToken.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*Assertion, error) {
	token, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	var claims idTokenClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if claims.Email == "" {
		return nil, ErrMissingEmail
	}
	if !claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	return &Assertion{
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
