package keycloak

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// ErrInvalidToken is returned when a bearer token fails verification
var ErrInvalidToken = errors.New("invalid bearer token")

// VerifierConfig configures bearer token verification
type VerifierConfig struct {
	// IssuerURL is the realm issuer, e.g. https://sso.example.com/realms/app
	IssuerURL string

	// Audience is checked against the aud claim when set. Keycloak access
	// tokens usually carry "account", so it is empty by default.
	Audience string

	// TokenClientID selects resource_access roles when realm roles are absent
	TokenClientID string
}

// Verifier validates bearer tokens against the realm's published keys and
// extracts identity claims from them
type Verifier struct {
	verifier  *oidc.IDTokenVerifier
	extractor *identity.Extractor
}

// NewVerifier discovers the realm's OIDC configuration
func NewVerifier(ctx context.Context, config VerifierConfig) (*Verifier, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:          config.Audience,
		SkipClientIDCheck: config.Audience == "",
	})

	return &Verifier{
		verifier:  verifier,
		extractor: identity.NewExtractor(config.TokenClientID),
	}, nil
}

// Verify checks the token signature, issuer and expiry and returns the
// claims it carries
func (v *Verifier) Verify(ctx context.Context, rawToken string) (identity.Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return identity.Claims{}, ErrInvalidToken
	}

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return identity.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var tc identity.TokenClaims
	if err := token.Claims(&tc); err != nil {
		return identity.Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return v.extractor.Extract(&tc)
}
