package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTokenClientID is the client whose resource_access roles are read
// when a token carries no realm roles
const DefaultTokenClientID = "sss-backend"

// TokenClaims mirrors the subset of an access token this service reads
type TokenClaims struct {
	PreferredUsername string                `json:"preferred_username"`
	Email             string                `json:"email"`
	Name              string                `json:"name"`
	RealmAccess       *RoleClaim            `json:"realm_access,omitempty"`
	ResourceAccess    map[string]*RoleClaim `json:"resource_access,omitempty"`
}

// RoleClaim is the {"roles": [...]} object used by realm_access and
// each resource_access entry
type RoleClaim struct {
	Roles []string `json:"roles"`
}

// Extractor turns token claims into Claims
type Extractor struct {
	clientID string
}

// NewExtractor creates an extractor that falls back to the roles of
// clientID. An empty clientID uses DefaultTokenClientID.
func NewExtractor(clientID string) *Extractor {
	if clientID == "" {
		clientID = DefaultTokenClientID
	}
	return &Extractor{clientID: clientID}
}

// ClientID returns the fallback client id
func (e *Extractor) ClientID() string {
	return e.clientID
}

// Extract builds Claims from decoded token claims. A missing or blank
// preferred_username fails with ErrMissingIdentity.
func (e *Extractor) Extract(tc *TokenClaims) (Claims, error) {
	if tc == nil {
		return Claims{}, ErrMissingIdentity
	}

	username := strings.TrimSpace(tc.PreferredUsername)
	if username == "" {
		return Claims{}, ErrMissingIdentity
	}

	return Claims{
		Username:    username,
		Email:       strings.TrimSpace(tc.Email),
		DisplayName: strings.TrimSpace(tc.Name),
		Roles:       e.roles(tc),
	}, nil
}

// ExtractJSON decodes a raw JSON claims payload and extracts Claims
func (e *Extractor) ExtractJSON(payload []byte) (Claims, error) {
	var tc TokenClaims
	if err := json.Unmarshal(payload, &tc); err != nil {
		return Claims{}, fmt.Errorf("failed to decode token claims: %w", err)
	}
	return e.Extract(&tc)
}

// roles reads realm roles first, then the configured client's roles.
// A present-but-empty realm_access.roles still counts as the realm source.
func (e *Extractor) roles(tc *TokenClaims) []string {
	if tc.RealmAccess != nil && tc.RealmAccess.Roles != nil {
		return dedupe(tc.RealmAccess.Roles)
	}
	if client, ok := tc.ResourceAccess[e.clientID]; ok && client != nil && client.Roles != nil {
		return dedupe(client.Roles)
	}
	return []string{}
}

func dedupe(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
