package keycloak

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// userRepresentation is the admin API user body
type userRepresentation struct {
	ID            string              `json:"id,omitempty"`
	Username      string              `json:"username,omitempty"`
	Email         string              `json:"email,omitempty"`
	FirstName     string              `json:"firstName,omitempty"`
	LastName      string              `json:"lastName,omitempty"`
	Enabled       bool                `json:"enabled"`
	EmailVerified bool                `json:"emailVerified"`
	Attributes    map[string][]string `json:"attributes,omitempty"`
}

func (u *userRepresentation) toIdentity() *identity.IdPUser {
	attrs := make(map[string]string, len(u.Attributes))
	for k, v := range u.Attributes {
		if len(v) > 0 {
			attrs[k] = v[0]
		}
	}
	return &identity.IdPUser{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Enabled:       u.Enabled,
		EmailVerified: u.EmailVerified,
		Attributes:    attrs,
	}
}

type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
}

func (r roleRepresentation) toIdentity() identity.Role {
	return identity.Role{ID: r.ID, Name: r.Name, Description: r.Description}
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

// APIError is a failed admin API call. Transport failures, rejected admin
// credentials and server errors match identity.ErrIdentityProviderUnavailable.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string

	// Err is the transport failure, nil when the server answered
	Err error

	kind error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("keycloak %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("keycloak %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("keycloak %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() []error {
	var errs []error
	if e.kind != nil {
		errs = append(errs, e.kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return identity.ErrIdentityProviderUnavailable
	case status >= 500:
		return identity.ErrIdentityProviderUnavailable
	}
	return nil
}
