package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingIdentity is returned when a token carries no usable username
	ErrMissingIdentity = errors.New("token has no preferred_username")

	// ErrReconciliationConflict is returned when the store rejects a
	// duplicate-key insert. Callers re-read instead of re-creating.
	ErrReconciliationConflict = errors.New("reconciliation conflict")

	// ErrIdentityProviderUnavailable is returned when an identity provider
	// call fails at the transport, authentication or server level
	ErrIdentityProviderUnavailable = errors.New("identity provider unavailable")

	// ErrUserNotFound is returned when a user does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists is returned when a username or email is already taken
	ErrUserExists = errors.New("user already exists")

	// ErrRoleNotFound is returned when a realm role does not exist
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleExists is returned when creating a realm role that exists
	ErrRoleExists = errors.New("role already exists")

	// ErrInvalidRequest is returned for administrative input that fails validation
	ErrInvalidRequest = errors.New("invalid request")
)

// UserError records a failed operation together with the user it targeted
type UserError struct {
	Op       string
	Username string
	Err      error
}

func (e *UserError) Error() string {
	if e.Username == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Username, e.Err)
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError wraps err with the operation and username it applies to
func NewUserError(op, username string, err error) error {
	if err == nil {
		return nil
	}
	return &UserError{Op: op, Username: username, Err: err}
}

// IsMissingIdentity reports whether err is a missing identity error
func IsMissingIdentity(err error) bool {
	return errors.Is(err, ErrMissingIdentity)
}

// IsConflict reports whether err is a reconciliation conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrReconciliationConflict)
}

// IsNotFound reports whether err is a user not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsUnavailable reports whether err is an identity provider outage
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrIdentityProviderUnavailable)
}
