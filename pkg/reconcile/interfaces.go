package reconcile

import (
	"context"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// UserStore persists local user records keyed by id and by username.
//
// Find methods return identity.ErrUserNotFound when nothing matches.
// Create is an atomic insert-if-absent and returns
// identity.ErrReconciliationConflict when the id or username is taken.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*identity.User, error)
	FindByUsername(ctx context.Context, username string) (*identity.User, error)
	FindByEmail(ctx context.Context, email string) (*identity.User, error)
	Create(ctx context.Context, user *identity.User) error
	Save(ctx context.Context, user *identity.User) (*identity.User, error)
	List(ctx context.Context) ([]*identity.User, error)
	Search(ctx context.Context, query string) ([]*identity.User, error)
	Delete(ctx context.Context, id string) error
}

// UserDirectory is the user half of the identity provider admin API
type UserDirectory interface {
	FindUserByUsername(ctx context.Context, username string) (*identity.IdPUser, error)
	FindUserByEmail(ctx context.Context, email string) (*identity.IdPUser, error)
	CreateUser(ctx context.Context, user identity.IdPUserCreate) (string, error)
	UpdateUser(ctx context.Context, id string, update identity.IdPUserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, password string, temporary bool) error
	ListUsers(ctx context.Context) ([]*identity.IdPUser, error)
}

// RoleDirectory is the realm-role half of the identity provider admin API
type RoleDirectory interface {
	ListRealmRoles(ctx context.Context) ([]identity.Role, error)
	GetRealmRole(ctx context.Context, name string) (*identity.Role, error)
	CreateRealmRole(ctx context.Context, name, description string) error
	AssignRealmRole(ctx context.Context, userID, role string) error
	RemoveRealmRole(ctx context.Context, userID, role string) error
	ListUserRealmRoles(ctx context.Context, userID string) ([]identity.Role, error)
}

// IdentityProvider is the full admin API consumed by this package
type IdentityProvider interface {
	UserDirectory
	RoleDirectory
	TestConnection(ctx context.Context) bool
}

// ReportArchiver stores the result of a bulk sweep
type ReportArchiver interface {
	ArchiveSweep(ctx context.Context, result *SweepResult) error
}
