package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/observability"
)

// Provisioner makes sure realm roles exist before they are assigned.
//
// It checks then creates, so two provisioners can both see a role as
// missing. The loser's create is rejected with identity.ErrRoleExists,
// which counts as success. Role creation is rare and admin triggered, so
// the race is accepted rather than serialized.
type Provisioner struct {
	roles  RoleDirectory
	config Config
	logger *observability.Logger
}

// NewProvisioner creates a role provisioner
func NewProvisioner(roles RoleDirectory, config Config, logger *observability.Logger) *Provisioner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Provisioner{
		roles:  roles,
		config: config.withDefaults(),
		logger: logger.WithField("component", "roles"),
	}
}

// EnsureRolesExist creates every role in required that the identity
// provider does not have. All roles are attempted; failures are joined.
func (p *Provisioner) EnsureRolesExist(ctx context.Context, required []string) error {
	var errs []error
	for _, name := range required {
		if name == "" {
			continue
		}
		if err := p.ensure(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("role %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// EnsureBaselineRoles ensures the configured required roles
func (p *Provisioner) EnsureBaselineRoles(ctx context.Context) error {
	return p.EnsureRolesExist(ctx, p.config.RequiredRoles)
}

func (p *Provisioner) ensure(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.IdPTimeout)
	defer cancel()

	_, err := p.roles.GetRealmRole(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, identity.ErrRoleNotFound) {
		return err
	}

	err = p.roles.CreateRealmRole(ctx, name, identity.RoleDescription)
	if errors.Is(err, identity.ErrRoleExists) {
		p.logger.WithField("role", name).Debug("role created concurrently")
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.WithField("role", name).Info("created realm role")
	return nil
}
