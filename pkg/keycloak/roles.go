package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// ListRealmRoles lists every realm role
func (c *Client) ListRealmRoles(ctx context.Context) ([]identity.Role, error) {
	var reps []roleRepresentation
	if _, err := c.do(ctx, http.MethodGet, "/roles", nil, nil, &reps); err != nil {
		return nil, fmt.Errorf("failed to list realm roles: %w", err)
	}
	roles := make([]identity.Role, 0, len(reps))
	for _, r := range reps {
		roles = append(roles, r.toIdentity())
	}
	return roles, nil
}

// GetRealmRole returns a realm role by name. Found roles are cached.
func (c *Client) GetRealmRole(ctx context.Context, name string) (*identity.Role, error) {
	if role, ok := c.roles.Get(name); ok {
		return &role, nil
	}

	var rep roleRepresentation
	if _, err := c.do(ctx, http.MethodGet, rolePath(name), nil, nil, &rep); err != nil {
		return nil, fmt.Errorf("failed to get realm role %q: %w", name, onStatus(err, http.StatusNotFound, identity.ErrRoleNotFound))
	}
	role := rep.toIdentity()
	c.roles.Add(name, role)
	return &role, nil
}

// CreateRealmRole creates a realm role
func (c *Client) CreateRealmRole(ctx context.Context, name, description string) error {
	rep := roleRepresentation{Name: name, Description: description}
	if _, err := c.do(ctx, http.MethodPost, "/roles", nil, rep, nil); err != nil {
		return fmt.Errorf("failed to create realm role %q: %w", name, onStatus(err, http.StatusConflict, identity.ErrRoleExists))
	}
	c.logger.WithField("role", name).Info("created keycloak realm role")
	return nil
}

// GetOrCreateRealmRole returns the named role, creating it first when it
// does not exist
func (c *Client) GetOrCreateRealmRole(ctx context.Context, name, description string) (*identity.Role, error) {
	role, err := c.GetRealmRole(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, identity.ErrRoleNotFound) {
		return nil, err
	}
	if err := c.CreateRealmRole(ctx, name, description); err != nil && !errors.Is(err, identity.ErrRoleExists) {
		return nil, err
	}
	return c.GetRealmRole(ctx, name)
}

// AssignRealmRole adds a realm role mapping to the user
func (c *Client) AssignRealmRole(ctx context.Context, userID, roleName string) error {
	return c.changeRoleMapping(ctx, http.MethodPost, userID, roleName)
}

// RemoveRealmRole removes a realm role mapping from the user
func (c *Client) RemoveRealmRole(ctx context.Context, userID, roleName string) error {
	return c.changeRoleMapping(ctx, http.MethodDelete, userID, roleName)
}

func (c *Client) changeRoleMapping(ctx context.Context, method, userID, roleName string) error {
	role, err := c.GetRealmRole(ctx, roleName)
	if err != nil {
		return err
	}
	body := []roleRepresentation{{ID: role.ID, Name: role.Name}}
	if _, err := c.do(ctx, method, userPath(userID, "/role-mappings/realm"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to change role %q of user %s: %w", roleName, userID, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	return nil
}

// ListUserRealmRoles lists the realm roles directly mapped to the user
func (c *Client) ListUserRealmRoles(ctx context.Context, userID string) ([]identity.Role, error) {
	var reps []roleRepresentation
	if _, err := c.do(ctx, http.MethodGet, userPath(userID, "/role-mappings/realm"), nil, nil, &reps); err != nil {
		return nil, fmt.Errorf("failed to list roles of user %s: %w", userID, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	roles := make([]identity.Role, 0, len(reps))
	for _, r := range reps {
		roles = append(roles, r.toIdentity())
	}
	return roles, nil
}
