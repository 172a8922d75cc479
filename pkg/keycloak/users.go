package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/platinummonkey/usersync/pkg/identity"
)

// FindUserByUsername returns the user whose username matches exactly
func (c *Client) FindUserByUsername(ctx context.Context, username string) (*identity.IdPUser, error) {
	return c.findUser(ctx, "username", username)
}

// FindUserByEmail returns the user whose email matches exactly
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*identity.IdPUser, error) {
	return c.findUser(ctx, "email", email)
}

func (c *Client) findUser(ctx context.Context, field, value string) (*identity.IdPUser, error) {
	query := url.Values{}
	query.Set(field, value)
	query.Set("exact", "true")

	var users []userRepresentation
	if _, err := c.do(ctx, http.MethodGet, "/users", query, nil, &users); err != nil {
		return nil, fmt.Errorf("failed to search users by %s: %w", field, err)
	}
	for i := range users {
		u := &users[i]
		candidate := u.Username
		if field == "email" {
			candidate = u.Email
		}
		if strings.EqualFold(candidate, value) {
			return u.toIdentity(), nil
		}
	}
	return nil, identity.ErrUserNotFound
}

// GetUser returns a user by id
func (c *Client) GetUser(ctx context.Context, id string) (*identity.IdPUser, error) {
	rep, err := c.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return rep.toIdentity(), nil
}

func (c *Client) getUser(ctx context.Context, id string) (*userRepresentation, error) {
	var rep userRepresentation
	_, err := c.do(ctx, http.MethodGet, userPath(id), nil, nil, &rep)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	return &rep, nil
}

// CreateUser creates an enabled user with a verified email and returns
// its id
func (c *Client) CreateUser(ctx context.Context, create identity.IdPUserCreate) (string, error) {
	rep := userRepresentation{
		Username:      create.Username,
		Email:         create.Email,
		FirstName:     create.FirstName,
		LastName:      create.LastName,
		Enabled:       true,
		EmailVerified: true,
		Attributes:    multiValued(create.Attributes),
	}

	header, err := c.do(ctx, http.MethodPost, "/users", nil, rep, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create user %q: %w", create.Username, onStatus(err, http.StatusConflict, identity.ErrUserExists))
	}

	id := path.Base(header.Get("Location"))
	if id == "" || id == "." || id == "/" {
		// fall back to a lookup when the Location header is missing
		u, err := c.FindUserByUsername(ctx, create.Username)
		if err != nil {
			return "", fmt.Errorf("failed to resolve id of created user %q: %w", create.Username, err)
		}
		id = u.ID
	}
	c.logger.WithFields(map[string]interface{}{"username": create.Username, "idp_user_id": id}).Info("created keycloak user")
	return id, nil
}

// UpdateUser reads the user, applies the update and writes the full
// representation back
func (c *Client) UpdateUser(ctx context.Context, id string, update identity.IdPUserUpdate) error {
	rep, err := c.getUser(ctx, id)
	if err != nil {
		return err
	}

	if update.Email != nil {
		rep.Email = *update.Email
	}
	if update.FirstName != nil {
		rep.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		rep.LastName = *update.LastName
	}
	if rep.Attributes == nil {
		rep.Attributes = make(map[string][]string, len(update.Attributes))
	}
	for k, v := range update.Attributes {
		if v == "" {
			delete(rep.Attributes, k)
			continue
		}
		rep.Attributes[k] = []string{v}
	}

	if _, err := c.do(ctx, http.MethodPut, userPath(id), nil, rep, nil); err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	return nil
}

// DeleteUser deletes a user by id
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if _, err := c.do(ctx, http.MethodDelete, userPath(id), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", id, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	return nil
}

// SetPassword replaces the user's password credential
func (c *Client) SetPassword(ctx context.Context, id, password string, temporary bool) error {
	cred := credentialRepresentation{Type: "password", Value: password, Temporary: temporary}
	if _, err := c.do(ctx, http.MethodPut, userPath(id, "/reset-password"), nil, cred, nil); err != nil {
		return fmt.Errorf("failed to set password for user %s: %w", id, onStatus(err, http.StatusNotFound, identity.ErrUserNotFound))
	}
	return nil
}

// ListUsers returns every user of the realm, one page at a time. The
// server may cap max below PageSize, so paging ends on an empty page.
func (c *Client) ListUsers(ctx context.Context) ([]*identity.IdPUser, error) {
	var out []*identity.IdPUser
	for first := 0; ; {
		query := url.Values{}
		query.Set("first", strconv.Itoa(first))
		query.Set("max", strconv.Itoa(c.config.PageSize))
		query.Set("briefRepresentation", "false")

		var page []userRepresentation
		if _, err := c.do(ctx, http.MethodGet, "/users", query, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		for i := range page {
			out = append(out, page[i].toIdentity())
		}
		first += len(page)
	}
}

func multiValued(attrs map[string]string) map[string][]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		if v != "" {
			out[k] = []string{v}
		}
	}
	return out
}
