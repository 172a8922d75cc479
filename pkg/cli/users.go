package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"

	"github.com/platinummonkey/usersync/pkg/identity"
	"github.com/platinummonkey/usersync/pkg/reconcile"
)

func newListUsersCommand() *Command {
	cmd := &Command{
		Name:        "list-users",
		Description: "List local users",
		Flags:       flag.NewFlagSet("list-users", flag.ContinueOnError),
	}
	cmd.Flags.String("search", "", "Filter by username, email or display name")
	cmd.Run = func(env *Env, _ []string) error {
		path := "/api/admin/users"
		if search := cmd.Flags.Lookup("search").Value.String(); search != "" {
			path += "?search=" + url.QueryEscape(search)
		}

		var users []*identity.User
		if err := newAPIClient(env).do(context.Background(), "GET", path, nil, &users); err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(env.Out, "%-36s  %-20s  %-10s  %s\n", u.ID, u.Username, u.UserType, u.Email)
		}
		return nil
	}
	return cmd
}

func newGetUserCommand() *Command {
	cmd := &Command{
		Name:        "get-user",
		Description: "Show a local user",
		Flags:       flag.NewFlagSet("get-user", flag.ContinueOnError),
	}
	cmd.Flags.String("id", "", "User ID")
	cmd.Run = func(env *Env, _ []string) error {
		id, err := requireFlag(cmd, "id")
		if err != nil {
			return err
		}
		var user identity.User
		if err := newAPIClient(env).do(context.Background(), "GET", "/api/admin/users/"+url.PathEscape(id), nil, &user); err != nil {
			return err
		}
		return printJSON(env.Out, user)
	}
	return cmd
}

func newCreateUserCommand() *Command {
	cmd := &Command{
		Name:        "create-user",
		Description: "Create a user locally and in the identity provider",
		Flags:       flag.NewFlagSet("create-user", flag.ContinueOnError),
	}
	cmd.Flags.String("username", "", "Username")
	cmd.Flags.String("password", "", "Initial password")
	cmd.Flags.String("email", "", "Email address")
	cmd.Flags.String("full-name", "", "Full name")
	cmd.Flags.String("type", string(identity.UserTypeRealUser), "User type: REAL_USER, CHARACTER or ADMIN")
	cmd.Flags.String("character-name", "", "Character name, for CHARACTER users")
	cmd.Run = func(env *Env, _ []string) error {
		username, err := requireFlag(cmd, "username")
		if err != nil {
			return err
		}
		password, err := requireFlag(cmd, "password")
		if err != nil {
			return err
		}

		req := reconcile.CreateUserRequest{
			Username: username,
			Password: password,
			Email:    cmd.Flags.Lookup("email").Value.String(),
			FullName: cmd.Flags.Lookup("full-name").Value.String(),
			UserType: identity.UserType(cmd.Flags.Lookup("type").Value.String()),
		}
		req.CharacterName = cmd.Flags.Lookup("character-name").Value.String()

		var created reconcile.CreatedUser
		if err := newAPIClient(env).do(context.Background(), "POST", "/api/admin/users", req, &created); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Created %s (id %s, identity provider id %s)\n", created.User.Username, created.User.ID, created.IdPUserID)
		return nil
	}
	return cmd
}

func newDeleteUserCommand() *Command {
	cmd := &Command{
		Name:        "delete-user",
		Description: "Delete a user locally and in the identity provider",
		Flags:       flag.NewFlagSet("delete-user", flag.ContinueOnError),
	}
	cmd.Flags.String("id", "", "User ID")
	cmd.Run = func(env *Env, _ []string) error {
		id, err := requireFlag(cmd, "id")
		if err != nil {
			return err
		}
		if err := newAPIClient(env).do(context.Background(), "DELETE", "/api/admin/users/"+url.PathEscape(id), nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Deleted %s\n", id)
		return nil
	}
	return cmd
}
