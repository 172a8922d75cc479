package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/usersync/pkg/reconcile"
)

func newTestIdPCommand() *Command {
	return &Command{
		Name:        "test-idp",
		Description: "Check that the server can reach the identity provider",
		Flags:       flag.NewFlagSet("test-idp", flag.ContinueOnError),
		Run: func(env *Env, _ []string) error {
			var resp struct {
				Connected bool `json:"connected"`
			}
			if err := newAPIClient(env).do(context.Background(), "GET", "/api/admin/sync/test-idp", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "Identity provider reachable")
			return nil
		},
	}
}

func newPushAllCommand() *Command {
	return &Command{
		Name:        "push-all",
		Description: "Push every local user to the identity provider",
		Flags:       flag.NewFlagSet("push-all", flag.ContinueOnError),
		Run: func(env *Env, _ []string) error {
			var result reconcile.SweepResult
			if err := newAPIClient(env).do(context.Background(), "POST", "/api/admin/sync/push-all", nil, &result); err != nil {
				return err
			}
			printSweep(env, &result)
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d users failed to push", result.Failed, result.Total)
			}
			return nil
		},
	}
}

func newSyncStatusCommand() *Command {
	return &Command{
		Name:        "sync-status",
		Description: "Show identity provider connectivity and the last sweep",
		Flags:       flag.NewFlagSet("sync-status", flag.ContinueOnError),
		Run: func(env *Env, _ []string) error {
			var status reconcile.SyncStatus
			if err := newAPIClient(env).do(context.Background(), "GET", "/api/admin/sync/status", nil, &status); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Connected:        %t\n", status.Connected)
			fmt.Fprintf(env.Out, "Local users:      %d\n", status.LocalUsers)
			fmt.Fprintf(env.Out, "Provider users:   %d\n", status.IdPUserCount)
			if status.LastSweep != nil {
				printSweep(env, status.LastSweep)
			}
			return nil
		},
	}
}

func newEnsureRolesCommand() *Command {
	return &Command{
		Name:        "ensure-roles",
		Description: "Create any missing realm roles",
		Flags:       flag.NewFlagSet("ensure-roles", flag.ContinueOnError),
		Run: func(env *Env, _ []string) error {
			if err := newAPIClient(env).do(context.Background(), "POST", "/api/admin/sync/roles/ensure", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "Roles ensured")
			return nil
		},
	}
}

func newPushUserCommand() *Command {
	cmd := &Command{
		Name:        "push-user",
		Description: "Push one local user to the identity provider",
		Flags:       flag.NewFlagSet("push-user", flag.ContinueOnError),
	}
	cmd.Flags.String("username", "", "Username")
	cmd.Run = func(env *Env, _ []string) error {
		username, err := requireFlag(cmd, "username")
		if err != nil {
			return err
		}
		path := "/api/admin/sync/user/" + url.PathEscape(username) + "/push"
		if err := newAPIClient(env).do(context.Background(), "POST", path, nil, nil); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Pushed %s\n", username)
		return nil
	}
	return cmd
}

func newAssignRoleCommand() *Command {
	cmd := &Command{
		Name:        "assign-role",
		Description: "Assign a realm role to a user in the identity provider",
		Flags:       flag.NewFlagSet("assign-role", flag.ContinueOnError),
	}
	cmd.Flags.String("username", "", "Username")
	cmd.Flags.String("role", "", "Realm role name")
	cmd.Run = func(env *Env, _ []string) error {
		username, err := requireFlag(cmd, "username")
		if err != nil {
			return err
		}
		role, err := requireFlag(cmd, "role")
		if err != nil {
			return err
		}

		path := "/api/admin/sync/user/" + url.PathEscape(username) + "/assign-role/" + url.PathEscape(role)
		var roles reconcile.UserRoles
		if err := newAPIClient(env).do(context.Background(), "POST", path, nil, &roles); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s: %s\n", roles.Username, strings.Join(roles.Roles, ", "))
		return nil
	}
	return cmd
}

func newUserRolesCommand() *Command {
	cmd := &Command{
		Name:        "user-roles",
		Description: "List a user's realm roles in the identity provider",
		Flags:       flag.NewFlagSet("user-roles", flag.ContinueOnError),
	}
	cmd.Flags.String("username", "", "Username")
	cmd.Run = func(env *Env, _ []string) error {
		username, err := requireFlag(cmd, "username")
		if err != nil {
			return err
		}

		var roles reconcile.UserRoles
		if err := newAPIClient(env).do(context.Background(), "GET", "/api/admin/sync/user/"+url.PathEscape(username)+"/roles", nil, &roles); err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "%s: %s\n", roles.Username, strings.Join(roles.Roles, ", "))
		return nil
	}
	return cmd
}

func printSweep(env *Env, r *reconcile.SweepResult) {
	fmt.Fprintf(env.Out, "Sweep %s (%s): %d succeeded, %d failed, %d skipped in %s\n",
		r.ID, r.Trigger, r.Succeeded, r.Failed, r.Skipped, r.Duration())
	for _, f := range r.Failures {
		fmt.Fprintf(env.Out, "  %s: %s\n", f.Username, f.Error)
	}
}
