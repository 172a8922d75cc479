package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// ErrUsage is returned when a command is invoked with missing arguments
var ErrUsage = errors.New("invalid usage")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(env *Env, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// Env carries what every command needs
type Env struct {
	Out    io.Writer
	Server string
	Token  string
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "usersync",
		Description: "usersync - administer local users and their identity provider records",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("usersync", flag.ContinueOnError),
	}
	root.Flags.String("server", getEnv("USERSYNC_SERVER", "http://localhost:8080"), "usersync API URL")
	root.Flags.String("token", os.Getenv("USERSYNC_TOKEN"), "Bearer token of an admin user")

	for _, cmd := range []*Command{
		newListUsersCommand(),
		newGetUserCommand(),
		newCreateUserCommand(),
		newDeleteUserCommand(),
		newTestIdPCommand(),
		newPushAllCommand(),
		newSyncStatusCommand(),
		newEnsureRolesCommand(),
		newPushUserCommand(),
		newAssignRoleCommand(),
		newUserRolesCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Stdout, os.Args[1:])
}

// ExecuteArgs parses the global flags, then dispatches to a subcommand
func (c *Command) ExecuteArgs(out io.Writer, args []string) error {
	c.Flags.SetOutput(out)
	if err := c.Flags.Parse(args); err != nil {
		return err
	}
	env := &Env{
		Out:    out,
		Server: c.Flags.Lookup("server").Value.String(),
		Token:  c.Flags.Lookup("token").Value.String(),
	}

	args = c.Flags.Args()
	if len(args) == 0 || args[0] == "help" {
		return c.usage(out)
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	subcmd.Flags.SetOutput(out)
	if err := subcmd.Flags.Parse(args[1:]); err != nil {
		return err
	}
	return subcmd.Run(env, subcmd.Flags.Args())
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s [--server URL] [--token TOKEN] <command> [flags]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// requireFlag fails with ErrUsage when a mandatory flag is empty
func requireFlag(cmd *Command, name string) (string, error) {
	value := cmd.Flags.Lookup(name).Value.String()
	if value == "" {
		return "", fmt.Errorf("%w: %s requires --%s", ErrUsage, cmd.Name, name)
	}
	return value, nil
}
