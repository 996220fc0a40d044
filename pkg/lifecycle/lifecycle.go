// Package lifecycle runs the application's own tooling around an update:
// toggling maintenance mode, installing dependencies, clearing caches and
// migrating the database.
package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/safiul0073/CodeLift/pkg/config"
	"github.com/safiul0073/CodeLift/pkg/errors"
)

// Gate takes the application offline while it's being updated. Both methods
// must be safe to call more than once.
type Gate interface {
	EnterMaintenance(ctx context.Context, secret string) error
	ExitMaintenance(ctx context.Context) error
}

// PostSteps bring the rest of the application in line with newly installed
// code.
type PostSteps interface {
	InstallDependencies(ctx context.Context) error
	ClearCaches(ctx context.Context) error
	RunMigrations(ctx context.Context, force bool) error
}

// Mocked for unit testing.
var (
	runCommand = func(cmd *exec.Cmd) ([]byte, error) { return cmd.CombinedOutput() }
	lookPath   = exec.LookPath
)

// maxOutputInError is how much of a failed command's output is included in
// the returned error.
const maxOutputInError = 2048

// Commands implements Gate and PostSteps by running the configured commands
// from the installation root.
type Commands struct {
	dir      string
	commands config.Commands
}

// NewCommands creates a Commands that runs `commands` from `dir`.
func NewCommands(dir string, commands config.Commands) Commands {
	return Commands{dir: dir, commands: commands}
}

// EnterMaintenance puts the application into maintenance mode. `secret`
// lets the operator bypass the maintenance page.
func (c Commands) EnterMaintenance(ctx context.Context, secret string) error {
	args := make([]string, 0, len(c.commands.EnterMaintenance))
	for _, arg := range c.commands.EnterMaintenance {
		args = append(args, strings.ReplaceAll(arg, config.SecretPlaceholder, secret))
	}
	return c.run(ctx, "enter maintenance", args)
}

// ExitMaintenance brings the application back online.
func (c Commands) ExitMaintenance(ctx context.Context) error {
	return c.run(ctx, "exit maintenance", c.commands.ExitMaintenance)
}

// InstallDependencies installs the release's dependencies. It's skipped if
// the dependency manager isn't installed.
func (c Commands) InstallDependencies(ctx context.Context) error {
	args := c.commands.InstallDependencies
	if len(args) == 0 {
		return nil
	}

	if _, err := lookPath(args[0]); err != nil {
		log.WithField("command", args[0]).
			Warn("Dependency manager not found. Skipping dependency installation.")
		return nil
	}
	return c.run(ctx, "install dependencies", args)
}

// ClearCaches clears the application's caches.
func (c Commands) ClearCaches(ctx context.Context) error {
	return c.run(ctx, "clear caches", c.commands.ClearCaches)
}

// RunMigrations migrates the database. `force` allows migrations to run in
// production environments.
func (c Commands) RunMigrations(ctx context.Context, force bool) error {
	args := append([]string{}, c.commands.Migrate...)
	if force && len(args) != 0 && !contains(args, "--force") {
		args = append(args, "--force")
	}
	return c.run(ctx, "run migrations", args)
}

func (c Commands) run(ctx context.Context, step string, args []string) error {
	if len(args) == 0 {
		log.WithField("step", step).Debug("No command configured. Skipping.")
		return nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.dir

	log.WithField("step", step).
		WithField("command", redact(args)).
		Info("Running command")
	output, err := runCommand(cmd)
	if err != nil {
		out := strings.TrimSpace(string(output))
		if len(out) > maxOutputInError {
			out = "..." + out[len(out)-maxOutputInError:]
		}
		if out != "" {
			err = fmt.Errorf("%s\n%s", err, out)
		}
		return errors.WithContext(err, step)
	}
	return nil
}

// redact hides values passed with a `--secret` flag from the logs.
func redact(args []string) []string {
	redacted := make([]string, len(args))
	for i, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--secret="):
			redacted[i] = "--secret=***"
		case i > 0 && args[i-1] == "--secret":
			redacted[i] = "***"
		default:
			redacted[i] = arg
		}
	}
	return redacted
}

func contains(slc []string, s string) bool {
	for _, x := range slc {
		if x == s {
			return true
		}
	}
	return false
}
